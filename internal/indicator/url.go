package indicator

import (
	"net/url"
	"strings"
)

// DefaultURLPrefix is the only identifier family accepted by default.
const DefaultURLPrefix = "https://www.tradingview.com/script/"

// Validator checks identifiers against a scheme and path-prefix rule.
type Validator struct {
	prefixes []string
}

// NewValidator builds a Validator accepting the given prefixes. With no
// prefixes it falls back to DefaultURLPrefix.
func NewValidator(prefixes ...string) Validator {
	cleaned := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		cleaned = []string{DefaultURLPrefix}
	}
	return Validator{prefixes: cleaned}
}

// Validate trims whitespace and returns the identifier if it is an https URL
// with a host that starts with one of the accepted prefixes. Identifiers are
// case-sensitive and are not otherwise normalized.
func (v Validator) Validate(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", &ValidationError{Field: "url", Reason: "is required"}
	}
	u, err := url.Parse(id)
	if err != nil {
		return "", &ValidationError{Field: "url", Value: id, Reason: "is not a valid URL"}
	}
	if u.Scheme != "https" || u.Host == "" {
		return "", &ValidationError{Field: "url", Value: id, Reason: "must be an absolute https URL"}
	}
	prefixes := v.prefixes
	if len(prefixes) == 0 {
		prefixes = []string{DefaultURLPrefix}
	}
	for _, p := range prefixes {
		if strings.HasPrefix(id, p) && len(id) > len(p) {
			return id, nil
		}
	}
	return "", &ValidationError{
		Field:  "url",
		Value:  id,
		Reason: "must be a script URL (" + strings.Join(prefixes, ", ") + "...)",
	}
}
