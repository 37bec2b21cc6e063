package analyzer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
)

var (
	// jsonBlockPattern matches JSON inside markdown code fences.
	jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	// jsonObjectPattern is the greedy fallback for a bare object.
	jsonObjectPattern    = regexp.MustCompile(`(?s)\{.*\}`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// Parsed holds the fields read from a service response.
type Parsed struct {
	Functionality      string
	UsageGuidelines    string
	UserFeedback       indicator.Feedback
	AdditionalInsights string
	Profitability      int
	Reliability        int
}

type wireResponse struct {
	Functionality      string          `json:"indicator_functionality"`
	UsageGuidelines    string          `json:"usage_guidelines"`
	UserFeedback       json.RawMessage `json:"user_feedback"`
	AdditionalInsights string          `json:"additional_insights"`
	Ratings            *struct {
		Profitability *float64 `json:"profitability"`
		Reliability   *float64 `json:"reliability"`
	} `json:"ratings"`
}

// ParseResponse extracts the analysis object from free-form model output.
// Ratings must be present and integral; range checks happen on the record.
func ParseResponse(content string) (Parsed, error) {
	raw := extractJSON(content)
	if raw == "" {
		return Parsed{}, errors.New("response contains no JSON object")
	}
	var w wireResponse
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Parsed{}, fmt.Errorf("decode analysis response: %w", err)
	}
	if w.Ratings == nil {
		return Parsed{}, errors.New("response is missing ratings")
	}
	profitability, err := ratingValue("profitability", w.Ratings.Profitability)
	if err != nil {
		return Parsed{}, err
	}
	reliability, err := ratingValue("reliability", w.Ratings.Reliability)
	if err != nil {
		return Parsed{}, err
	}
	feedback, err := parseFeedback(w.UserFeedback)
	if err != nil {
		return Parsed{}, err
	}
	return Parsed{
		Functionality:      strings.TrimSpace(w.Functionality),
		UsageGuidelines:    strings.TrimSpace(w.UsageGuidelines),
		UserFeedback:       feedback,
		AdditionalInsights: strings.TrimSpace(w.AdditionalInsights),
		Profitability:      profitability,
		Reliability:        reliability,
	}, nil
}

func ratingValue(name string, v *float64) (int, error) {
	if v == nil {
		return 0, fmt.Errorf("response is missing %s rating", name)
	}
	if *v != math.Trunc(*v) {
		return 0, &indicator.ValidationError{Field: name + "_rating", Value: *v, Reason: "must be an integer"}
	}
	// Out-of-range values are kept so ValidateRatings rejects them.
	return int(*v), nil
}

// parseFeedback accepts the structured form or a plain summary string.
func parseFeedback(raw json.RawMessage) (indicator.Feedback, error) {
	fb := indicator.Feedback{Positive: []string{}, Negative: []string{}}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fb, nil
	}
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &fb.Summary); err != nil {
			return fb, fmt.Errorf("decode user_feedback: %w", err)
		}
		return fb, nil
	}
	if err := json.Unmarshal(raw, &fb); err != nil {
		return fb, fmt.Errorf("decode user_feedback: %w", err)
	}
	if fb.Positive == nil {
		fb.Positive = []string{}
	}
	if fb.Negative == nil {
		fb.Negative = []string{}
	}
	return fb, nil
}

func extractJSON(content string) string {
	var raw string
	if m := jsonBlockPattern.FindStringSubmatch(content); len(m) > 1 {
		raw = m[1]
	} else {
		raw = jsonObjectPattern.FindString(content)
	}
	if raw == "" {
		return ""
	}
	return trailingCommaPattern.ReplaceAllString(raw, "$1")
}
