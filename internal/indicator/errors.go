package indicator

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across stores and the input list.
var (
	ErrNotFound      = errors.New("indicator not found")
	ErrAlreadyExists = errors.New("this URL already exists in the list")
	ErrNoRecords     = errors.New("no indicators to export")
)

// ValidationError rejects malformed input before any side effect.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// FetchErrorKind classifies why a fetch produced no record.
type FetchErrorKind string

// Fetch failure classes.
const (
	FetchHTTPStatus FetchErrorKind = "http_status"
	FetchTimeout    FetchErrorKind = "timeout"
	FetchConnection FetchErrorKind = "connection"
	FetchParse      FetchErrorKind = "parse"
)

// FetchError is returned when a page could not be retrieved. Parse errors
// are only ever logged as field-level warnings; they never abort a fetch.
type FetchError struct {
	URL        string
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTPStatus {
		return fmt.Sprintf("fetch %s: HTTP status code %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s error: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// AnalysisError wraps any transport or parsing failure of the analysis service.
type AnalysisError struct {
	URL string
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyze %s: %v", e.URL, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// PersistenceError reports a failed store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
