package indicator

import (
	"encoding/json"
	"strings"
	"time"
)

// Sentinel values substituted when a field cannot be extracted from a page.
const (
	UnknownTitle       = "Unknown Indicator"
	UnknownDescription = "No description available"
)

// Rating bounds shared by every persisted analysis.
const (
	MinRating = 0
	MaxRating = 10
)

// MaxPromptComments bounds how many comments are sent to the analysis service.
const MaxPromptComments = 10

// FetchedRecord is the transient result of fetching one identifier.
type FetchedRecord struct {
	URL         string   `json:"url"`
	Title       string   `json:"name"`
	Description string   `json:"description"`
	Comments    []string `json:"comments"`
}

// Feedback is the synthesized user feedback of an analysis.
type Feedback struct {
	Positive []string `json:"positive"`
	Negative []string `json:"negative"`
	Summary  string   `json:"summary,omitempty"`
}

// AnalysisRecord is the persisted analysis of one identifier. URL is the
// natural key; at most one record exists per URL.
type AnalysisRecord struct {
	ID                  int64           `json:"id,omitempty"`
	URL                 string          `json:"url"`
	Title               string          `json:"name"`
	Description         string          `json:"description"`
	Functionality       string          `json:"functionality"`
	UsageGuidelines     string          `json:"usage_guidelines"`
	UserFeedback        Feedback        `json:"user_feedback"`
	AdditionalInsights  string          `json:"additional_insights"`
	ProfitabilityRating int             `json:"profitability_rating"`
	ReliabilityRating   int             `json:"reliability_rating"`
	Placeholder         bool            `json:"placeholder"`
	RawData             json.RawMessage `json:"raw_data,omitempty"`
	AnalyzedAt          time.Time       `json:"analyzed_date"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// ValidateRatings rejects ratings outside [MinRating, MaxRating].
func (r AnalysisRecord) ValidateRatings() error {
	if err := validateRating("profitability_rating", r.ProfitabilityRating); err != nil {
		return err
	}
	return validateRating("reliability_rating", r.ReliabilityRating)
}

// Validate checks every invariant a record must satisfy before persistence.
func (r AnalysisRecord) Validate() error {
	if r.URL == "" {
		return &ValidationError{Field: "url", Reason: "is required"}
	}
	return r.ValidateRatings()
}

func validateRating(field string, v int) error {
	if v < MinRating || v > MaxRating {
		return &ValidationError{Field: field, Value: v, Reason: "must be between 0 and 10"}
	}
	return nil
}

// LogStatus is the outcome recorded in the analysis audit trail.
type LogStatus string

// Audit trail statuses.
const (
	LogSuccess LogStatus = "success"
	LogFailure LogStatus = "failure"
)

// AnalysisLog is one append-only audit entry for a processed identifier.
type AnalysisLog struct {
	ID            int64     `json:"id,omitempty"`
	URL           string    `json:"url"`
	Status        LogStatus `json:"status"`
	Stage         Stage     `json:"stage"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	ExecutionTime float64   `json:"execution_time"`
	LoggedAt      time.Time `json:"created_at"`
}

// Stage is a state of the per-identifier pipeline.
type Stage string

// Pipeline states. Rejected marks an identifier that failed validation and
// was never fetched. Persisted is the only successful terminal state.
const (
	StagePending        Stage = "pending"
	StageRejected       Stage = "rejected"
	StageFetching       Stage = "fetching"
	StageFetched        Stage = "fetched"
	StageFetchFailed    Stage = "fetch_failed"
	StageAnalyzing      Stage = "analyzing"
	StageAnalyzed       Stage = "analyzed"
	StageAnalysisFailed Stage = "analysis_failed"
	StagePersistFailed  Stage = "persist_failed"
	StagePersisted      Stage = "persisted"
)

// Terminal reports whether no further transition follows s.
func (s Stage) Terminal() bool {
	switch s {
	case StageRejected, StageFetchFailed, StageAnalysisFailed, StagePersistFailed, StagePersisted:
		return true
	default:
		return false
	}
}

// SearchFilters are AND-composed; zero values disable a filter.
type SearchFilters struct {
	Query            string
	MinProfitability *int
	MinReliability   *int
	CreatedFrom      *time.Time
	CreatedTo        *time.Time
	Limit            int
	Offset           int
}

// DefaultSearchLimit applies when SearchFilters.Limit is unset.
const DefaultSearchLimit = 50

// Normalize fills defaults and clamps pagination to sane values.
func (f SearchFilters) Normalize() SearchFilters {
	if f.Limit <= 0 {
		f.Limit = DefaultSearchLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Statistics aggregates the live record set.
type Statistics struct {
	TotalCount       int     `json:"total_indicators"`
	AvgProfitability float64 `json:"avg_profitability"`
	AvgReliability   float64 `json:"avg_reliability"`
	RecentCount      int     `json:"recent_additions"`
}

// RecentWindow is the look-back used for Statistics.RecentCount.
const RecentWindow = 7 * 24 * time.Hour

// DateLayout is the calendar-date form accepted for search date bounds.
const DateLayout = "2006-01-02"

// ParseFilterTime parses an RFC 3339 timestamp or a calendar date. A bare
// date used as an upper bound covers the whole day.
func ParseFilterTime(raw string, upper bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Value: raw, Reason: "must be YYYY-MM-DD or RFC 3339"}
	}
	if upper {
		d = d.Add(24*time.Hour - time.Microsecond)
	}
	return d, nil
}
