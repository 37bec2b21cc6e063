package indicator

import (
	"context"
	"time"
)

// Fetcher retrieves and extracts one page. A *FetchError means the page was
// unreachable; any other error is a cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchedRecord, error)
}

// Analyzer turns a fetched record into an analysis. Service failures are
// reported as *AnalysisError.
type Analyzer interface {
	Analyze(ctx context.Context, record FetchedRecord) (AnalysisRecord, error)
}

// Store owns the persistent analysis records.
type Store interface {
	Upsert(ctx context.Context, record AnalysisRecord) error
	Get(ctx context.Context, url string) (AnalysisRecord, error)
	ListAll(ctx context.Context) ([]AnalysisRecord, error)
	Search(ctx context.Context, filters SearchFilters) ([]AnalysisRecord, error)
	Statistics(ctx context.Context) (Statistics, error)
	TopRated(ctx context.Context, limit int) ([]AnalysisRecord, error)
	Similar(ctx context.Context, url string, limit int) ([]AnalysisRecord, error)
	Close()
}

// LogStore persists the append-only analysis audit trail.
type LogStore interface {
	LogAnalysis(ctx context.Context, entry AnalysisLog) error
	AnalysisHistory(ctx context.Context, url string) ([]AnalysisLog, error)
}

// Repository is the full persistence surface used by the pipeline and API.
type Repository interface {
	Store
	LogStore
}

// Publisher pushes analysis events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
