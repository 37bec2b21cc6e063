// Package pipeline drives identifiers through fetch, analysis and
// persistence, recording an audit entry for every identifier it finishes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/indicator-analyzer/internal/clock/system"
	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
	"github.com/JakeFAU/indicator-analyzer/internal/metrics"
)

// Config controls Orchestrator behavior.
type Config struct {
	// Topic receives an event per persisted record; empty disables publishing.
	Topic string
	// Retries is how many extra attempts a transient fetch or analysis
	// failure gets. Zero means no retry.
	Retries int
	// RetryBackoff is the base delay between attempts, doubled each time.
	RetryBackoff time.Duration
}

// Transition is reported for every state change of an identifier.
type Transition struct {
	URL  string
	From indicator.Stage
	To   indicator.Stage
}

// Outcome is the terminal result of one identifier.
type Outcome struct {
	URL      string
	Stage    indicator.Stage
	Err      error
	Duration time.Duration
	Record   *indicator.AnalysisRecord
}

// Succeeded reports whether the identifier reached Persisted.
func (o Outcome) Succeeded() bool {
	return o.Stage == indicator.StagePersisted && o.Err == nil
}

// Event is the payload published for a persisted record.
type Event struct {
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Profitability int       `json:"profitability"`
	Reliability   int       `json:"reliability"`
	Placeholder   bool      `json:"placeholder"`
	AnalyzedAt    time.Time `json:"analyzed_at"`
}

// Orchestrator runs the per-identifier state machine.
type Orchestrator struct {
	fetcher   indicator.Fetcher
	analyzer  indicator.Analyzer
	repo      indicator.Repository
	validator indicator.Validator
	publisher indicator.Publisher
	clock     indicator.Clock
	cfg       Config
	logger    *zap.Logger
	observe   func(Transition)
	sleep     func(context.Context, time.Duration) error
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher enables event publishing.
func WithPublisher(p indicator.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithValidator replaces the default identifier rule.
func WithValidator(v indicator.Validator) Option {
	return func(o *Orchestrator) { o.validator = v }
}

// WithClock overrides the clock used for audit timestamps and durations.
func WithClock(c indicator.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers a callback invoked on every state transition.
func WithObserver(fn func(Transition)) Option {
	return func(o *Orchestrator) { o.observe = fn }
}

// New constructs an Orchestrator.
func New(fetcher indicator.Fetcher, analyzer indicator.Analyzer, repo indicator.Repository, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetcher:   fetcher,
		analyzer:  analyzer,
		repo:      repo,
		validator: indicator.NewValidator(),
		clock:     system.New(),
		cfg:       cfg,
		logger:    zap.NewNop(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("pipeline")
	return o
}

// Process drives one identifier to a terminal state. It never panics on a
// failing identifier; the failure is recorded and returned in the Outcome.
// A canceled context ends processing without an audit entry. Identifiers
// that fail validation are rejected before any fetch.
func (o *Orchestrator) Process(ctx context.Context, raw string) Outcome {
	start := o.clock.Now()
	out := Outcome{URL: raw, Stage: indicator.StagePending}

	url, err := o.validator.Validate(raw)
	if err != nil {
		return o.fail(ctx, out, indicator.StageRejected, err, start)
	}
	out.URL = url

	o.transition(&out, indicator.StageFetching)
	fetched, err := o.fetch(ctx, url)
	if err != nil {
		return o.fail(ctx, out, indicator.StageFetchFailed, err, start)
	}
	o.transition(&out, indicator.StageFetched)

	o.transition(&out, indicator.StageAnalyzing)
	record, err := o.analyze(ctx, fetched)
	if err != nil {
		return o.fail(ctx, out, indicator.StageAnalysisFailed, err, start)
	}
	o.transition(&out, indicator.StageAnalyzed)

	if err := o.repo.Upsert(ctx, record); err != nil {
		return o.fail(ctx, out, indicator.StagePersistFailed, err, start)
	}
	o.transition(&out, indicator.StagePersisted)
	out.Record = &record
	out.Duration = o.clock.Now().Sub(start)

	o.audit(ctx, indicator.AnalysisLog{
		URL:           url,
		Status:        indicator.LogSuccess,
		Stage:         indicator.StagePersisted,
		ExecutionTime: out.Duration.Seconds(),
	})
	o.publish(ctx, record)
	metrics.ObserveIdentifier(string(out.Stage), out.Duration)
	o.logger.Info("indicator persisted",
		zap.String("url", url),
		zap.Int("profitability", record.ProfitabilityRating),
		zap.Int("reliability", record.ReliabilityRating),
		zap.Bool("placeholder", record.Placeholder),
		zap.Duration("duration", out.Duration),
	)
	return out
}

func (o *Orchestrator) fetch(ctx context.Context, url string) (indicator.FetchedRecord, error) {
	var rec indicator.FetchedRecord
	err := o.withRetry(ctx, url, "fetch", func() error {
		var err error
		rec, err = o.fetcher.Fetch(ctx, url)
		return err
	})
	return rec, err
}

func (o *Orchestrator) analyze(ctx context.Context, fetched indicator.FetchedRecord) (indicator.AnalysisRecord, error) {
	var rec indicator.AnalysisRecord
	err := o.withRetry(ctx, fetched.URL, "analyze", func() error {
		var err error
		rec, err = o.analyzer.Analyze(ctx, fetched)
		return err
	})
	return rec, err
}

func (o *Orchestrator) withRetry(ctx context.Context, url, op string, fn func() error) error {
	backoff := o.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= o.cfg.Retries || ctx.Err() != nil || !retryable(err) {
			return err
		}
		o.logger.Warn("retrying after transient failure",
			zap.String("url", url),
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if serr := o.sleep(ctx, backoff<<attempt); serr != nil {
			return serr
		}
	}
}

// retryable holds for timeouts, connection failures, 5xx/429 responses and
// analysis service errors that are not rating violations.
func retryable(err error) bool {
	var fe *indicator.FetchError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case indicator.FetchTimeout, indicator.FetchConnection:
			return true
		case indicator.FetchHTTPStatus:
			return fe.StatusCode >= 500 || fe.StatusCode == 429
		default:
			return false
		}
	}
	var ae *indicator.AnalysisError
	if errors.As(err, &ae) {
		return !indicator.IsValidation(err)
	}
	return false
}

func (o *Orchestrator) fail(ctx context.Context, out Outcome, stage indicator.Stage, err error, start time.Time) Outcome {
	out.Err = err
	out.Duration = o.clock.Now().Sub(start)
	if ctx.Err() != nil {
		o.logger.Warn("processing canceled", zap.String("url", out.URL), zap.String("stage", string(out.Stage)))
		return out
	}
	o.transition(&out, stage)
	metrics.ObserveIdentifier(string(stage), out.Duration)
	o.logger.Error("indicator processing failed",
		zap.String("url", out.URL),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)
	o.audit(ctx, indicator.AnalysisLog{
		URL:           out.URL,
		Status:        indicator.LogFailure,
		Stage:         stage,
		ErrorMessage:  err.Error(),
		ExecutionTime: out.Duration.Seconds(),
	})
	return out
}

func (o *Orchestrator) transition(out *Outcome, to indicator.Stage) {
	from := out.Stage
	out.Stage = to
	if o.observe != nil {
		o.observe(Transition{URL: out.URL, From: from, To: to})
	}
}

func (o *Orchestrator) audit(ctx context.Context, entry indicator.AnalysisLog) {
	entry.LoggedAt = o.clock.Now()
	if err := o.repo.LogAnalysis(ctx, entry); err != nil {
		o.logger.Error("write analysis log failed", zap.String("url", entry.URL), zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, record indicator.AnalysisRecord) {
	if o.publisher == nil || o.cfg.Topic == "" {
		return
	}
	_, err := o.publisher.Publish(ctx, o.cfg.Topic, Event{
		URL:           record.URL,
		Title:         record.Title,
		Profitability: record.ProfitabilityRating,
		Reliability:   record.ReliabilityRating,
		Placeholder:   record.Placeholder,
		AnalyzedAt:    record.AnalyzedAt,
	})
	if err != nil {
		o.logger.Warn("publish analysis event failed", zap.String("url", record.URL), zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
