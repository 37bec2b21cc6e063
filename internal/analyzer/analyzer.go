// Package analyzer turns fetched indicator pages into structured analyses
// using an OpenAI-compatible chat completion service.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/JakeFAU/indicator-analyzer/internal/clock/system"
	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
	"github.com/JakeFAU/indicator-analyzer/internal/metrics"
)

// Defaults applied by New.
const (
	DefaultModel   = openai.GPT3Dot5Turbo16K
	DefaultTimeout = 60 * time.Second
)

// PlaceholderRating is assigned to both ratings when no service is configured.
const PlaceholderRating = 5

const systemPrompt = "You are a trading indicator analysis expert."

// ChatClient is the slice of the go-openai client the analyzer needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Waiter gates every outbound service call.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Config controls the analysis service connection.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Analyzer implements indicator.Analyzer.
type Analyzer struct {
	client  ChatClient
	model   string
	timeout time.Duration
	limiter Waiter
	clock   indicator.Clock
	logger  *zap.Logger
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithClient replaces the chat client built from Config.
func WithClient(c ChatClient) Option {
	return func(a *Analyzer) { a.client = c }
}

// WithClock overrides the clock used for AnalyzedAt.
func WithClock(c indicator.Clock) Option {
	return func(a *Analyzer) { a.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// New builds an Analyzer. Without a valid credential no client is created
// and every call takes the placeholder path.
func New(cfg Config, limiter Waiter, opts ...Option) *Analyzer {
	a := &Analyzer{
		model:   cfg.Model,
		timeout: cfg.Timeout,
		limiter: limiter,
		clock:   system.New(),
		logger:  zap.NewNop(),
	}
	if a.model == "" {
		a.model = DefaultModel
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	if HasCredential(cfg.APIKey) {
		oc := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		a.client = openai.NewClientWithConfig(oc)
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("analyzer")
	return a
}

// Placeholder reports whether the analyzer has no service to call.
func (a *Analyzer) Placeholder() bool {
	return a.client == nil
}

// Analyze produces an analysis for record. Transport, parse and rating
// failures are returned as *indicator.AnalysisError; nothing is retried.
func (a *Analyzer) Analyze(ctx context.Context, record indicator.FetchedRecord) (indicator.AnalysisRecord, error) {
	if a.client == nil {
		metrics.ObserveAnalysis("placeholder")
		return a.placeholder(record), nil
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return indicator.AnalysisRecord{}, err
		}
	}

	out, err := a.complete(ctx, record)
	if err != nil {
		if ctx.Err() != nil {
			return indicator.AnalysisRecord{}, fmt.Errorf("analysis canceled: %w", ctx.Err())
		}
		metrics.ObserveAnalysis("error")
		a.logger.Error("analysis failed", zap.String("url", record.URL), zap.Error(err))
		return indicator.AnalysisRecord{}, &indicator.AnalysisError{URL: record.URL, Err: err}
	}
	metrics.ObserveAnalysis("llm")
	return out, nil
}

func (a *Analyzer) complete(ctx context.Context, record indicator.FetchedRecord) (indicator.AnalysisRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(record)},
		},
	})
	if err != nil {
		return indicator.AnalysisRecord{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return indicator.AnalysisRecord{}, errors.New("chat completion returned no choices")
	}

	parsed, err := ParseResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return indicator.AnalysisRecord{}, err
	}

	out := a.baseRecord(record)
	out.Functionality = parsed.Functionality
	out.UsageGuidelines = parsed.UsageGuidelines
	out.UserFeedback = parsed.UserFeedback
	out.AdditionalInsights = parsed.AdditionalInsights
	out.ProfitabilityRating = parsed.Profitability
	out.ReliabilityRating = parsed.Reliability
	if err := out.ValidateRatings(); err != nil {
		return indicator.AnalysisRecord{}, err
	}
	return out, nil
}

func (a *Analyzer) placeholder(record indicator.FetchedRecord) indicator.AnalysisRecord {
	out := a.baseRecord(record)
	out.Placeholder = true
	out.Functionality = "[placeholder] Automated analysis unavailable: no analysis service credential is configured."
	out.UsageGuidelines = "[placeholder] Review the indicator description manually."
	out.UserFeedback = indicator.Feedback{
		Positive: []string{},
		Negative: []string{},
		Summary:  "[placeholder] User feedback was not analyzed.",
	}
	out.AdditionalInsights = "[placeholder] Configure an API key to enable analysis."
	out.ProfitabilityRating = PlaceholderRating
	out.ReliabilityRating = PlaceholderRating
	return out
}

func (a *Analyzer) baseRecord(record indicator.FetchedRecord) indicator.AnalysisRecord {
	raw, err := json.Marshal(record)
	if err != nil {
		raw = nil
	}
	return indicator.AnalysisRecord{
		URL:         record.URL,
		Title:       record.Title,
		Description: record.Description,
		RawData:     raw,
		AnalyzedAt:  a.clock.Now(),
	}
}

var placeholderKeys = map[string]struct{}{
	"your-api-key":        {},
	"your_api_key":        {},
	"your-openai-api-key": {},
	"changeme":            {},
	"placeholder":         {},
	"test_key":            {},
	"none":                {},
}

// HasCredential reports whether key looks like a real service credential.
// Empty values and well-known template values do not.
func HasCredential(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	_, isPlaceholder := placeholderKeys[strings.ToLower(key)]
	return !isPlaceholder
}
