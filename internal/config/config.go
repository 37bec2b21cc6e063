// Package config loads and validates analyzer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/indicator-analyzer/internal/storage/gcs"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	DB        DBConfig        `mapstructure:"db"`
	Export    ExportConfig    `mapstructure:"export"`
	GCS       gcs.Config      `mapstructure:"gcs"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// FetcherConfig governs page retrieval.
type FetcherConfig struct {
	UserAgent              string `mapstructure:"user_agent"`
	Referer                string `mapstructure:"referer"`
	TimeoutSeconds         int    `mapstructure:"timeout_seconds"`
	DelayMinMs             int    `mapstructure:"delay_min_ms"`
	DelayMaxMs             int    `mapstructure:"delay_max_ms"`
	Headless               bool   `mapstructure:"headless"`
	HeadlessTimeoutSeconds int    `mapstructure:"headless_timeout_seconds"`
	HeadlessMaxParallel    int    `mapstructure:"headless_max_parallel"`
}

// AnalyzerConfig configures the text-generation service.
type AnalyzerConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RateLimitConfig sets the shared outbound cadence.
type RateLimitConfig struct {
	CallsPerMinute float64 `mapstructure:"calls_per_minute"`
}

// PipelineConfig controls batch processing.
type PipelineConfig struct {
	Concurrency     int      `mapstructure:"concurrency"`
	URLFile         string   `mapstructure:"url_file"`
	Retries         int      `mapstructure:"retries"`
	RetryBackoffMs  int      `mapstructure:"retry_backoff_ms"`
	AllowedPrefixes []string `mapstructure:"allowed_prefixes"`
}

// DBConfig selects and tunes the record store.
type DBConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	MaxConns    int    `mapstructure:"max_conns"`
	ApplySchema bool   `mapstructure:"apply_schema"`
}

// ExportConfig holds export and backup defaults.
type ExportConfig struct {
	DefaultPath string `mapstructure:"default_path"`
	// BackupDir receives database snapshots: a directory or gs://bucket/prefix.
	BackupDir string `mapstructure:"backup_dir"`
}

// PubSubConfig holds metadata for analysis event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. OPENAI_API_KEY is read when
// ANALYZER_ANALYZER_API_KEY is not set.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ANALYZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("analyzer.api_key", "ANALYZER_ANALYZER_API_KEY", "OPENAI_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind api key env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fetcher.user_agent", "")
	v.SetDefault("fetcher.referer", "")
	v.SetDefault("fetcher.timeout_seconds", 10)
	v.SetDefault("fetcher.delay_min_ms", 1000)
	v.SetDefault("fetcher.delay_max_ms", 3000)
	v.SetDefault("fetcher.headless", false)
	v.SetDefault("fetcher.headless_timeout_seconds", 45)
	v.SetDefault("fetcher.headless_max_parallel", 1)
	v.SetDefault("analyzer.api_key", "")
	v.SetDefault("analyzer.model", "gpt-3.5-turbo-16k")
	v.SetDefault("analyzer.base_url", "")
	v.SetDefault("analyzer.timeout_seconds", 60)
	v.SetDefault("rate_limit.calls_per_minute", 20)
	v.SetDefault("pipeline.concurrency", 1)
	v.SetDefault("pipeline.url_file", "urls.csv")
	v.SetDefault("pipeline.retries", 0)
	v.SetDefault("pipeline.retry_backoff_ms", 1000)
	v.SetDefault("pipeline.allowed_prefixes", []string{"https://www.tradingview.com/script/"})
	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.dsn", "data/indicators.db")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.apply_schema", true)
	v.SetDefault("export.default_path", "indicators_export.csv")
	v.SetDefault("export.backup_dir", "backups")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.Retries < 0 {
		return fmt.Errorf("pipeline.retries must be >= 0")
	}
	if c.RateLimit.CallsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.calls_per_minute must be > 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Fetcher.DelayMinMs < 0 || c.Fetcher.DelayMaxMs < c.Fetcher.DelayMinMs {
		return fmt.Errorf("fetcher delay must satisfy 0 <= delay_min_ms <= delay_max_ms")
	}
	if c.Fetcher.Headless && c.Fetcher.HeadlessMaxParallel <= 0 {
		return fmt.Errorf("fetcher.headless_max_parallel must be > 0 when headless is enabled")
	}
	if c.Analyzer.TimeoutSeconds <= 0 {
		return fmt.Errorf("analyzer.timeout_seconds must be > 0")
	}
	switch c.DB.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("db.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// FetchTimeout is the per-request fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// DelayRange returns the randomized inter-request delay bounds.
func (c Config) DelayRange() (time.Duration, time.Duration) {
	return time.Duration(c.Fetcher.DelayMinMs) * time.Millisecond,
		time.Duration(c.Fetcher.DelayMaxMs) * time.Millisecond
}

// HeadlessTimeout is the navigation budget of the headless fetcher.
func (c Config) HeadlessTimeout() time.Duration {
	return time.Duration(c.Fetcher.HeadlessTimeoutSeconds) * time.Second
}

// AnalyzerTimeout is the per-call budget of the analysis service.
func (c Config) AnalyzerTimeout() time.Duration {
	return time.Duration(c.Analyzer.TimeoutSeconds) * time.Second
}

// RetryBackoff is the base delay between pipeline retries.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Pipeline.RetryBackoffMs) * time.Millisecond
}
