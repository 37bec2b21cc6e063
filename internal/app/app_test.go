package app_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/indicator-analyzer/internal/app"
	"github.com/JakeFAU/indicator-analyzer/internal/config"
	collyfetcher "github.com/JakeFAU/indicator-analyzer/internal/fetcher/colly"
	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
	"github.com/JakeFAU/indicator-analyzer/internal/storage/sqlite"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Fetcher:   config.FetcherConfig{TimeoutSeconds: 5},
		Analyzer:  config.AnalyzerConfig{APIKey: "your-api-key", TimeoutSeconds: 10},
		RateLimit: config.RateLimitConfig{CallsPerMinute: 60},
		Pipeline: config.PipelineConfig{
			Concurrency:     1,
			URLFile:         filepath.Join(t.TempDir(), "urls.csv"),
			AllowedPrefixes: []string{"https://example.com/script/"},
		},
		DB:     config.DBConfig{Driver: config.DriverSQLite, DSN: sqlite.Memory},
		Server: config.ServerConfig{Port: 8080},
	}
}

func TestNewWiresLocalServices(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.IsType(t, &collyfetcher.Fetcher{}, a.Fetcher)
	require.True(t, a.Analyzer.Placeholder(), "placeholder keys are not credentials")
	require.Nil(t, a.Publisher)
	require.NotNil(t, a.Exporter)
	require.NotNil(t, a.Orchestrator)
	require.Equal(t, time.Second, a.Limiter.Interval())

	url, err := a.URLs.Append("https://example.com/script/abc")
	require.NoError(t, err)
	_, err = a.URLs.Append(url)
	require.ErrorIs(t, err, indicator.ErrAlreadyExists)

	_, err = a.Repo.Get(context.Background(), url)
	require.ErrorIs(t, err, indicator.ErrNotFound)

	out := a.Orchestrator.Process(context.Background(), "ftp://evil.example/x")
	require.Equal(t, indicator.StageRejected, out.Stage)
	history, err := a.Repo.AnalysisHistory(context.Background(), "ftp://evil.example/x")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, indicator.LogFailure, history[0].Status)

	res, err := a.Backup.Backup(context.Background(), filepath.Join(t.TempDir(), "backups"))
	require.NoError(t, err)
	require.Positive(t, res.Bytes)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.DB.Driver = "mysql"
	_, err := app.New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "unknown db driver")
}

func TestNewSQLiteFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.DB.DSN = filepath.Join(t.TempDir(), "nested", "indicators.db")
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	a.Close()
}
