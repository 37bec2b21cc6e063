package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
	"github.com/JakeFAU/indicator-analyzer/internal/storage/sqlite"
)

type cliEnv struct {
	dir    string
	config string
	db     string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := cliEnv{
		dir:    dir,
		config: filepath.Join(dir, "config.yaml"),
		db:     filepath.Join(dir, "indicators.db"),
	}
	yaml := strings.Join([]string{
		"analyzer:",
		"  api_key: changeme",
		"db:",
		"  driver: sqlite",
		"  dsn: " + env.db,
		"pipeline:",
		"  url_file: " + filepath.Join(dir, "urls.csv"),
		"  allowed_prefixes: [\"https://example.com/script/\"]",
		"export:",
		"  default_path: " + filepath.Join(dir, "export.csv"),
		"  backup_dir: " + filepath.Join(dir, "backups"),
		"logging:",
		"  development: false",
	}, "\n")
	require.NoError(t, os.WriteFile(env.config, []byte(yaml), 0o600))
	return env
}

func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", e.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e cliEnv) seed(t *testing.T, records ...indicator.AnalysisRecord) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), e.db, nil)
	require.NoError(t, err)
	defer store.Close()
	for _, r := range records {
		require.NoError(t, store.Upsert(context.Background(), r))
	}
}

func TestAddURL(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)

	out, err := env.run(t, "add-url", "https://example.com/script/rsi")
	require.NoError(t, err)
	require.Contains(t, out, "added https://example.com/script/rsi")

	_, err = env.run(t, "add-url", "https://example.com/script/rsi")
	require.ErrorIs(t, err, indicator.ErrAlreadyExists)

	_, err = env.run(t, "add-url", "https://other.example/script/x")
	require.True(t, indicator.IsValidation(err))

	other := filepath.Join(env.dir, "other.csv")
	_, err = env.run(t, "add-url", "--file", other, "https://example.com/script/rsi")
	require.NoError(t, err)
	data, err := os.ReadFile(other)
	require.NoError(t, err)
	require.Equal(t, "url\nhttps://example.com/script/rsi\n", string(data))
}

func TestIngestEmptyList(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	out, err := env.run(t, "ingest")
	require.NoError(t, err)
	require.Contains(t, out, "no URLs to process")
}

func TestIngestRejectsMalformedEntries(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	list := filepath.Join(env.dir, "urls.csv")
	require.NoError(t, os.WriteFile(list, []byte("url\nftp://evil.example/x\nnot a url\n"), 0o600))

	out, err := env.run(t, "ingest")
	require.NoError(t, err)
	require.Contains(t, out, "processed 2 of 2 URLs: 0 succeeded, 2 failed")
	require.Contains(t, out, "ftp://evil.example/x: rejected")
	require.Contains(t, out, "not a url: rejected")

	store, err := sqlite.Open(context.Background(), env.db, nil)
	require.NoError(t, err)
	defer store.Close()
	all, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, all)
	history, err := store.AnalysisHistory(context.Background(), "not a url")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, indicator.StageRejected, history[0].Stage)
}

func TestBackup(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	env.seed(t, indicator.AnalysisRecord{URL: "https://example.com/script/rsi", Title: "Smoothed RSI", ProfitabilityRating: 8, ReliabilityRating: 6})

	out, err := env.run(t, "backup")
	require.NoError(t, err)
	require.Contains(t, out, "backed up database to file://"+filepath.Join(env.dir, "backups", "indicators_backup_"))

	entries, err := os.ReadDir(filepath.Join(env.dir, "backups"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasSuffix(entries[0].Name(), ".db.gz"))

	_, err = env.run(t, "backup", "gs://bucket/backups")
	require.ErrorContains(t, err, "cloud storage is not configured")
}

func TestStatsSearchExport(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)

	out, err := env.run(t, "export")
	require.NoError(t, err)
	require.Contains(t, out, "no indicators to export")

	env.seed(t,
		indicator.AnalysisRecord{URL: "https://example.com/script/rsi", Title: "Smoothed RSI", ProfitabilityRating: 8, ReliabilityRating: 6},
		indicator.AnalysisRecord{URL: "https://example.com/script/macd", Title: "MACD", ProfitabilityRating: 2, ReliabilityRating: 4},
	)

	out, err = env.run(t, "stats")
	require.NoError(t, err)
	var stats indicator.Statistics
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Equal(t, 2, stats.TotalCount)
	require.Equal(t, 2, stats.RecentCount)
	require.InDelta(t, 5.0, stats.AvgProfitability, 0.001)

	out, err = env.run(t, "search", "--query", "RSI", "--min-profitability", "5")
	require.NoError(t, err)
	var found []indicator.AnalysisRecord
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.Len(t, found, 1)
	require.Equal(t, "https://example.com/script/rsi", found[0].URL)

	_, err = env.run(t, "search", "--from", "last week")
	require.True(t, indicator.IsValidation(err))

	target := filepath.Join(env.dir, "out", "indicators.csv")
	out, err = env.run(t, "export", target)
	require.NoError(t, err)
	require.Contains(t, out, "exported 2 indicators")
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 3)
}

func TestUnknownConfigFails(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "stats"})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "load config")
}
