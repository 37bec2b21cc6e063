package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/indicator-analyzer/internal/clock/system"
	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
)

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func openMemory(t *testing.T) (*Store, *system.Manual) {
	t.Helper()
	clk := system.NewManual(start)
	store, err := Open(context.Background(), Memory, clk)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store, clk
}

func record(url, title string, profit, reliab int) indicator.AnalysisRecord {
	return indicator.AnalysisRecord{
		URL:                 url,
		Title:               title,
		Description:         title + " description",
		Functionality:       "functionality of " + title,
		UserFeedback:        indicator.Feedback{Positive: []string{"ok"}, Negative: []string{}},
		ProfitabilityRating: profit,
		ReliabilityRating:   reliab,
		RawData:             []byte(`{"url":"` + url + `"}`),
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	store, clk := openMemory(t)
	ctx := context.Background()
	url := "https://example.com/script/abc"

	require.NoError(t, store.Upsert(ctx, record(url, "First", 3, 4)))
	clk.Advance(time.Hour)
	second := record(url, "Second", 9, 7)
	second.Placeholder = true
	require.NoError(t, store.Upsert(ctx, second))

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	got := all[0]
	require.Equal(t, "Second", got.Title)
	require.Equal(t, 9, got.ProfitabilityRating)
	require.Equal(t, 7, got.ReliabilityRating)
	require.True(t, got.Placeholder)
	require.Equal(t, []string{"ok"}, got.UserFeedback.Positive)
	require.Equal(t, start, got.CreatedAt, "created_at survives replacement")
	require.Equal(t, start.Add(time.Hour), got.UpdatedAt)
	require.Equal(t, start.Add(time.Hour), got.AnalyzedAt)
	require.JSONEq(t, `{"url":"`+url+`"}`, string(got.RawData))
}

func TestUpsertRejectsOutOfRangeRatings(t *testing.T) {
	t.Parallel()

	store, _ := openMemory(t)
	ctx := context.Background()
	for _, rec := range []indicator.AnalysisRecord{
		record("https://example.com/script/a", "A", 11, 5),
		record("https://example.com/script/b", "B", 5, -1),
	} {
		err := store.Upsert(ctx, rec)
		require.True(t, indicator.IsValidation(err), "%v", err)
	}
	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestConcurrentUpsertsKeepOneRow(t *testing.T) {
	t.Parallel()

	store, _ := openMemory(t)
	ctx := context.Background()
	url := "https://example.com/script/race"

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Upsert(ctx, record(url, fmt.Sprintf("v%d", i), i, i)); err != nil {
				t.Errorf("upsert: %v", err)
			}
		}()
	}
	wg.Wait()

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	store, _ := openMemory(t)
	_, err := store.Get(context.Background(), "https://example.com/script/none")
	require.ErrorIs(t, err, indicator.ErrNotFound)
}

func TestSearchFilters(t *testing.T) {
	t.Parallel()

	store, clk := openMemory(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, record("https://example.com/script/1", "RSI Divergence", 9, 6)))
	clk.Advance(24 * time.Hour)
	require.NoError(t, store.Upsert(ctx, record("https://example.com/script/2", "MACD Cross", 8, 9)))
	clk.Advance(24 * time.Hour)
	require.NoError(t, store.Upsert(ctx, record("https://example.com/script/3", "Volume Profile", 4, 9)))

	minProfit := 8
	got, err := store.Search(ctx, indicator.SearchFilters{MinProfitability: &minProfit})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, r := range got {
		require.GreaterOrEqual(t, r.ProfitabilityRating, 8)
	}
	require.Equal(t, "MACD Cross", got[0].Title, "newest first")

	got, err = store.Search(ctx, indicator.SearchFilters{Query: "rsi"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "RSI Divergence", got[0].Title)

	got, err = store.Search(ctx, indicator.SearchFilters{Query: "FUNCTIONALITY OF volume"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	minReliab := 9
	got, err = store.Search(ctx, indicator.SearchFilters{MinProfitability: &minProfit, MinReliability: &minReliab})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "MACD Cross", got[0].Title)

	from := start.Add(12 * time.Hour)
	to := start.Add(36 * time.Hour)
	got, err = store.Search(ctx, indicator.SearchFilters{CreatedFrom: &from, CreatedTo: &to})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "MACD Cross", got[0].Title)

	got, err = store.Search(ctx, indicator.SearchFilters{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "MACD Cross", got[0].Title)

	got, err = store.Search(ctx, indicator.SearchFilters{Query: "100%"})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSearchFoldsNonASCIICase(t *testing.T) {
	t.Parallel()

	store, _ := openMemory(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, record("https://example.com/script/u", "Überkauft Oszillator", 5, 5)))
	require.NoError(t, store.Upsert(ctx, record("https://example.com/script/a", "Plain Oscillator", 5, 5)))

	for _, q := range []string{"Überkauft", "überkauft", "ÜBERKAUFT", "functionality of ÜBER"} {
		got, err := store.Search(ctx, indicator.SearchFilters{Query: q})
		require.NoError(t, err, q)
		require.Len(t, got, 1, q)
		require.Equal(t, "Überkauft Oszillator", got[0].Title, q)
	}
}

func TestStatistics(t *testing.T) {
	t.Parallel()

	store, clk := openMemory(t)
	ctx := context.Background()

	st, err := store.Statistics(ctx)
	require.NoError(t, err)
	require.Equal(t, indicator.Statistics{}, st)

	require.NoError(t, store.Upsert(ctx, record("https://example.com/script/old", "Old", 2, 4)))
	clk.Advance(10 * 24 * time.Hour)
	require.NoError(t, store.Upsert(ctx, record("https://example.com/script/new", "New", 8, 6)))

	st, err = store.Statistics(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, st.TotalCount)
	require.InDelta(t, 5.0, st.AvgProfitability, 0.001)
	require.InDelta(t, 5.0, st.AvgReliability, 0.001)
	require.Equal(t, 1, st.RecentCount)
}

func TestTopRatedAndSimilar(t *testing.T) {
	t.Parallel()

	store, _ := openMemory(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, record("https://example.com/script/a", "Momentum Oscillator", 5, 5)))
	require.NoError(t, store.Upsert(ctx, record("https://example.com/script/b", "Momentum Bands", 9, 9)))
	require.NoError(t, store.Upsert(ctx, record("https://example.com/script/c", "Volume Weighted", 7, 2)))

	top, err := store.TopRated(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, "Momentum Bands", top[0].Title)
	require.Equal(t, "Momentum Oscillator", top[1].Title)

	similar, err := store.Similar(ctx, "https://example.com/script/a", 5)
	require.NoError(t, err)
	require.NotEmpty(t, similar)
	require.Equal(t, "Momentum Bands", similar[0].Title)
	for _, r := range similar {
		require.NotEqual(t, "https://example.com/script/a", r.URL)
	}

	_, err = store.Similar(ctx, "https://example.com/script/missing", 5)
	require.ErrorIs(t, err, indicator.ErrNotFound)
}

func TestAnalysisLogIsAppendOnly(t *testing.T) {
	t.Parallel()

	store, clk := openMemory(t)
	ctx := context.Background()
	url := "https://example.com/script/abc"

	require.NoError(t, store.LogAnalysis(ctx, indicator.AnalysisLog{
		URL: url, Status: indicator.LogFailure, Stage: indicator.StageFetchFailed,
		ErrorMessage: "timeout", ExecutionTime: 10.5,
	}))
	clk.Advance(time.Minute)
	require.NoError(t, store.LogAnalysis(ctx, indicator.AnalysisLog{
		URL: url, Status: indicator.LogSuccess, Stage: indicator.StagePersisted, ExecutionTime: 2,
	}))

	history, err := store.AnalysisHistory(ctx, url)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, indicator.LogSuccess, history[0].Status)
	require.Empty(t, history[0].ErrorMessage)
	require.Equal(t, indicator.LogFailure, history[1].Status)
	require.Equal(t, "timeout", history[1].ErrorMessage)
	require.InDelta(t, 10.5, history[1].ExecutionTime, 0.0001)
	require.Equal(t, start, history[1].LoggedAt)
}

func TestOpenFileDatabase(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "indicators.db")
	ctx := context.Background()
	store, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, record("https://example.com/script/f", "File", 1, 1)))
	store.Close()

	reopened, err := Open(ctx, path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(ctx, "https://example.com/script/f")
	require.NoError(t, err)
	require.Equal(t, "File", got.Title)
}

func TestSnapshotCopiesDatabase(t *testing.T) {
	t.Parallel()

	store, _ := openMemory(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, record("https://example.com/script/s", "Snap", 3, 4)))
	require.NoError(t, store.LogAnalysis(ctx, indicator.AnalysisLog{
		URL: "https://example.com/script/s", Status: indicator.LogSuccess, Stage: indicator.StagePersisted,
	}))

	path := filepath.Join(t.TempDir(), "snap.db")
	require.NoError(t, store.Snapshot(ctx, path))
	require.Error(t, store.Snapshot(ctx, path), "existing target")

	copied, err := Open(ctx, path, nil)
	require.NoError(t, err)
	defer copied.Close()
	got, err := copied.Get(ctx, "https://example.com/script/s")
	require.NoError(t, err)
	require.Equal(t, "Snap", got.Title)
	history, err := copied.AnalysisHistory(ctx, "https://example.com/script/s")
	require.NoError(t, err)
	require.Len(t, history, 1)
}
