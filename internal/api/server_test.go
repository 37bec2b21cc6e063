package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/indicator-analyzer/internal/clock/system"
	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
	"github.com/JakeFAU/indicator-analyzer/internal/storage/sqlite"
	"github.com/JakeFAU/indicator-analyzer/internal/urllist"
)

const (
	rsiURL  = "https://example.com/script/rsi"
	macdURL = "https://example.com/script/macd"
)

type testEnv struct {
	server *Server
	store  *sqlite.Store
	list   *urllist.List
}

func newTestEnv(t *testing.T, seed bool) testEnv {
	t.Helper()
	clk := system.NewManual(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	store, err := sqlite.Open(context.Background(), sqlite.Memory, clk)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	if seed {
		ctx := context.Background()
		require.NoError(t, store.Upsert(ctx, indicator.AnalysisRecord{
			URL: rsiURL, Title: "Smoothed RSI", Description: "momentum oscillator",
			Functionality: "RSI with smoothing", ProfitabilityRating: 8, ReliabilityRating: 6,
		}))
		clk.Advance(24 * time.Hour)
		require.NoError(t, store.Upsert(ctx, indicator.AnalysisRecord{
			URL: macdURL, Title: "MACD Histogram", Description: "momentum trend",
			Functionality: "MACD crossover", ProfitabilityRating: 4, ReliabilityRating: 9,
		}))
		require.NoError(t, store.LogAnalysis(ctx, indicator.AnalysisLog{
			URL: rsiURL, Status: indicator.LogSuccess, Stage: indicator.StagePersisted, ExecutionTime: 1.5,
		}))
	}

	list := urllist.New(filepath.Join(t.TempDir(), "urls.csv"), indicator.NewValidator("https://example.com/script/"))
	return testEnv{server: NewServer(store, list, zap.NewNop()), store: store, list: list}
}

func (e testEnv) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

type listResponse struct {
	Indicators []indicator.AnalysisRecord `json:"indicators"`
	Count      int                        `json:"count"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthzSetsRequestID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	require.NoError(t, err)

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, id)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, id, rec.Header().Get(RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	env.do(t, http.MethodGet, "/healthz", nil)
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestListIndicators(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, "/v1/indicators", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[listResponse](t, rec)
	require.Equal(t, 2, all.Count)

	rec = env.do(t, http.MethodGet, "/v1/indicators?query=rsi", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[listResponse](t, rec)
	require.Len(t, got.Indicators, 1)
	require.Equal(t, rsiURL, got.Indicators[0].URL)

	rec = env.do(t, http.MethodGet, "/v1/indicators?min_reliability=7", nil)
	got = decode[listResponse](t, rec)
	require.Len(t, got.Indicators, 1)
	require.Equal(t, macdURL, got.Indicators[0].URL)

	rec = env.do(t, http.MethodGet, "/v1/indicators?from=2024-06-02", nil)
	got = decode[listResponse](t, rec)
	require.Len(t, got.Indicators, 1)
	require.Equal(t, macdURL, got.Indicators[0].URL)

	rec = env.do(t, http.MethodGet, "/v1/indicators?limit=1&offset=0", nil)
	got = decode[listResponse](t, rec)
	require.Len(t, got.Indicators, 1)
	require.Equal(t, macdURL, got.Indicators[0].URL, "newest first")
}

func TestListIndicatorsRejectsBadFilters(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	for _, target := range []string{
		"/v1/indicators?min_profitability=high",
		"/v1/indicators?limit=-1",
		"/v1/indicators?from=yesterday",
	} {
		rec := env.do(t, http.MethodGet, target, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestLookupIndicator(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, "/v1/indicators/lookup?url="+rsiURL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[indicator.AnalysisRecord](t, rec)
	require.Equal(t, "Smoothed RSI", got.Title)

	rec = env.do(t, http.MethodGet, "/v1/indicators/lookup?url=https://example.com/script/none", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/indicators/lookup", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTopSimilarHistory(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, "/v1/indicators/top?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	top := decode[listResponse](t, rec)
	require.Len(t, top.Indicators, 1)
	require.Equal(t, rsiURL, top.Indicators[0].URL)

	rec = env.do(t, http.MethodGet, "/v1/indicators/similar?url="+rsiURL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	similar := decode[listResponse](t, rec)
	require.Len(t, similar.Indicators, 1)
	require.Equal(t, macdURL, similar.Indicators[0].URL)

	rec = env.do(t, http.MethodGet, "/v1/indicators/history?url="+rsiURL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		History []indicator.AnalysisLog `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.History, 1)
	require.Equal(t, indicator.LogSuccess, hist.History[0].Status)
}

func TestStatistics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)
	rec := env.do(t, http.MethodGet, "/v1/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[indicator.Statistics](t, rec)
	require.Equal(t, 2, stats.TotalCount)
	require.InDelta(t, 6.0, stats.AvgProfitability, 0.001)
	require.InDelta(t, 7.5, stats.AvgReliability, 0.001)
}

func TestExportCSV(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/v1/export", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	env = newTestEnv(t, true)
	rec = env.do(t, http.MethodGet, "/v1/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "id,url,name,description"))
}

func TestAddURL(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/v1/urls", []byte(`{"url":" https://example.com/script/new "}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"https://example.com/script/new"`)

	rec = env.do(t, http.MethodPost, "/v1/urls", []byte(`{"url":"https://example.com/script/new"}`))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "already exists")

	rec = env.do(t, http.MethodPost, "/v1/urls", []byte(`{"url":"ftp://example.com/x"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/urls", []byte(`{bad`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	urls, err := env.list.Read()
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/script/new"}, urls)
}

type failingRepo struct {
	indicator.Repository
}

func (failingRepo) Statistics(context.Context) (indicator.Statistics, error) {
	return indicator.Statistics{}, &indicator.PersistenceError{Op: "statistics", Err: errors.New("disk I/O error")}
}

func (failingRepo) ListAll(context.Context) ([]indicator.AnalysisRecord, error) {
	panic("boom")
}

func TestInternalErrorsAreMasked(t *testing.T) {
	t.Parallel()

	server := NewServer(failingRepo{}, nil, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/statistics", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "disk")

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/indicators", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
