package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/indicator-analyzer/internal/export"
	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
	"github.com/JakeFAU/indicator-analyzer/internal/logging"
	"github.com/JakeFAU/indicator-analyzer/internal/metrics"
)

// Default result sizes for the ranking endpoints.
const (
	DefaultTopLimit     = 10
	DefaultSimilarLimit = 5
)

// URLAppender adds an identifier to the input list.
type URLAppender interface {
	Append(raw string) (string, error)
}

// Server wires HTTP handlers to the record store and the input list.
type Server struct {
	router chi.Router
	repo   indicator.Repository
	urls   URLAppender
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(repo indicator.Repository, urls URLAppender, logger *zap.Logger) *Server {
	s := &Server{
		repo:   repo,
		urls:   urls,
		logger: logging.OrNop(logger).Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/indicators", func(r chi.Router) {
			r.Get("/", s.listIndicators)
			r.Get("/lookup", s.lookupIndicator)
			r.Get("/top", s.topRated)
			r.Get("/similar", s.similar)
			r.Get("/history", s.history)
		})
		r.Get("/statistics", s.statistics)
		r.Get("/export", s.exportCSV)
		r.Post("/urls", s.addURL)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listIndicators(w http.ResponseWriter, r *http.Request) {
	filters, filtered, err := parseSearch(r.URL.Query())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	var records []indicator.AnalysisRecord
	if filtered {
		records, err = s.repo.Search(r.Context(), filters)
	} else {
		records, err = s.repo.ListAll(r.Context())
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"indicators": nonNil(records), "count": len(records)})
}

func (s *Server) lookupIndicator(w http.ResponseWriter, r *http.Request) {
	target, err := requiredURL(r.URL.Query())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	rec, err := s.repo.Get(r.Context(), target)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) topRated(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query(), "limit", DefaultTopLimit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	records, err := s.repo.TopRated(r.Context(), limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"indicators": nonNil(records)})
}

func (s *Server) similar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, err := requiredURL(q)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	limit, err := intParam(q, "limit", DefaultSimilarLimit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	records, err := s.repo.Similar(r.Context(), target, limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"url": target, "indicators": nonNil(records)})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	target, err := requiredURL(r.URL.Query())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	logs, err := s.repo.AnalysisHistory(r.Context(), target)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if logs == nil {
		logs = []indicator.AnalysisLog{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"url": target, "history": logs})
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.repo.Statistics(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	records, err := s.repo.ListAll(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if len(records) == 0 {
		s.writeErr(w, indicator.ErrNoRecords)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="indicators_export.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := export.WriteCSV(w, records); err != nil {
		s.logger.Error("write export failed", zap.Error(err))
	}
}

type addURLRequest struct {
	URL string `json:"url"`
}

func (s *Server) addURL(w http.ResponseWriter, r *http.Request) {
	var req addURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	added, err := s.urls.Append(req.URL)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"url": added})
}

// parseSearch reports filtered=false when no search parameter is present.
func parseSearch(q url.Values) (indicator.SearchFilters, bool, error) {
	var f indicator.SearchFilters
	filtered := false
	if v := strings.TrimSpace(q.Get("query")); v != "" {
		f.Query = v
		filtered = true
	}
	for _, p := range []struct {
		name string
		dst  **int
	}{
		{"min_profitability", &f.MinProfitability},
		{"min_reliability", &f.MinReliability},
	} {
		if q.Get(p.name) == "" {
			continue
		}
		n, err := intParam(q, p.name, 0)
		if err != nil {
			return f, false, err
		}
		*p.dst = &n
		filtered = true
	}
	for _, p := range []struct {
		name  string
		upper bool
		dst   **time.Time
	}{
		{"from", false, &f.CreatedFrom},
		{"to", true, &f.CreatedTo},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := indicator.ParseFilterTime(raw, p.upper)
		if err != nil {
			return f, false, err
		}
		*p.dst = &t
		filtered = true
	}
	var err error
	if q.Has("limit") {
		if f.Limit, err = intParam(q, "limit", 0); err != nil {
			return f, false, err
		}
		filtered = true
	}
	if q.Has("offset") {
		if f.Offset, err = intParam(q, "offset", 0); err != nil {
			return f, false, err
		}
		filtered = true
	}
	return f, filtered, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &indicator.ValidationError{Field: name, Value: raw, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

func requiredURL(q url.Values) (string, error) {
	target := strings.TrimSpace(q.Get("url"))
	if target == "" {
		return "", &indicator.ValidationError{Field: "url", Reason: "is required"}
	}
	return target, nil
}

func nonNil(records []indicator.AnalysisRecord) []indicator.AnalysisRecord {
	if records == nil {
		return []indicator.AnalysisRecord{}
	}
	return records
}

func statusFor(err error) int {
	switch {
	case indicator.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, indicator.ErrNotFound), errors.Is(err, indicator.ErrNoRecords):
		return http.StatusNotFound
	case errors.Is(err, indicator.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, status, "internal server error")
		return
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
