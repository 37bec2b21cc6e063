// Package metrics exposes Prometheus collectors for the indicator pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indicator_fetches_total",
			Help: "Total number of page fetches, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	fetchBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indicator_fetch_bytes_total",
			Help: "Total number of bytes fetched.",
		},
	)

	extractionFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indicator_extraction_fallbacks_total",
			Help: "Fields that degraded to a sentinel value, labeled by field.",
		},
		[]string{"field"},
	)

	analysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indicator_analyses_total",
			Help: "Total number of analyses, labeled by mode (llm, placeholder, error).",
		},
		[]string{"mode"},
	)

	identifiersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indicator_pipeline_identifiers_total",
			Help: "Identifiers processed by the pipeline, labeled by terminal stage.",
		},
		[]string{"stage"},
	)

	identifierDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "indicator_pipeline_duration_seconds",
			Help:    "Histogram of end-to-end processing time per identifier.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indicator_active_workers",
			Help: "Number of workers currently processing an identifier.",
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indicator_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"scope"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch outcome ("ok" or a failure kind).
func ObserveFetch(outcome string, bytesFetched int) {
	fetchesTotal.WithLabelValues(outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.Add(float64(bytesFetched))
	}
}

// ObserveExtractionFallback counts a field that fell back to its sentinel.
func ObserveExtractionFallback(field string) {
	extractionFallbacksTotal.WithLabelValues(field).Inc()
}

// ObserveAnalysis increments the analysis counter for the given mode.
func ObserveAnalysis(mode string) {
	analysesTotal.WithLabelValues(mode).Inc()
}

// ObserveIdentifier records the terminal stage and duration of one identifier.
func ObserveIdentifier(stage string, duration time.Duration) {
	identifiersTotal.WithLabelValues(stage).Inc()
	identifierDurationSeconds.Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(scope string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(scope).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
