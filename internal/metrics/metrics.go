// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestRunsTotal            *prometheus.CounterVec
	ingestRunDurationSeconds   *prometheus.HistogramVec
	ingestRecordsTotal         *prometheus.CounterVec
	ingestDegradedRunsTotal    *prometheus.CounterVec
	ingestActiveRuns           prometheus.Gauge
	fetchRequestsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_runs_total",
				Help: "Total number of feed runs, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		ingestRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_run_duration_seconds",
				Help:    "Histogram of feed run durations, labeled by source.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"source"},
		)

		ingestRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_records_total",
				Help: "Total records observed per run, labeled by source and outcome (seen, new, dropped).",
			},
			[]string{"source", "outcome"},
		)

		ingestDegradedRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_degraded_runs_total",
				Help: "Total runs completed with the membership filter unavailable.",
			},
			[]string{"source"},
		)

		ingestActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_runs",
				Help: "Number of feed runs currently in flight.",
			},
		)

		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_requests_total",
				Help: "Total number of document fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_retries_total",
				Help: "Total fetch retry attempts, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetch_duration_seconds",
				Help:    "Histogram of document fetch latencies, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
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
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records the outcome of a single feed run.
func ObserveRun(source, status string, seen, added, dropped int, duration time.Duration) {
	ingestRunsTotal.WithLabelValues(source, status).Inc()
	ingestRunDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
	if seen > 0 {
		ingestRecordsTotal.WithLabelValues(source, "seen").Add(float64(seen))
	}
	if added > 0 {
		ingestRecordsTotal.WithLabelValues(source, "new").Add(float64(added))
	}
	if dropped > 0 {
		ingestRecordsTotal.WithLabelValues(source, "dropped").Add(float64(dropped))
	}
}

// ObserveDegradedRun increments the degraded-mode counter for the source.
func ObserveDegradedRun(source string) {
	ingestDegradedRunsTotal.WithLabelValues(source).Inc()
}

// IncActiveRuns increments the in-flight runs gauge.
func IncActiveRuns() {
	ingestActiveRuns.Inc()
}

// DecActiveRuns decrements the in-flight runs gauge.
func DecActiveRuns() {
	ingestActiveRuns.Dec()
}

// ObserveFetch increments the fetch metrics.
func ObserveFetch(site string, status string, bytesFetched int, duration time.Duration) {
	sanitizedSite := SanitizeSite(site)
	fetchRequestsTotal.WithLabelValues(sanitizedSite, status).Inc()
	fetchDurationSeconds.WithLabelValues(sanitizedSite).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetchRetry increments the retry counter for the site.
func ObserveFetchRetry(site string) {
	fetchRetriesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
