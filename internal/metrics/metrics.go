// Package metrics exposes Prometheus collectors for the fetch session
// service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchSessionsTotal          *prometheus.CounterVec
	fetchPapersTotal            *prometheus.CounterVec
	fetchSessionActive          prometheus.Gauge
	fetchSessionDurationSeconds prometheus.Histogram
	progressEventsTotal         *prometheus.CounterVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_sessions_total",
				Help: "Total number of fetch sessions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchPapersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_papers_total",
				Help: "Total number of papers processed, labeled by result.",
			},
			[]string{"result"},
		)

		fetchSessionActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fetch_session_active",
				Help: "Whether a fetch session is currently running.",
			},
		)

		fetchSessionDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fetch_session_duration_seconds",
				Help:    "Histogram of completed session durations.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
			},
		)

		progressEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_progress_events_total",
				Help: "Total progress events received, labeled by disposition.",
			},
			[]string{"disposition"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSession records one finished session.
func ObserveSession(outcome string, duration time.Duration) {
	Init()
	fetchSessionsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		fetchSessionDurationSeconds.Observe(duration.Seconds())
	}
}

// ObservePapers adds n to the paper counter for the given result.
func ObservePapers(result string, n int) {
	Init()
	if n > 0 {
		fetchPapersTotal.WithLabelValues(result).Add(float64(n))
	}
}

// SetSessionActive reflects the running flag on the active gauge.
func SetSessionActive(active bool) {
	Init()
	if active {
		fetchSessionActive.Set(1)
	} else {
		fetchSessionActive.Set(0)
	}
}

// ObserveProgressEvent counts one progress event; disposition is "applied"
// or "dropped".
func ObserveProgressEvent(disposition string) {
	Init()
	progressEventsTotal.WithLabelValues(disposition).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
