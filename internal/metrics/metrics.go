// Package metrics exposes Prometheus collectors for the sync service.
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
	feedRequestsTotal          *prometheus.CounterVec
	feedRequestDurationSeconds *prometheus.HistogramVec
	crawlerEntitiesTotal       *prometheus.CounterVec
	crawlerSlowPagesTotal      *prometheus.CounterVec
	crawlerPartitionsTotal     *prometheus.CounterVec
	crawlerActiveWorkers       prometheus.Gauge
	archiveRowsTotal           *prometheus.CounterVec
	orchestratorRunsTotal      *prometheus.CounterVec
	orchestratorRunSeconds     *prometheus.HistogramVec
	opsRequestsTotal           *prometheus.CounterVec
	opsRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		feedRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_requests_total",
				Help: "Total number of feed API requests, labeled by endpoint and status code.",
			},
			[]string{"endpoint", "code"},
		)

		feedRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feed_request_duration_seconds",
				Help:    "Histogram of feed API latencies, labeled by endpoint.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		)

		crawlerEntitiesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_entities_total",
				Help: "Feed entities seen by the crawler, labeled by sort and outcome.",
			},
			[]string{"sort", "outcome"},
		)

		crawlerSlowPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_slow_pages_total",
				Help: "Page fetches that exceeded the slow-page threshold.",
			},
			[]string{"sort"},
		)

		crawlerPartitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_partitions_total",
				Help: "Partitions processed, labeled by sort and outcome (merged, skipped).",
			},
			[]string{"sort", "outcome"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of fetch workers currently downloading a partition pair.",
			},
		)

		archiveRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_rows_total",
				Help: "Archive rows written, labeled by table and phase (import, value_sync, heal, retract).",
			},
			[]string{"table", "phase"},
		)

		orchestratorRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_runs_total",
				Help: "Orchestrator runs, labeled by mode and status.",
			},
			[]string{"mode", "status"},
		)

		orchestratorRunSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_run_duration_seconds",
				Help:    "Histogram of orchestrator run durations, labeled by mode.",
				Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
			},
			[]string{"mode"},
		)

		opsRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ops_http_requests_total",
				Help: "Total number of ops listener requests, labeled by method, route and status.",
			},
			[]string{"method", "route", "code"},
		)

		opsRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ops_http_request_duration_seconds",
				Help:    "Histogram of ops listener latencies, labeled by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFeedRequest records one feed API round trip. code 0 means transport failure.
func ObserveFeedRequest(endpoint string, code int, duration time.Duration) {
	Init()
	feedRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	feedRequestDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveEntity counts one entity outcome (merged, invalid, deleted).
func ObserveEntity(sort, outcome string) {
	Init()
	crawlerEntitiesTotal.WithLabelValues(sort, outcome).Inc()
}

// ObserveSlowPage counts a page fetch that crossed the slow threshold.
func ObserveSlowPage(sort string) {
	Init()
	crawlerSlowPagesTotal.WithLabelValues(sort).Inc()
}

// ObservePartition counts a partition outcome.
func ObservePartition(sort, outcome string) {
	Init()
	crawlerPartitionsTotal.WithLabelValues(sort, outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveArchiveRows adds n written rows for a table and phase.
func ObserveArchiveRows(table, phase string, n int) {
	if n <= 0 {
		return
	}
	Init()
	archiveRowsTotal.WithLabelValues(table, phase).Add(float64(n))
}

// ObserveRun records a finished orchestrator run.
func ObserveRun(mode, status string, duration time.Duration) {
	Init()
	orchestratorRunsTotal.WithLabelValues(mode, status).Inc()
	orchestratorRunSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one request served by the ops listener.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	opsRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	opsRequestDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}
