// Package metrics defines the Prometheus metric collectors used across the
// server and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the server.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchHitsCount      prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	TasksEnqueuedTotal   *prometheus.CounterVec
	TasksAppliedTotal    *prometheus.CounterVec
	TaskApplyDuration    prometheus.Histogram
	TaskQueueDepth       prometheus.Gauge
	DocsIndexedTotal     prometheus.Counter
	ActiveIndexes        prometheus.Gauge
	DegradedIndexes      prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by index.",
			},
			[]string{"index"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"index"},
		),
		SearchHitsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_hits_count",
				Help:    "Number of hits matched per search query before pagination.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500, 1000},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		TasksEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasks_enqueued_total",
				Help: "Total write tasks enqueued by kind.",
			},
			[]string{"kind"},
		),
		TasksAppliedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasks_applied_total",
				Help: "Total write tasks that reached a terminal status.",
			},
			[]string{"status"},
		),
		TaskApplyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "task_apply_duration_seconds",
				Help:    "Time spent applying a single task to the index.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
		),
		TaskQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "task_queue_depth",
				Help: "Number of tasks waiting to be applied across all indexes.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents written to the index.",
			},
		),
		ActiveIndexes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_indexes",
				Help: "Number of indexes currently loaded.",
			},
		),
		DegradedIndexes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "degraded_indexes",
				Help: "Number of indexes in degraded (read-only) state.",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchHitsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.TasksEnqueuedTotal,
		m.TasksAppliedTotal,
		m.TaskApplyDuration,
		m.TaskQueueDepth,
		m.DocsIndexedTotal,
		m.ActiveIndexes,
		m.DegradedIndexes,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
