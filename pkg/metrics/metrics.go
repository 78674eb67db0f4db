// Package metrics defines the Prometheus metric collectors used across the
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	EventsIngestedTotal     *prometheus.CounterVec
	BatchesProcessedTotal   *prometheus.CounterVec
	BatchProcessingDuration prometheus.Histogram
	EventsAggregatedTotal   prometheus.Counter
	JobsDeadLetteredTotal   prometheus.Counter

	ReaggregationRunsTotal *prometheus.CounterVec
	ReaggregationDuration  prometheus.Histogram
	RetentionDeletedTotal  *prometheus.CounterVec
	RateLimitDecisions     *prometheus.CounterVec
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
		EventsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_ingested_total",
				Help: "Total rows handled at ingestion by result (inserted, invalid, duplicate, error).",
			},
			[]string{"result"},
		),
		BatchesProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batches_processed_total",
				Help: "Total batch jobs handled by outcome (completed, failed, skipped, requeued).",
			},
			[]string{"outcome"},
		),
		BatchProcessingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batch_processing_duration_seconds",
				Help:    "Time spent processing a single batch job.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		EventsAggregatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "events_aggregated_total",
				Help: "Total events folded into daily aggregates.",
			},
		),
		JobsDeadLetteredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jobs_dead_lettered_total",
				Help: "Total batch jobs moved to the dead-letter surface.",
			},
		),
		ReaggregationRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reaggregation_runs_total",
				Help: "Total full-reaggregation runs by status (ok, error).",
			},
			[]string{"status"},
		),
		ReaggregationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reaggregation_duration_seconds",
				Help:    "Duration of full-reaggregation runs.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
		),
		RetentionDeletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retention_deleted_total",
				Help: "Total rows removed by the retention sweeper by kind (events, batches).",
			},
			[]string{"kind"},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_decisions_total",
				Help: "Upload rate-guard decisions by outcome (allow, deny, error).",
			},
			[]string{"decision"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.EventsIngestedTotal,
		m.BatchesProcessedTotal,
		m.BatchProcessingDuration,
		m.EventsAggregatedTotal,
		m.JobsDeadLetteredTotal,
		m.ReaggregationRunsTotal,
		m.ReaggregationDuration,
		m.RetentionDeletedTotal,
		m.RateLimitDecisions,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
