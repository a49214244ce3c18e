// Package observability provides Prometheus metrics for the ingestion pipeline.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Dispatcher
	InvocationsTotal *prometheus.CounterVec
	JobRunsTotal     *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	LastJobSuccess   *prometheus.GaugeVec

	// Pipeline
	RowsWritten    *prometheus.CounterVec
	UpstreamErrors *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_indexer"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		InvocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "invocations_total",
			Help:      "Trigger invocations by cadence and outcome",
		}, []string{"cadence", "outcome"}),
		JobRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "job_runs_total",
			Help:      "Job executions by cadence, job and status",
		}, []string{"cadence", "job", "status"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "job_duration_seconds",
			Help:      "Job execution latency",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"job"}),
		LastJobSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run per job",
		}, []string{"job"}),
		RowsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "rows_written_total",
			Help:      "Rows appended per table",
		}, []string{"table"}),
		UpstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "errors_total",
			Help:      "Failed upstream calls by provider",
		}, []string{"upstream"}),
	}
}

// ObserveJob records one job outcome.
func (m *Metrics) ObserveJob(cadence, job, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.JobRunsTotal.WithLabelValues(cadence, job, status).Inc()
	m.JobDuration.WithLabelValues(job).Observe(took.Seconds())
	if status == "completed" {
		m.LastJobSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}

// ObserveInvocation records one invocation outcome.
func (m *Metrics) ObserveInvocation(cadence, outcome string) {
	if m == nil {
		return
	}
	m.InvocationsTotal.WithLabelValues(cadence, outcome).Inc()
}

// AddRows counts rows written to a table.
func (m *Metrics) AddRows(table string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsWritten.WithLabelValues(table).Add(float64(n))
}

// UpstreamFailed counts a failed upstream call.
func (m *Metrics) UpstreamFailed(upstream string) {
	if m == nil {
		return
	}
	m.UpstreamErrors.WithLabelValues(upstream).Inc()
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
