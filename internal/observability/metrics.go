// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Fetch metrics
	PagesFetched *prometheus.CounterVec
	ItemsFetched *prometheus.CounterVec
	FetchRetries *prometheus.CounterVec

	// Pipeline metrics
	PipelineRunsTotal *prometheus.CounterVec
	PipelineDuration  *prometheus.HistogramVec
	RowsProduced      *prometheus.GaugeVec
	UndefinedRows     *prometheus.GaugeVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulPipeline prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on reg.
// A nil reg registers on the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "trove_capacity_lab"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Fetch metrics
		PagesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subgraph",
			Name:      "pages_fetched_total",
			Help:      "Total number of pages fetched by collection",
		}, []string{"collection"}),
		ItemsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subgraph",
			Name:      "items_fetched_total",
			Help:      "Total number of records fetched by collection",
		}, []string{"collection"}),
		FetchRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subgraph",
			Name:      "retries_total",
			Help:      "Total number of page fetch retries by collection",
		}, []string{"collection"}),

		// Pipeline metrics
		PipelineRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by status",
		}, []string{"phase", "status"}),
		PipelineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Pipeline execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"phase"}),
		RowsProduced: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "rows",
			Help:      "Rows produced by the last run per table",
		}, []string{"table"}),
		UndefinedRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "undefined_rows",
			Help:      "Rows with at least one undefined metric in the last run per table",
		}, []string{"table"}),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulPipeline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_pipeline_timestamp",
			Help:      "Unix timestamp of last successful pipeline run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPipelineRun records a pipeline run.
func (m *Metrics) RecordPipelineRun(phase, status string, durationSeconds float64) {
	m.PipelineRunsTotal.WithLabelValues(phase, status).Inc()
	m.PipelineDuration.WithLabelValues(phase).Observe(durationSeconds)
}

// RecordRows sets the row and undefined-row gauges for a table.
func (m *Metrics) RecordRows(table string, rows, undefined int) {
	m.RowsProduced.WithLabelValues(table).Set(float64(rows))
	m.UndefinedRows.WithLabelValues(table).Set(float64(undefined))
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
