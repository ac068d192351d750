package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queryExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqldump_query_executions_total",
			Help: "Total number of stored query executions by outcome.",
		},
		[]string{"outcome"},
	)
	queryExecutionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqldump_query_execution_latency_ms",
			Help:    "Stored query execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqldump_query_rows_returned",
			Help:    "Rows returned per stored query execution.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)
	documentsRenderedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqldump_documents_rendered_total",
			Help: "Total number of rendered documents by format.",
		},
		[]string{"format"},
	)
	renderFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqldump_render_failures_total",
			Help: "Total number of serialization failures by format.",
		},
		[]string{"format"},
	)
	notAcceptableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqldump_not_acceptable_total",
			Help: "Total number of requests with no acceptable media type.",
		},
	)
	exportsStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqldump_exports_stored_total",
			Help: "Total number of rendered documents written to object storage.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		queryExecutionsTotal,
		queryExecutionLatencyMs,
		queryRowsReturned,
		documentsRenderedTotal,
		renderFailuresTotal,
		notAcceptableTotal,
		exportsStoredTotal,
	)
}

// ObserveQueryExecution records one execution; outcome is "ok" or an
// execution error kind.
func ObserveQueryExecution(outcome string, rows int, elapsed time.Duration) {
	queryExecutionsTotal.WithLabelValues(outcome).Inc()
	queryExecutionLatencyMs.Observe(float64(elapsed.Milliseconds()))
	if outcome == "ok" {
		queryRowsReturned.Observe(float64(rows))
	}
}

func IncrementDocumentsRendered(format string) {
	documentsRenderedTotal.WithLabelValues(format).Inc()
}

func IncrementRenderFailure(format string) {
	renderFailuresTotal.WithLabelValues(format).Inc()
}

func IncrementNotAcceptable() {
	notAcceptableTotal.Inc()
}

func IncrementExportsStored() {
	exportsStoredTotal.Inc()
}
