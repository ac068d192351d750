package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqldump_http_requests_total",
			Help: "Total number of HTTP requests by mux route.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqldump_http_request_duration_seconds",
			Help:    "HTTP request latency by mux route.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status"},
	)

	documentBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqldump_document_bytes",
			Help:    "Size of successfully served query documents by format.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
		[]string{"format"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDurationSeconds, documentBytes)
}
