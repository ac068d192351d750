package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	retentionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqldump_export_retention_runs_total",
			Help: "Total number of export retention runs by status.",
		},
		[]string{"status"},
	)
	exportsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqldump_exports_pruned_total",
			Help: "Total number of exports deleted by retention runs.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		retentionRunsTotal,
		exportsPrunedTotal,
	)
}
