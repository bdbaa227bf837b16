package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mysql_bq_sync_build_info",
			Help: "Build information of the sync engine",
		},
		[]string{"version", "commit", "date"},
	)

	TableSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mysql_bq_sync_table_sync_total",
			Help: "Total number of table syncs",
		},
		[]string{"mode", "status"},
	)

	TableSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mysql_bq_sync_table_sync_duration_seconds",
			Help:    "Duration of table syncs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~205s
		},
		[]string{"mode"},
	)

	RecordsSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mysql_bq_sync_records_synced_total",
			Help: "Total number of records written to the warehouse",
		},
		[]string{"mode"},
	)

	WarehouseJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mysql_bq_sync_warehouse_jobs_total",
			Help: "Total number of warehouse load/query jobs",
		},
		[]string{"kind", "status"},
	)

	CoercionFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mysql_bq_sync_coercion_fallbacks_total",
			Help: "Total number of values that fell back to STRING during type coercion",
		},
	)
)
