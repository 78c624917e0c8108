// Package metrics exposes Prometheus metrics for detection runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DetectionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cost_anomaly_detection_runs_total",
			Help: "Total number of detection runs",
		},
		[]string{"status"}, // ok/error
	)

	DetectionRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cost_anomaly_detection_run_duration_seconds",
			Help:    "Detection run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)

	CandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cost_anomaly_candidates_total",
			Help: "Anomaly candidates produced by detectors before deduplication",
		},
		[]string{"type"},
	)

	StoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cost_anomaly_stored_total",
			Help: "Anomalies persisted after deduplication",
		},
		[]string{"type"},
	)

	CategoriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cost_anomaly_categories_total",
			Help: "Categories processed per detection strategy",
		},
		[]string{"strategy"}, // model/rules/skipped/failed
	)

	ImportedRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cost_anomaly_imported_records_total",
			Help: "Cost records imported",
		},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cost_anomaly_notifications_total",
			Help: "Telegram notifications sent",
		},
		[]string{"status"}, // sent/error/below_severity
	)
)
