// Package metrics holds the Prometheus instruments shared by the sync and
// curation paths. They register on the default registry, which the API
// serves at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImportResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catsync_import_results_total",
		Help: "Total number of per-record import outcomes, labelled by record type and result.",
	}, []string{"type", "result"})

	ImportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catsync_import_errors_total",
		Help: "Total number of per-record import errors, labelled by record type and error code.",
	}, []string{"type", "code"})

	SyncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catsync_sync_passes_total",
		Help: "Total number of sync passes, labelled by record type and status (ok, failed, cancelled).",
	}, []string{"type", "status"})

	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catsync_sync_duration_seconds",
		Help:    "Wall time of a sync pass in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"type"})

	SyncBacklog = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "catsync_sync_backlog_records",
		Help: "Records left to process in the running sync pass.",
	}, []string{"type"})

	ApplyConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catsync_apply_version_conflicts_total",
		Help: "Total number of conditional writes rejected by a version mismatch and retried.",
	})

	AuditEventsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catsync_audit_events_total",
		Help: "Total number of audit events appended, labelled by action.",
	}, []string{"action"})

	AuditPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catsync_audit_publish_failures_total",
		Help: "Total number of failed best-effort audit stream publishes.",
	})

	CurationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catsync_curation_requests_total",
		Help: "Total number of curation operations, labelled by operation and status.",
	}, []string{"operation", "status"})

	IntegrityIssues = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "catsync_integrity_issues",
		Help: "Duplicates whose canonical target is missing or not active, from the last integrity scan.",
	}, []string{"type", "kind"})
)
