// Package metrics exposes Prometheus instrumentation for the backup
// orchestration engine, grounded on the pack's internal/metrics packages
// (package-level promauto collectors plus small Record*/Observe* helper
// functions, e.g. cartographus's internal/metrics). /metrics is served by
// promhttp.Handler() against the default registry these collectors
// register themselves into.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts every completed backup/restore attempt (§4.3, §4.6),
	// labeled by operation ("backup"|"restore"), trigger
	// ("scheduled"|"manual"), and terminal status ("success"|"failed").
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupd_runs_total",
			Help: "Total number of completed backup/restore runs",
		},
		[]string{"operation", "trigger", "status"},
	)

	// RunDurationSeconds tracks how long a run took end to end, labeled by
	// operation only — trigger/status would fragment the histogram without
	// adding useful signal.
	RunDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backupd_run_duration_seconds",
			Help:    "Duration of backup/restore runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"operation"},
	)

	// RetentionDeletionsTotal counts backups removed by a retention sweep
	// (§4.4), labeled by destination type so a misbehaving provider stands
	// out.
	RetentionDeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupd_retention_deletions_total",
			Help: "Total number of stored backups deleted by retention sweeps",
		},
		[]string{"destination_type"},
	)

	// OplockHeld reports whether the operation lock is currently held for a
	// given database family (§4.7), 1 for held and 0 for free. Labeled by
	// family so multiple independent lock families are distinguishable.
	OplockHeld = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backupd_oplock_held",
			Help: "Whether the operation lock is held for a database family (1=held, 0=free)",
		},
		[]string{"family"},
	)
)

// RecordRun records a completed run's outcome and duration.
func RecordRun(operation, trigger, status string, duration time.Duration) {
	RunsTotal.WithLabelValues(operation, trigger, status).Inc()
	RunDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRetentionDeletion records one backup removed by a retention sweep.
func RecordRetentionDeletion(destinationType string) {
	RetentionDeletionsTotal.WithLabelValues(destinationType).Inc()
}

// SetOplockHeld updates the held/free gauge for a lock family.
func SetOplockHeld(family string, held bool) {
	v := 0.0
	if held {
		v = 1.0
	}
	OplockHeld.WithLabelValues(family).Set(v)
}
