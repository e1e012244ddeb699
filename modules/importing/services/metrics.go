package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "import",
		Subsystem: "package",
		Name:      "transitions_total",
		Help:      "Total number of import package status transitions.",
	}, []string{"from", "to"})

	importStagedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "import",
		Subsystem: "staging",
		Name:      "records_total",
		Help:      "Total number of staging records inserted, by entity type.",
	}, []string{"entity_type"})

	importValidationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "import",
		Subsystem: "validation",
		Name:      "outcomes_total",
		Help:      "Total number of staging record validation outcomes.",
	}, []string{"entity_type", "outcome"})

	importConflictsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "import",
		Subsystem: "conflicts",
		Name:      "detected_total",
		Help:      "Total number of conflicts detected, by type and confidence.",
	}, []string{"type", "confidence"})

	importConflictsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "import",
		Subsystem: "conflicts",
		Name:      "resolved_total",
		Help:      "Total number of conflicts resolved, by action and whether a rule resolved them.",
	}, []string{"action", "auto"})

	importCommitRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "import",
		Subsystem: "commit",
		Name:      "records_total",
		Help:      "Total number of staging records processed by commits, by entity type and result.",
	}, []string{"entity_type", "result"})

	importCommitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "import",
		Subsystem: "commit",
		Name:      "duration_seconds",
		Help:      "Duration of package commits, by final status.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"status"})
)

func recordTransition(from, to string) {
	importTransitions.WithLabelValues(from, to).Inc()
}

func recordConflictResolved(action string, auto bool) {
	label := "false"
	if auto {
		label = "true"
	}
	importConflictsResolved.WithLabelValues(action, label).Inc()
}

func observeCommit(status string, started time.Time) {
	importCommitDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
}
