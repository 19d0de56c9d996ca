package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	duplicatesRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "calsync",
			Name:      "audit_duplicates_removed_total",
			Help:      "Duplicate appointments deleted by the audit.",
		},
	)

	auditRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calsync",
			Name:      "audit_runs_total",
			Help:      "Audit runs by result.",
		},
		[]string{"result"},
	)
)
