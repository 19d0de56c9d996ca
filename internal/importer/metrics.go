package importer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	occurrencesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calsync",
			Name:      "import_occurrences_total",
			Help:      "Occurrences processed by import, by outcome.",
		},
		[]string{"outcome"},
	)

	importRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calsync",
			Name:      "import_runs_total",
			Help:      "Import runs by result.",
		},
		[]string{"result"},
	)
)
