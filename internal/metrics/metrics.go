// Package metrics exposes Prometheus counters for workflow activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StatusTransitions counts committed status transitions by entity kind
	// and new status.
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "status_transitions_total",
		Help:      "Committed status transitions by entity kind and new status.",
	}, []string{"kind", "status"})

	// Awards counts award cascades by opportunity type.
	Awards = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "awards_total",
		Help:      "Award cascades by opportunity type.",
	}, []string{"type"})

	// ConsensusRounds counts finalized consensus rounds by opportunity type.
	ConsensusRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "consensus_rounds_total",
		Help:      "Finalized consensus rounds by opportunity type.",
	}, []string{"type"})
)
