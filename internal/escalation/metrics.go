package escalation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var escalationsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "laya",
		Subsystem: "escalations",
		Name:      "processed_total",
		Help:      "Escalations processed by type and outcome",
	},
	[]string{"type", "outcome"},
)

// recordEscalation records one processed escalation by type and outcome.
func recordEscalation(typ, outcome string) {
	escalationsProcessed.WithLabelValues(typ, outcome).Inc()
}
