package coordinator

import "github.com/prometheus/client_golang/prometheus"

var (
	rollbackAttemptCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "conditioning_service",
		Subsystem: "coordinator",
		Name:      "rollback_attempts_total",
		Help:      "Number of compensating log deletion attempts after a failed two-store create.",
	})

	inconsistencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conditioning_service",
		Subsystem: "coordinator",
		Name:      "inconsistencies_total",
		Help:      "Number of tolerated cross-store inconsistencies, by write kind.",
	}, []string{"operation"})
)

func init() {
	prometheus.MustRegister(rollbackAttemptCounter, inconsistencyCounter)
}

func recordRollbackAttempt() {
	rollbackAttemptCounter.Inc()
}

func recordInconsistency(operation string) {
	inconsistencyCounter.WithLabelValues(operation).Inc()
}
