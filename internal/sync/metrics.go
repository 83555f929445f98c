package sync

import "github.com/prometheus/client_golang/prometheus"

var (
	appliedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conditioning_service",
		Subsystem: "sync",
		Name:      "events_applied_total",
		Help:      "Number of store events applied to the cache.",
	}, []string{"stream", "event_type"})

	droppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conditioning_service",
		Subsystem: "sync",
		Name:      "events_dropped_total",
		Help:      "Number of malformed or unapplicable store events dropped.",
	}, []string{"stream"})
)

func init() {
	prometheus.MustRegister(appliedCounter, droppedCounter)
}

func recordApplied(stream, eventType string) {
	appliedCounter.WithLabelValues(stream, eventType).Inc()
}

func recordDropped(stream string) {
	droppedCounter.WithLabelValues(stream).Inc()
}
