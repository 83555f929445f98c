package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheUsersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "conditioning_service",
		Subsystem: "cache",
		Name:      "users",
		Help:      "Number of user entries in the conditioning log cache.",
	})
	cacheLogsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "conditioning_service",
		Subsystem: "cache",
		Name:      "logs",
		Help:      "Total number of logs held in the conditioning log cache.",
	})
	cacheLoadedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "conditioning_service",
		Subsystem: "cache",
		Name:      "last_load_timestamp_seconds",
		Help:      "Unix timestamp of the most recent full cache load.",
	})
	promotionCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "conditioning_service",
		Subsystem: "cache",
		Name:      "promotions_total",
		Help:      "Number of cached overview logs promoted to full detail.",
	})
)

func init() {
	prometheus.MustRegister(cacheUsersGauge, cacheLogsGauge, cacheLoadedGauge, promotionCounter)
}

// RecordCacheSize updates the cache population gauges.
func RecordCacheSize(users, logs int) {
	cacheUsersGauge.Set(float64(users))
	cacheLogsGauge.Set(float64(logs))
}

// RecordCacheLoaded updates the full-load watermark gauge.
func RecordCacheLoaded(ts time.Time) {
	if ts.IsZero() {
		return
	}
	cacheLoadedGauge.Set(float64(ts.Unix()))
}

// RecordPromotion counts one overview-to-detail promotion.
func RecordPromotion() {
	promotionCounter.Inc()
}
