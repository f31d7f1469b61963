package lock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	acquisitions    *prometheus.CounterVec
	acquireDuration prometheus.Histogram
	renewals        *prometheus.CounterVec
	releaseFailures prometheus.Counter
}

// newMetrics registers with reg. A nil registerer leaves the collectors
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		acquisitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_lock_acquisitions_total",
			Help: "Lock acquisition results",
		}, []string{"result"}),
		acquireDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wager_lock_acquire_seconds",
			Help:    "Time spent acquiring a lock, including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		renewals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_lock_renewals_total",
			Help: "Background lock renewal results",
		}, []string{"result"}),
		releaseFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "wager_lock_release_failures_total",
			Help: "Store-level lock release failures",
		}),
	}
}
