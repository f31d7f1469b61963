package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	mutations      *prometheus.CounterVec
	replays        prometheus.Counter
	applyDuration  prometheus.Histogram
	notifyFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_ledger_mutations_total",
			Help: "Balance mutations by operation and status",
		}, []string{"operation", "status"}),
		replays: factory.NewCounter(prometheus.CounterOpts{
			Name: "wager_ledger_replays_total",
			Help: "Mutations short-circuited by an existing operation id",
		}),
		applyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wager_ledger_apply_seconds",
			Help:    "Time spent applying a batch, lock wait included",
			Buckets: prometheus.DefBuckets,
		}),
		notifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "wager_ledger_notify_failures_total",
			Help: "Balance notifications that failed to deliver",
		}),
	}
}
