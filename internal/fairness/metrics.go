package fairness

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	outcomes         *prometheus.CounterVec
	seedPairsCreated prometheus.Counter
	rotations        prometheus.Counter
	registerOnce     sync.Once
}

func newMetrics() *Metrics {
	return &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_fairness_outcomes_total",
			Help: "Total number of provably fair values drawn",
		}, []string{"mode"}),
		seedPairsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wager_fairness_seed_pairs_created_total",
			Help: "Total number of initial seed pairs created",
		}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wager_fairness_seed_rotations_total",
			Help: "Total number of seed pair rotations",
		}),
	}
}

// Register registers the metrics with reg. A nil registerer is a no-op and
// repeated calls after the first are ignored.
func (m *Metrics) Register(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	m.registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{m.outcomes, m.seedPairsCreated, m.rotations} {
			if err := reg.Register(c); err != nil {
				var already prometheus.AlreadyRegisteredError
				if !errors.As(err, &already) {
					panic(err)
				}
			}
		}
	})
}
