package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the engine's Prometheus instruments, namespaced with
// "runengine_". Pass a dedicated registry in tests; the default registerer
// in production.
type Metrics struct {
	Transitions         *prometheus.CounterVec
	Dequeues            prometheus.Counter
	WaitpointsCompleted *prometheus.CounterVec
	TimerFires          *prometheus.CounterVec
	LockWaits           prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runengine",
			Name:      "transitions_total",
			Help:      "Snapshot transitions by resulting execution status.",
		}, []string{"execution_status"}),
		Dequeues: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "runengine",
			Name:      "dequeues_total",
			Help:      "Runs claimed from worker queues.",
		}),
		WaitpointsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runengine",
			Name:      "waitpoints_completed_total",
			Help:      "Waitpoint completions by source.",
		}, []string{"source"}),
		TimerFires: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runengine",
			Name:      "timer_fires_total",
			Help:      "Durable timer fires by kind.",
		}, []string{"kind"}),
		LockWaits: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "runengine",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for run locks.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),
	}
}
