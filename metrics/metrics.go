package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Registry = prometheus.NewRegistry()

	// DriverAttempts observes how many attempts a driver operation
	// needed before succeeding.
	DriverAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lattice",
			Name:      "driver_attempts",
			Help:      "Attempts used per successful driver operation.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
		[]string{"op"},
	)

	// LockWaitSeconds observes time spent acquiring distributed locks.
	LockWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lattice",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for distributed locks.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// CascadeTasks counts cascade deletion tasks by outcome.
	CascadeTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lattice",
			Name:      "cascade_tasks_total",
			Help:      "Cascade deletion tasks executed, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		DriverAttempts,
		LockWaitSeconds,
		CascadeTasks,
	)
}
