package vmconn

import "github.com/prometheus/client_golang/prometheus"

var (
	reconnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vmconn",
			Subsystem: "session",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnect attempts by result",
		},
		[]string{"host", "result"},
	)

	commandTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vmconn",
			Subsystem: "exec",
			Name:      "command_timeouts_total",
			Help:      "Total number of commands aborted at their deadline",
		},
		[]string{"host"},
	)

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vmconn",
			Subsystem: "exec",
			Name:      "command_duration_seconds",
			Help:      "Wall-clock duration of executed commands in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"host"},
	)

	livenessEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vmconn",
			Subsystem: "health",
			Name:      "evaluations_total",
			Help:      "Total number of liveness evaluations by level and verdict",
		},
		[]string{"host", "level", "verdict"},
	)
)

// MustRegisterMetrics registers the package's collectors with reg, typically
// prometheus.DefaultRegisterer. Call at most once per registry; the library
// never registers anything on its own.
func MustRegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		reconnectAttempts,
		commandTimeouts,
		commandDuration,
		livenessEvaluations,
	)
}
