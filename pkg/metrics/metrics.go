package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_commands_total",
			Help: "Total number of balancer commands by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_command_duration_seconds",
			Help:    "End-to-end balancer command duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	CommandsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_commands_in_flight",
			Help: "Number of balancer commands currently dispatched",
		},
	)

	CommandsRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_commands_recovered_total",
			Help: "Total number of commands re-issued from the persistent log",
		},
	)

	// Lock metrics
	LockAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_lock_acquisitions_total",
			Help: "Total number of distributed lock acquisition attempts by result",
		},
		[]string{"result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(CommandsInFlight)
	prometheus.MustRegister(CommandsRecovered)
	prometheus.MustRegister(LockAcquisitionsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on the given histogram
func (t *Timer) ObserveDuration(histogram prometheus.Observer) {
	histogram.Observe(t.Duration().Seconds())
}
