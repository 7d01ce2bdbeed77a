package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	ConflictRetries prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_commands_total",
				Help: "Total account commands processed.",
			},
			[]string{"op", "status"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_command_duration_seconds",
				Help:    "Account command duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		ConflictRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_version_conflict_retries_total",
				Help: "Total retries caused by balance version conflicts.",
			},
		),
	}

	registry.MustRegister(
		m.CommandsTotal,
		m.CommandDuration,
		m.ConflictRetries,
	)
	return m
}

func (m *Metrics) ObserveCommand(op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.CommandsTotal.WithLabelValues(op, status).Inc()
	m.CommandDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Metrics) IncConflictRetry() {
	if m == nil {
		return
	}
	m.ConflictRetries.Inc()
}
