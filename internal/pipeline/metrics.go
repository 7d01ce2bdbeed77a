package pipeline

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thy3368/rustlob-sub002/internal/command"
)

type Metrics struct {
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	RejectionsTotal *prometheus.CounterVec
	SettleFailures  prometheus.Counter
	ShardQueueDepth *prometheus.GaugeVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_commands_total",
				Help: "Total commands executed by the pipeline.",
			},
			[]string{"type", "status"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_command_duration_seconds",
				Help:    "End-to-end command execution duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		RejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_rejections_total",
				Help: "Total rejected commands by error code.",
			},
			[]string{"code"},
		),
		SettleFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_settle_failures_total",
				Help: "Total trades whose settlement failed.",
			},
		),
		ShardQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_shard_queue_depth",
				Help: "Pending commands per shard.",
			},
			[]string{"shard"},
		),
	}

	registry.MustRegister(
		m.CommandsTotal,
		m.CommandDuration,
		m.RejectionsTotal,
		m.SettleFailures,
		m.ShardQueueDepth,
	)
	return m
}

func (m *Metrics) ObserveCommand(cmdType string, cmdErr *command.Error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if cmdErr != nil {
		status = "rejected"
	}
	m.CommandsTotal.WithLabelValues(cmdType, status).Inc()
	m.CommandDuration.WithLabelValues(cmdType).Observe(duration.Seconds())
}

func (m *Metrics) IncRejection(code string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) IncSettleFailure() {
	if m == nil {
		return
	}
	m.SettleFailures.Inc()
}

func (m *Metrics) SetQueueDepth(shard, depth int) {
	if m == nil {
		return
	}
	m.ShardQueueDepth.WithLabelValues(strconv.Itoa(shard)).Set(float64(depth))
}
