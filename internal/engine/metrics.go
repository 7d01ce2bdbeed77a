package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics is the Prometheus implementation of the engine's Metrics
// interface.
type PromMetrics struct {
	OrderDuration  *prometheus.HistogramVec
	TradesMatched  *prometheus.CounterVec
	OrderbookDepth *prometheus.GaugeVec
	Spread         *prometheus.GaugeVec
}

func NewMetrics(registry *prometheus.Registry) *PromMetrics {
	m := &PromMetrics{
		OrderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_order_duration_seconds",
				Help:    "Order matching duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"symbol", "side", "type"},
		),
		TradesMatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_trades_matched_total",
				Help: "Total trades produced by matching.",
			},
			[]string{"symbol"},
		),
		OrderbookDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_orderbook_depth",
				Help: "Resting orders per book side.",
			},
			[]string{"symbol", "side"},
		),
		Spread: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_orderbook_spread",
				Help: "Best ask minus best bid.",
			},
			[]string{"symbol"},
		),
	}

	registry.MustRegister(
		m.OrderDuration,
		m.TradesMatched,
		m.OrderbookDepth,
		m.Spread,
	)
	return m
}

func (m *PromMetrics) ObserveOrder(symbol, side, orderType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OrderDuration.WithLabelValues(symbol, side, orderType).Observe(duration.Seconds())
}

func (m *PromMetrics) ObserveTrades(symbol string, count int) {
	if m == nil {
		return
	}
	m.TradesMatched.WithLabelValues(symbol).Add(float64(count))
}

func (m *PromMetrics) SetOrderbookDepth(symbol, side string, depth float64) {
	if m == nil {
		return
	}
	m.OrderbookDepth.WithLabelValues(symbol, side).Set(depth)
}

func (m *PromMetrics) SetOrderbookSpread(symbol string, spread float64) {
	if m == nil {
		return
	}
	m.Spread.WithLabelValues(symbol).Set(spread)
}
