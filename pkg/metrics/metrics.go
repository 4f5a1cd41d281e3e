// Package metrics exposes engine and settlement counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uhyunpark/hyperfill/pkg/settlement"
)

type Metrics struct {
	reg *prometheus.Registry

	orders        *prometheus.CounterVec
	orderRejects  *prometheus.CounterVec
	orderLatency  *prometheus.HistogramVec
	trades        *prometheus.CounterVec
	restingOrders *prometheus.GaugeVec

	legs        *prometheus.CounterVec
	legLatency  *prometheus.HistogramVec
	attempts    *prometheus.CounterVec
	strandedLeg prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperfill_orders_total",
			Help: "Orders processed, by market and outcome task.",
		}, []string{"symbol", "task"}),
		orderRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperfill_order_rejections_total",
			Help: "Orders rejected before touching the book.",
		}, []string{"symbol", "reason"}),
		orderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hyperfill_order_latency_seconds",
			Help:    "Time spent in the matching book per order.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"symbol"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperfill_trades_total",
			Help: "Trades appended to the tape.",
		}, []string{"symbol"}),
		restingOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperfill_resting_orders",
			Help: "Orders resting on the book.",
		}, []string{"symbol", "side"}),
		legs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperfill_settlement_legs_total",
			Help: "Settlement legs by network and terminal status.",
		}, []string{"leg", "network", "status"}),
		legLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hyperfill_settlement_leg_seconds",
			Help:    "Wall time per settlement leg.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 11),
		}, []string{"leg", "network"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperfill_settlement_attempts_total",
			Help: "Settlement attempts by outcome.",
		}, []string{"outcome"}),
		strandedLeg: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hyperfill_settlement_stranded_total",
			Help: "Attempts where exactly one leg settled.",
		}),
	}
	m.reg.MustRegister(
		m.orders, m.orderRejects, m.orderLatency, m.trades, m.restingOrders,
		m.legs, m.legLatency, m.attempts, m.strandedLeg,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveOrder(symbol, task string, elapsed time.Duration, trades int) {
	m.orders.WithLabelValues(symbol, task).Inc()
	m.orderLatency.WithLabelValues(symbol).Observe(elapsed.Seconds())
	if trades > 0 {
		m.trades.WithLabelValues(symbol).Add(float64(trades))
	}
}

func (m *Metrics) ObserveReject(symbol, reason string) {
	m.orderRejects.WithLabelValues(symbol, reason).Inc()
}

func (m *Metrics) SetResting(symbol string, bids, asks int) {
	m.restingOrders.WithLabelValues(symbol, "bid").Set(float64(bids))
	m.restingOrders.WithLabelValues(symbol, "ask").Set(float64(asks))
}

func (m *Metrics) ObserveLeg(leg settlement.Leg, network string, status settlement.LegStatus, elapsed time.Duration) {
	m.legs.WithLabelValues(string(leg), network, string(status)).Inc()
	m.legLatency.WithLabelValues(string(leg), network).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveAttempt(settled, stranded bool) {
	switch {
	case settled:
		m.attempts.WithLabelValues("settled").Inc()
	case stranded:
		m.attempts.WithLabelValues("stranded").Inc()
		m.strandedLeg.Inc()
	default:
		m.attempts.WithLabelValues("failed").Inc()
	}
}

var _ settlement.Recorder = (*Metrics)(nil)
