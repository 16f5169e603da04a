// Package metrics exposes Prometheus collectors for the order lifecycle.
//
//   - breakout_orders_placed_total{role}       orders placed by semantic role
//   - breakout_cancels_total{result}           cancel requests by broker result
//   - breakout_fills_total{outcome}            fills reduced to a lifecycle outcome
//   - breakout_exits_total{reason,side}        closed trades by exit reason
//   - breakout_halts_total                     reconciliation halts raised
//   - breakout_open_positions                  instruments currently in a position
//   - breakout_pending_entries                 instruments with a staged entry pair
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	ordersPlaced   *prometheus.CounterVec
	cancels        *prometheus.CounterVec
	fills          *prometheus.CounterVec
	exits          *prometheus.CounterVec
	halts          prometheus.Counter
	openPositions  prometheus.Gauge
	pendingEntries prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakout_orders_placed_total",
				Help: "Orders placed, by semantic role",
			},
			[]string{"role"},
		),
		cancels: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakout_cancels_total",
				Help: "Cancel requests, by broker result",
			},
			[]string{"result"},
		),
		fills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakout_fills_total",
				Help: "Fills reduced to a lifecycle outcome",
			},
			[]string{"outcome"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakout_exits_total",
				Help: "Closed trades split by exit reason and side",
			},
			[]string{"reason", "side"},
		),
		halts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "breakout_halts_total",
				Help: "Instruments halted after a reconciliation divergence",
			},
		),
		openPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "breakout_open_positions",
				Help: "Instruments the bot believes are in a position",
			},
		),
		pendingEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "breakout_pending_entries",
				Help: "Instruments with a staged entry pair",
			},
		),
	}
	reg.MustRegister(m.ordersPlaced, m.cancels, m.fills, m.exits, m.halts, m.openPositions, m.pendingEntries)
	return m
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderPlaced(role string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(role).Inc()
}

func (m *Metrics) Cancel(result string) {
	if m == nil {
		return
	}
	m.cancels.WithLabelValues(result).Inc()
}

func (m *Metrics) Fill(outcome string) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Exit(reason, side string) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(reason, side).Inc()
}

func (m *Metrics) Halt() {
	if m == nil {
		return
	}
	m.halts.Inc()
}

func (m *Metrics) SetBook(openPositions, pendingEntries int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(openPositions))
	m.pendingEntries.Set(float64(pendingEntries))
}
