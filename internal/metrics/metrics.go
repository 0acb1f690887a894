// Package metrics exposes Prometheus counters/gauges for the engine's
// operability, the way chidi150c-coinbase/metrics.go wires bot_* series
// registered at init() and served by an HTTP handler.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridsentinel_orders_placed_total",
			Help: "Orders placed by the reconciler during grid creation.",
		},
		[]string{"symbol", "side", "kind"},
	)

	OrdersReplaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridsentinel_orders_replaced_total",
			Help: "Counter-orders placed after a fill was observed.",
		},
		[]string{"symbol", "side"},
	)

	GateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridsentinel_gate_transitions_total",
			Help: "Gate start/stop transitions.",
		},
		[]string{"symbol", "action"},
	)

	Resets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridsentinel_resets_total",
			Help: "Grid resets, labeled by triggering reason.",
		},
		[]string{"symbol", "reason"},
	)

	LastBBW = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridsentinel_last_bbw",
			Help: "Last observed Bollinger Band Width per symbol.",
		},
		[]string{"symbol"},
	)

	PassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridsentinel_pass_duration_seconds",
			Help:    "Wall-clock duration of one symbol's reconciliation pass.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(OrdersPlaced, OrdersReplaced, GateTransitions, Resets, LastBBW, PassDuration)
}
