// Package metrics exposes Prometheus collectors for the matching engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "exchange"

type Metrics struct {
	ordersSubmitted *prometheus.CounterVec
	ordersRejected  *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	tradesExecuted  *prometheus.CounterVec
	tradedVolume    *prometheus.CounterVec
	tradedNotional  *prometheus.CounterVec
	matchLatency    *prometheus.HistogramVec
	instrumentHalts *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	restingOrders   *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Orders received by the engine",
		}, []string{"instrument", "side", "kind"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Orders rejected at admission, by error kind",
		}, []string{"instrument", "reason"}),
		ordersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Orders cancelled by owner or market-order remainder",
		}, []string{"instrument"}),
		tradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_executed_total",
			Help:      "Trades settled",
		}, []string{"instrument"}),
		tradedVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_shares_total",
			Help:      "Shares traded",
		}, []string{"instrument"}),
		tradedNotional: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_notional_ticks_total",
			Help:      "Cash exchanged in trades, in ticks",
		}, []string{"instrument"}),
		matchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Time spent inside the instrument's matching path per submit",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		}, []string{"instrument"}),
		instrumentHalts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instrument_halts_total",
			Help:      "Instruments halted after an invariant violation",
		}, []string{"instrument"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events published after the bus was closed",
		}),
		restingOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resting_orders",
			Help:      "Orders resting in the book",
		}, []string{"instrument"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ordersSubmitted, m.ordersRejected, m.ordersCancelled,
			m.tradesExecuted, m.tradedVolume, m.tradedNotional,
			m.matchLatency, m.instrumentHalts, m.eventsDropped, m.restingOrders,
		)
	}
	return m
}

func (m *Metrics) OrderSubmitted(instrument, side, kind string) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(instrument, side, kind).Inc()
}

func (m *Metrics) OrderRejected(instrument, reason string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(instrument, reason).Inc()
}

func (m *Metrics) OrderCancelled(instrument string) {
	if m == nil {
		return
	}
	m.ordersCancelled.WithLabelValues(instrument).Inc()
}

func (m *Metrics) TradeExecuted(instrument string, qty, notional int64) {
	if m == nil {
		return
	}
	m.tradesExecuted.WithLabelValues(instrument).Inc()
	m.tradedVolume.WithLabelValues(instrument).Add(float64(qty))
	m.tradedNotional.WithLabelValues(instrument).Add(float64(notional))
}

func (m *Metrics) ObserveMatch(instrument string, d time.Duration) {
	if m == nil {
		return
	}
	m.matchLatency.WithLabelValues(instrument).Observe(d.Seconds())
}

func (m *Metrics) InstrumentHalted(instrument string) {
	if m == nil {
		return
	}
	m.instrumentHalts.WithLabelValues(instrument).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) SetResting(instrument string, n int) {
	if m == nil {
		return
	}
	m.restingOrders.WithLabelValues(instrument).Set(float64(n))
}
