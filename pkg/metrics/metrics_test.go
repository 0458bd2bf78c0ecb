package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.OrderSubmitted("ACME", "buy", "limit")
	m.TradeExecuted("ACME", 1, 50)
	m.ObserveMatch("ACME", time.Millisecond)
	m.EventDropped()
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OrderSubmitted("ACME", "buy", "limit")
	m.OrderRejected("ACME", "InsufficientResource")
	m.TradeExecuted("ACME", 60, 3000)
	m.TradeExecuted("ACME", 40, 2000)
	m.SetResting("ACME", 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersSubmitted.WithLabelValues("ACME", "buy", "limit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tradesExecuted.WithLabelValues("ACME")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.tradedVolume.WithLabelValues("ACME")))
	assert.Equal(t, 5000.0, testutil.ToFloat64(m.tradedNotional.WithLabelValues("ACME")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.restingOrders.WithLabelValues("ACME")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
