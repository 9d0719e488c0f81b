package liquidity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func after(n Netting) map[string]float64 {
	m := make(map[string]float64)
	for _, a := range n.Adjustments {
		m[a.AccountID] = a.After
	}
	return m
}

func TestNetOffsetsOpposingExposure(t *testing.T) {
	t.Parallel()

	n := Net("EUR_USD", []Exposure{
		{AccountID: "A", Exposure: 130000, Desired: -100000},
		{AccountID: "B", Exposure: -50000, Desired: 10000},
		{AccountID: "C", Exposure: -70000, Desired: 20000},
	}, 1)

	got := after(n)
	assert.InDelta(t, -60000, n.Change, 1e-9)
	assert.InDelta(t, -60000, n.Absorbed, 1e-9)
	assert.InDelta(t, -100000, got["A"], 1e-9)
	assert.InDelta(t, 36666.666667, got["B"], 1e-5)
	assert.InDelta(t, 53333.333333, got["C"], 1e-5)

	// The company now only hedges its net exposure.
	assert.InDelta(t, -10000, n.NetDesired(), 1e-6)
	assert.InDelta(t, 90000, n.Stats.PoolSize, 1e-9)
	assert.InDelta(t, 2.0/3, n.Stats.Utilization, 1e-9)
	assert.InDelta(t, 30000, n.Stats.LiquidityChange, 1e-6)
}

func TestNetLeavesDeliberateUnderHedgeAlone(t *testing.T) {
	t.Parallel()

	in := []Exposure{
		{AccountID: "A", Exposure: 100000, Desired: -50000},
		{AccountID: "B", Exposure: 50000, Desired: -25000},
	}
	n := Net("EUR_USD", in, 1)

	assert.Equal(t, 0.0, n.Absorbed)
	assert.Equal(t, map[string]float64{"A": -50000, "B": -25000}, after(n))
}

func TestNetPartialUtilization(t *testing.T) {
	t.Parallel()

	n := Net("EUR_USD", []Exposure{
		{AccountID: "A", Exposure: 130000, Desired: -100000},
		{AccountID: "B", Exposure: -50000, Desired: 10000},
		{AccountID: "C", Exposure: -70000, Desired: 20000},
	}, 0.5)

	assert.InDelta(t, -30000, n.Absorbed, 1e-9)
	assert.InDelta(t, -40000, n.NetDesired(), 1e-6)
}

func TestNetFullyHedgedIsNoop(t *testing.T) {
	t.Parallel()

	n := Net("USD_JPY", []Exposure{
		{AccountID: "A", Exposure: 1000, Desired: -1000},
		{AccountID: "B", Exposure: -500, Desired: 500},
	}, 1)

	assert.Equal(t, 0.0, n.Change)
	assert.Equal(t, 0.0, n.Absorbed)
	assert.Equal(t, map[string]float64{"A": -1000, "B": 500}, after(n))
}
