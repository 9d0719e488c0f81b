package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/fxhedge/broker"
	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/market"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	return New(market.NewSpotCache(map[string]float64{"EUR_USD": 1.1, "USD_JPY": 150}))
}

func TestSubmitFillsAndBooks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newTestBroker(t)
	b.Commission = 0.0001

	ref, err := b.SubmitOrder(ctx, broker.OrderRequest{Pair: "EUR/USD", Amount: 10000, BrokerAccountID: "001", CycleID: "c1"})
	require.NoError(t, err)

	tk, err := b.TicketState(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, hedge.StateFilled, tk.State)
	assert.Equal(t, "EUR_USD", tk.Pair)
	assert.Equal(t, 10000.0, tk.AmountFilled)
	assert.Equal(t, 1.1, tk.AveragePrice)
	assert.InDelta(t, 1.0, tk.Commission, 1e-12)

	pos, err := b.Positions(ctx, "001")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"EUR_USD": 10000}, pos)
	assert.Equal(t, []string{ref}, b.Tickets("c1"))
}

func TestSubmitPartialAndRejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newTestBroker(t)
	b.FillRatio["EUR_USD"] = 0.5
	b.Reject["USD_JPY"] = true

	ref, err := b.SubmitOrder(ctx, broker.OrderRequest{Pair: "EUR_USD", Amount: -4000, BrokerAccountID: "001"})
	require.NoError(t, err)
	tk, err := b.TicketState(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, hedge.StatePtlCancel, tk.State)
	assert.Equal(t, -2000.0, tk.AmountFilled)
	assert.Equal(t, -2000.0, tk.AmountRemaining)

	ref, err = b.SubmitOrder(ctx, broker.OrderRequest{Pair: "USD_JPY", Amount: 1000, BrokerAccountID: "001"})
	require.NoError(t, err)
	tk, err = b.TicketState(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, hedge.StateRejected, tk.State)
	assert.Equal(t, 0.0, tk.AmountFilled)

	pos, err := b.Positions(ctx, "001")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"EUR_USD": -2000}, pos)
}

func TestTicketPendsBeforeFinalState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newTestBroker(t)
	b.PendingPolls = 2

	ref, err := b.SubmitOrder(ctx, broker.OrderRequest{Pair: "EUR_USD", Amount: 1000, BrokerAccountID: "001"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		tk, err := b.TicketState(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, hedge.StateWorking, tk.State)
	}
	tk, err := b.TicketState(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, hedge.StateFilled, tk.State)
}

func TestOutageAndUnknownTicket(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newTestBroker(t)

	_, err := b.TicketState(ctx, "nope")
	assert.ErrorIs(t, err, hedge.ErrTicketUnknown)

	b.SetDown(true)
	_, err = b.Positions(ctx, "001")
	assert.ErrorIs(t, err, hedge.ErrUnavailable)
	_, err = b.SubmitOrder(ctx, broker.OrderRequest{Pair: "EUR_USD", Amount: 1000})
	assert.ErrorIs(t, err, hedge.ErrUnavailable)

	b.SetDown(false)
	b.SetCash("001", "USD", 5000)
	cash, err := b.CashHoldings(ctx, "001")
	require.NoError(t, err)
	assert.Equal(t, 5000.0, cash["USD"])
}
