package oanda

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/fxhedge/broker"
	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/market"
)

var timeZero time.Time

func newTestServer(t *testing.T, routes map[string]http.HandlerFunc) *Client {
	t.Helper()

	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return New(srv.URL, "test-token", 1000)
}

func TestBaseURL(t *testing.T) {
	t.Parallel()

	u, err := BaseURL("practice")
	require.NoError(t, err)
	assert.Equal(t, "https://api-fxpractice.oanda.com", u)

	u, err = BaseURL("LIVE")
	require.NoError(t, err)
	assert.Equal(t, "https://api-fxtrade.oanda.com", u)

	_, err = BaseURL("staging")
	assert.Error(t, err)
}

func TestPositionsNetsLongAndShort(t *testing.T) {
	t.Parallel()

	c := newTestServer(t, map[string]http.HandlerFunc{
		"GET /v3/accounts/001/openPositions": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			_, _ = io.WriteString(w, `{"positions":[
				{"instrument":"EUR_USD","long":{"units":"5000"},"short":{"units":"-2000"}},
				{"instrument":"USD_JPY","long":{"units":"0"},"short":{"units":"-700"}},
				{"instrument":"GBP_USD","long":{"units":"100"},"short":{"units":"-100"}}
			]}`)
		},
	})

	pos, err := c.Positions(context.Background(), "001")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"EUR_USD": 3000, "USD_JPY": -700}, pos)
}

func TestSubmitAndTicketState(t *testing.T) {
	t.Parallel()

	c := newTestServer(t, map[string]http.HandlerFunc{
		"POST /v3/accounts/001/orders": func(w http.ResponseWriter, r *http.Request) {
			b, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			var body orderBody
			require.NoError(t, sonic.Unmarshal(b, &body))
			assert.Equal(t, "EUR_USD", body.Order.Instrument)
			assert.Equal(t, "-2000", body.Order.Units)
			assert.Equal(t, "cyc1", body.Order.ClientExtensions.Tag)
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"orderCreateTransaction":{"id":"42"}}`)
		},
		"GET /v3/accounts/001/orders/42": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"order":{"id":"42","instrument":"EUR_USD","units":"-2000",
				"state":"FILLED","fillingTransactionID":"43","clientExtensions":{"tag":"cyc1"}}}`)
		},
		"GET /v3/accounts/001/transactions/43": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"transaction":{"units":"-2000","price":"1.0850","commission":"0.40"}}`)
		},
	})

	ctx := context.Background()
	ref, err := c.SubmitOrder(ctx, broker.OrderRequest{Pair: "EUR/USD", Amount: -2000, BrokerAccountID: "001", CycleID: "cyc1"})
	require.NoError(t, err)
	assert.Equal(t, "001/42", ref)

	tk, err := c.TicketState(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, hedge.StateFilled, tk.State)
	assert.Equal(t, "cyc1", tk.CycleID)
	assert.Equal(t, -2000.0, tk.AmountFilled)
	assert.Equal(t, 0.0, tk.AmountRemaining)
	assert.InDelta(t, 1.085, tk.AveragePrice, 1e-12)
	assert.InDelta(t, 0.40, tk.Commission, 1e-12)
}

func TestErrorsAreClassified(t *testing.T) {
	t.Parallel()

	c := newTestServer(t, map[string]http.HandlerFunc{
		"GET /v3/accounts/001/openPositions": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
		"GET /v3/accounts/001/orders/7": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
		"GET /v3/accounts/001/orders/8": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"order":{"id":"8","instrument":"EUR_USD","units":"100","state":"PENDING"}}`)
		},
	})
	ctx := context.Background()

	_, err := c.Positions(ctx, "001")
	assert.ErrorIs(t, err, hedge.ErrUnavailable)

	_, err = c.TicketState(ctx, "001/7")
	assert.ErrorIs(t, err, hedge.ErrTicketUnknown)

	_, err = c.TicketState(ctx, "garbage")
	assert.ErrorIs(t, err, hedge.ErrTicketUnknown)

	tk, err := c.TicketState(ctx, "001/8")
	require.NoError(t, err)
	assert.False(t, tk.State.Terminal())
}

func TestUnreachableServerIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := New(srv.URL, "t", 1000)
	_, err := c.Positions(context.Background(), "001")
	assert.ErrorIs(t, err, hedge.ErrUnavailable)
}

func TestLoadRatesAndCash(t *testing.T) {
	t.Parallel()

	c := newTestServer(t, map[string]http.HandlerFunc{
		"GET /v3/accounts/001/pricing": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "EUR_USD,USD_JPY", r.URL.Query().Get("instruments"))
			_, _ = io.WriteString(w, `{"prices":[
				{"instrument":"EUR_USD","bids":[{"price":"1.0848"}],"asks":[{"price":"1.0852"}]},
				{"instrument":"USD_JPY","bids":[],"asks":[]}
			]}`)
		},
		"GET /v3/accounts/001/summary": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"account":{"currency":"USD","balance":"100000.50"}}`)
		},
	})
	ctx := context.Background()

	cache := market.NewSpotCache(nil)
	require.NoError(t, c.LoadRates(ctx, "001", []string{"EUR_USD", "USD_JPY"}, cache))
	r, err := cache.Rate(ctx, "EUR_USD", timeZero)
	require.NoError(t, err)
	assert.InDelta(t, 1.085, r, 1e-12)
	_, err = cache.Rate(ctx, "USD_JPY", timeZero)
	assert.ErrorIs(t, err, hedge.ErrMissingRate)

	cash, err := c.CashHoldings(ctx, "001")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"USD": 100000.50}, cash)
}
