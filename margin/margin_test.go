package margin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/market"
)

type fixedPositions map[string]float64

func (f fixedPositions) CompanyPositions(ctx context.Context, companyID string) (map[string]float64, error) {
	return f, nil
}

func TestTradeMargin(t *testing.T) {
	t.Parallel()

	meta := market.Instruments["EUR_USD"]

	got, err := TradeMargin(1000, 1.2345, "EUR_USD", 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 1000*1.2345*meta.MarginRate, got, 1e-9)

	neg, err := TradeMargin(-1000, 1.2345, "EUR_USD", 1.0)
	require.NoError(t, err)
	assert.InDelta(t, got, neg, 1e-12)

	_, err = TradeMargin(1, 1, "ABC_XYZ", 1)
	assert.ErrorIs(t, err, hedge.ErrUnknownPair)
}

func TestCalculatorProjectMargin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	calc := &Calculator{
		Rates:     market.NewSpotCache(map[string]float64{"EUR_USD": 1.0, "USD_JPY": 100}),
		Positions: fixedPositions{"EUR_USD": 100000},
		Accounts:  map[string]Account{"acme": {Currency: "USD", Equity: 10000}},
		MaxUsage:  0.5,
	}

	// 100k EUR_USD at 1.0 with 2% margin = 2000 USD.
	p, err := calc.ProjectMargin(ctx, "acme", nil)
	require.NoError(t, err)
	assert.True(t, p.Healthy)
	assert.InDelta(t, 2000, p.Required, 1e-9)
	assert.InDelta(t, 0.2, p.Usage, 1e-12)

	// Doubling up on JPY: 300k USD_JPY at 100, JPY->USD 0.01, 2% = 6000 USD.
	p, err = calc.ProjectMargin(ctx, "acme", map[string]float64{"USD_JPY": 300000})
	require.NoError(t, err)
	assert.False(t, p.Healthy)
	assert.InDelta(t, 8000, p.Required, 1e-6)
	require.Len(t, p.Violations, 1)
	assert.Equal(t, "MARGIN_USAGE", p.Violations[0].Code)
	assert.Contains(t, p.Detail(), "MARGIN_USAGE")

	// Closing out frees margin.
	p, err = calc.ProjectMargin(ctx, "acme", map[string]float64{"EUR_USD": -100000})
	require.NoError(t, err)
	assert.True(t, p.Healthy)
	assert.Equal(t, 0.0, p.Required)

	_, err = calc.ProjectMargin(ctx, "nobody", nil)
	assert.Error(t, err)
}

func TestCalculatorMissingRate(t *testing.T) {
	t.Parallel()

	calc := &Calculator{
		Rates:     market.NewSpotCache(nil),
		Positions: fixedPositions{"GBP_USD": 1000},
		Accounts:  map[string]Account{"acme": {Currency: "USD", Equity: 10000}},
		MaxUsage:  0.5,
	}
	_, err := calc.ProjectMargin(context.Background(), "acme", nil)
	assert.ErrorIs(t, err, hedge.ErrMissingRate)
}
