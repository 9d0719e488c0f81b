package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/fxhedge/hedge"
)

func TestSpotCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	c := NewSpotCache(map[string]float64{
		"EUR_USD": 1.10,
		"USD_JPY": 150,
	})

	r, err := c.Rate(ctx, "EUR/USD", now)
	require.NoError(t, err)
	assert.Equal(t, 1.10, r)

	r, err = c.Rate(ctx, "JPY_USD", now)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/150, r, 1e-12)

	v, err := c.Convert(ctx, 100, "EUR", "JPY", now)
	require.NoError(t, err)
	assert.InDelta(t, 100*1.10*150, v, 1e-9)

	v, err = c.Convert(ctx, 42, "USD", "USD", now)
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)

	_, err = c.Rate(ctx, "GBP_USD", now)
	assert.ErrorIs(t, err, hedge.ErrMissingRate)
}

func TestQuoteToAccountRate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewSpotCache(map[string]float64{"USD_JPY": 160})

	r, err := QuoteToAccountRate(ctx, "EUR_USD", "USD", c, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1.0, r)

	r, err = QuoteToAccountRate(ctx, "USD_JPY", "USD", c, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 1.0/160, r, 1e-12)
}
