package market

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rustyeddy/fxhedge/hedge"
)

func TestRoundToLot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		amount float64
		lot    float64
		want   float64
	}{
		{"demo scenario", 237, 50, 200},
		{"negative toward zero", -237, 50, -200},
		{"exact multiple", 5000, 1000, 5000},
		{"below one lot", 999, 1000, 0},
		{"fractional lot", 0.35, 0.1, 0.3},
		{"zero lot is identity", 123.45, 0, 123.45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RoundToLot(tt.amount, tt.lot)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestRoundToLotRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := RoundToLot(math.NaN(), 1000)
	assert.ErrorIs(t, err, hedge.ErrBadAmount)

	_, err = RoundToLot(100, -1)
	assert.ErrorIs(t, err, hedge.ErrBadAmount)
}

func TestConventionsLotSizeOverride(t *testing.T) {
	t.Parallel()

	c := Conventions{LotSizes: map[string]float64{"EUR_USD": 50}}

	got, err := c.RoundToLot("EUR/USD", 237)
	require.NoError(t, err)
	assert.Equal(t, 200.0, got)

	got, err = c.RoundToLot("USD_JPY", 2500)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, got)

	_, err = c.RoundToLot("XXX_YYY", 10)
	assert.ErrorIs(t, err, hedge.ErrUnknownPair)
}

func TestRoundToLotIsDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		amount := rapid.Float64Range(-1e9, 1e9).Draw(t, "amount")
		lot := float64(rapid.IntRange(1, 100000).Draw(t, "lot"))

		a, err := RoundToLot(amount, lot)
		if err != nil {
			t.Fatalf("round: %v", err)
		}
		b, _ := RoundToLot(amount, lot)
		if a != b {
			t.Fatalf("not deterministic: %v != %v", a, b)
		}
		if math.Abs(a) > math.Abs(amount)+1e-6 {
			t.Fatalf("rounded away from zero: %v -> %v", amount, a)
		}
		if math.Abs(amount-a) >= lot+1e-6 {
			t.Fatalf("dropped more than one lot: %v -> %v", amount, a)
		}
		if a != 0 && math.Signbit(a) != math.Signbit(amount) {
			t.Fatalf("sign flipped: %v -> %v", amount, a)
		}
	})
}

func TestCalendarCanTrade(t *testing.T) {
	t.Parallel()

	holiday := time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC)
	cal := Calendar{Holidays: map[string][]time.Time{"USD": {holiday}}}

	friday := time.Date(2024, 7, 5, 21, 0, 0, 0, time.UTC)
	saturday := friday.AddDate(0, 0, 1)

	assert.True(t, cal.CanTrade("EUR_USD", friday))
	assert.False(t, cal.CanTrade("EUR_USD", saturday))
	assert.False(t, cal.CanTrade("EUR_USD", holiday.Add(15*time.Hour)))
	assert.True(t, cal.CanTrade("EUR_GBP", holiday))
	assert.False(t, cal.CanTrade("garbage", friday))
}
