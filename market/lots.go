package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/fxhedge/hedge"
)

// Conventions carries the lot sizes in force for a deployment. Pairs missing
// from LotSizes fall back to the instrument registry.
type Conventions struct {
	LotSizes map[string]float64
	Calendar Calendar
}

func (c Conventions) LotSize(pair string) (float64, error) {
	p := NormalizePair(pair)
	if lot, ok := c.LotSizes[p]; ok && lot > 0 {
		return lot, nil
	}
	meta, err := LookupPair(p)
	if err != nil {
		return 0, err
	}
	return meta.LotSize, nil
}

// RoundToLot rounds amount toward zero to a whole number of lots.
func (c Conventions) RoundToLot(pair string, amount float64) (float64, error) {
	lot, err := c.LotSize(pair)
	if err != nil {
		return 0, err
	}
	return RoundToLot(amount, lot)
}

func (c Conventions) CanTrade(pair string, day time.Time) bool {
	return c.Calendar.CanTrade(pair, day)
}

// RoundToLot rounds amount toward zero to a multiple of lot. A lot of zero
// leaves the amount unchanged.
func RoundToLot(amount, lot float64) (float64, error) {
	if !hedge.Finite(amount) {
		return 0, fmt.Errorf("%w: %v", hedge.ErrBadAmount, amount)
	}
	if lot < 0 || !hedge.Finite(lot) {
		return 0, fmt.Errorf("%w: lot size %v", hedge.ErrBadAmount, lot)
	}
	if lot == 0 {
		return amount, nil
	}

	l := decimal.NewFromFloat(lot)
	lots := decimal.NewFromFloat(amount).DivRound(l, 12).Truncate(0)
	return lots.Mul(l).InexactFloat64(), nil
}
