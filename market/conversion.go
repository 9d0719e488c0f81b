package market

import (
	"context"
	"time"
)

// QuoteToAccountRate returns the factor converting an amount in the pair's
// quote currency into accountCurrency.
func QuoteToAccountRate(ctx context.Context, pair, accountCurrency string, rates RateProvider, at time.Time) (float64, error) {
	_, quote, err := SplitPair(pair)
	if err != nil {
		return 0, err
	}
	if quote == accountCurrency {
		return 1.0, nil
	}
	return rates.Convert(ctx, 1.0, quote, accountCurrency, at)
}
