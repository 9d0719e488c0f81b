package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/fxhedge/hedge"
)

// RateProvider supplies spot rates and currency conversion.
type RateProvider interface {
	Rate(ctx context.Context, pair string, at time.Time) (float64, error)
	Convert(ctx context.Context, amount float64, from, to string, at time.Time) (float64, error)
}

// SpotCache is an in-memory RateProvider holding the latest spot per pair.
// It ignores the requested time.
type SpotCache struct {
	mu    sync.RWMutex
	rates map[string]float64
}

func NewSpotCache(rates map[string]float64) *SpotCache {
	c := &SpotCache{rates: make(map[string]float64, len(rates))}
	for p, r := range rates {
		c.Set(p, r)
	}
	return c
}

func (c *SpotCache) Set(pair string, rate float64) {
	if rate <= 0 || !hedge.Finite(rate) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates[NormalizePair(pair)] = rate
}

// Rate returns the direct quote, or the inverse of the reversed pair.
func (c *SpotCache) Rate(ctx context.Context, pair string, at time.Time) (float64, error) {
	base, quote, err := SplitPair(pair)
	if err != nil {
		return 0, err
	}
	if r, ok := c.lookup(base, quote); ok {
		return r, nil
	}
	return 0, fmt.Errorf("%w: %s", hedge.ErrMissingRate, NormalizePair(pair))
}

func (c *SpotCache) Convert(ctx context.Context, amount float64, from, to string, at time.Time) (float64, error) {
	if from == to {
		return amount, nil
	}
	if r, ok := c.lookup(from, to); ok {
		return amount * r, nil
	}
	// Cross through USD.
	r1, ok1 := c.lookup(from, "USD")
	r2, ok2 := c.lookup("USD", to)
	if ok1 && ok2 {
		return amount * r1 * r2, nil
	}
	return 0, fmt.Errorf("%w: %s to %s", hedge.ErrMissingRate, from, to)
}

func (c *SpotCache) lookup(base, quote string) (float64, bool) {
	if base == quote {
		return 1, true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.rates[base+"_"+quote]; ok {
		return r, true
	}
	if r, ok := c.rates[quote+"_"+base]; ok {
		return 1 / r, true
	}
	return 0, false
}
