// Package margin projects the margin a company would use after a proposed
// change in its LIVE positions.
package margin

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/ledger"
	"github.com/rustyeddy/fxhedge/market"
)

type Provider interface {
	ProjectMargin(ctx context.Context, companyID string, delta map[string]float64) (Projection, error)
}

type Violation struct {
	Code string
	Msg  string
}

type Projection struct {
	Healthy    bool
	Required   float64
	Equity     float64
	Usage      float64
	Violations []Violation
}

func (p *Projection) add(code, msg string) {
	p.Violations = append(p.Violations, Violation{Code: code, Msg: msg})
	p.Healthy = false
}

// Detail summarises the violations for logs and alerts.
func (p Projection) Detail() string {
	if len(p.Violations) == 0 {
		return fmt.Sprintf("usage %.1f%%", 100*p.Usage)
	}
	s := ""
	for i, v := range p.Violations {
		if i > 0 {
			s += "; "
		}
		s += v.Code + ": " + v.Msg
	}
	return s
}

// PositionSource reports a company's current net position per pair.
type PositionSource interface {
	CompanyPositions(ctx context.Context, companyID string) (map[string]float64, error)
}

type Account struct {
	Currency string
	Equity   float64
}

// Calculator requires |position|·price·MarginRate per pair, converted into
// the company's currency, and is healthy while that stays within MaxUsage of
// equity.
type Calculator struct {
	Rates     market.RateProvider
	Positions PositionSource
	Accounts  map[string]Account
	MaxUsage  float64
	Now       func() time.Time
}

var _ Provider = (*Calculator)(nil)

func (c *Calculator) ProjectMargin(ctx context.Context, companyID string, delta map[string]float64) (Projection, error) {
	acct, ok := c.Accounts[companyID]
	if !ok {
		return Projection{}, fmt.Errorf("margin: unknown company %q", companyID)
	}
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}

	current, err := c.Positions.CompanyPositions(ctx, companyID)
	if err != nil {
		return Projection{}, fmt.Errorf("margin positions: %w", err)
	}

	pairs := make(map[string]float64, len(current)+len(delta))
	for p, amt := range current {
		pairs[market.NormalizePair(p)] += amt
	}
	for p, amt := range delta {
		if hedge.Finite(amt) {
			pairs[market.NormalizePair(p)] += amt
		}
	}
	names := make([]string, 0, len(pairs))
	for p := range pairs {
		names = append(names, p)
	}
	sort.Strings(names)

	proj := Projection{Healthy: true, Equity: acct.Equity}
	for _, p := range names {
		amt := pairs[p]
		if amt == 0 {
			continue
		}
		price, err := c.Rates.Rate(ctx, p, now)
		if err != nil {
			return Projection{}, fmt.Errorf("margin %s: %w", p, err)
		}
		q2a, err := market.QuoteToAccountRate(ctx, p, acct.Currency, c.Rates, now)
		if err != nil {
			return Projection{}, fmt.Errorf("margin %s: %w", p, err)
		}
		m, err := TradeMargin(amt, price, p, q2a)
		if err != nil {
			return Projection{}, err
		}
		proj.Required += m
	}

	if acct.Equity <= 0 {
		if proj.Required > 0 {
			proj.add("NO_EQUITY", "margin required with no equity")
		}
		return proj, nil
	}
	proj.Usage = proj.Required / acct.Equity
	if proj.Usage > c.MaxUsage {
		proj.add("MARGIN_USAGE",
			fmt.Sprintf("projected usage %.2f%% exceeds max %.2f%%", 100*proj.Usage, 100*c.MaxUsage))
	}
	return proj, nil
}

// TradeMargin is the margin for holding units of pair at price, in account
// currency.
func TradeMargin(units, price float64, pair string, quoteToAccount float64) (float64, error) {
	meta, err := market.LookupPair(pair)
	if err != nil {
		return 0, err
	}
	return math.Abs(units) * price * quoteToAccount * meta.MarginRate, nil
}

// LedgerPositions reads LIVE company positions from the ledger.
type LedgerPositions struct {
	Store ledger.Store
	Now   func() time.Time
}

func (l LedgerPositions) CompanyPositions(ctx context.Context, companyID string) (map[string]float64, error) {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	rows, err := l.Store.CompanyPositionsAsOf(ctx, companyID, hedge.Live, now)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Pair] += r.Amount
	}
	return out, nil
}
