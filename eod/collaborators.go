package eod

import (
	"context"
	"time"

	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/market"
)

// CashflowGenerator books the cashflows that create exposure for the day.
type CashflowGenerator interface {
	GenerateCashflows(ctx context.Context, companyID string, t time.Time) error
}

// ForwardBook closes and rolls off forwards that settled since the last cycle.
type ForwardBook interface {
	SettleForwards(ctx context.Context, companyID string, since, t time.Time) error
}

// AccountManager runs end of day account upkeep. It reports false when the
// company is being deactivated and must not hedge. It runs again when a
// start that failed before persisting its requests is resumed.
type AccountManager interface {
	EndOfDay(ctx context.Context, companyID string, t time.Time) (active bool, err error)
}

// Target is an account's exposure and the hedge position it should hold.
type Target struct {
	AccountID string
	Pair      string
	Exposure  float64
	Desired   float64
}

// PositionOptimizer sizes the hedge. Accounts without a target keep their
// position.
type PositionOptimizer interface {
	Targets(ctx context.Context, company hedge.Company, accountType hedge.AccountType, t time.Time) ([]Target, error)
}

// ParachuteHedger runs the drawdown protection pass for a cycle after its
// reconciliation.
type ParachuteHedger interface {
	Parachute(ctx context.Context, cycle hedge.Cycle, t time.Time) error
}

// Snapshotter records end of day account summaries.
type Snapshotter interface {
	Snapshot(ctx context.Context, companyID string, t time.Time) error
}

// Noop stands in for the collaborators a deployment does not run.
type Noop struct{}

func (Noop) GenerateCashflows(context.Context, string, time.Time) error { return nil }
func (Noop) SettleForwards(context.Context, string, time.Time, time.Time) error { return nil }
func (Noop) EndOfDay(context.Context, string, time.Time) (bool, error) { return true, nil }
func (Noop) Parachute(context.Context, hedge.Cycle, time.Time) error { return nil }
func (Noop) Snapshot(context.Context, string, time.Time) error { return nil }

// StaticTargets returns fixed targets per company and account type, keyed
// company id then account type.
type StaticTargets map[string]map[hedge.AccountType][]Target

func (s StaticTargets) Targets(ctx context.Context, company hedge.Company, accountType hedge.AccountType, t time.Time) ([]Target, error) {
	src := s[company.ID][accountType]
	out := make([]Target, len(src))
	for i, tg := range src {
		tg.Pair = market.NormalizePair(tg.Pair)
		out[i] = tg
	}
	return out, nil
}
