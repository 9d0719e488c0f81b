// Package ledger persists cycles, requests, orders and the position
// timeline. One SQL implementation serves SQLite and PostgreSQL.
package ledger

import (
	"context"
	"time"

	"github.com/rustyeddy/fxhedge/hedge"
)

// Scope is the kind of snapshot recorded against an event.
type Scope string

const (
	ScopeCompany Scope = "company"
	ScopeAccount Scope = "account"
)

// Store is the position ledger. Lookups "as of" a time return the most
// recent snapshot event at or before it.
type Store interface {
	CreateCycle(ctx context.Context, c hedge.Cycle) error
	OpenCycle(ctx context.Context, companyID string) (hedge.Cycle, error)
	LastCycle(ctx context.Context, companyID string) (hedge.Cycle, error)
	CloseCycle(ctx context.Context, cycleID string, at time.Time) error
	ListCycles(ctx context.Context, companyID string, limit int) ([]hedge.Cycle, error)

	AddRequests(ctx context.Context, reqs []hedge.Request) error
	RequestsForCycle(ctx context.Context, cycleID string, accountType hedge.AccountType) ([]hedge.Request, error)
	CloseRequests(ctx context.Context, reqs []hedge.Request) error
	ClosedRequests(ctx context.Context, companyID string, limit int) ([]hedge.Request, error)

	SaveOrder(ctx context.Context, o hedge.Order) error
	OrdersForCycle(ctx context.Context, cycleID string, accountType hedge.AccountType) ([]hedge.Order, error)

	EventAt(ctx context.Context, companyID string, at time.Time) (hedge.SnapshotEvent, error)
	MarkSnapshot(ctx context.Context, eventID string, accountType hedge.AccountType, scope Scope) error
	LatestEvent(ctx context.Context, companyID string, accountType hedge.AccountType, scope Scope, asOf time.Time) (hedge.SnapshotEvent, error)

	AddPositions(ctx context.Context, ps []hedge.Position) error
	PositionsAsOf(ctx context.Context, companyID string, accountType hedge.AccountType, asOf time.Time) ([]hedge.Position, error)
	AddCompanyPositions(ctx context.Context, ps []hedge.CompanyPosition) error
	CompanyPositionsAsOf(ctx context.Context, companyID string, accountType hedge.AccountType, asOf time.Time) ([]hedge.CompanyPosition, error)

	AddRecords(ctx context.Context, recs []hedge.ReconciliationRecord) error
	AddLiquidityAdjustments(ctx context.Context, adjs []hedge.LiquidityAdjustment) error
	AddCashHoldings(ctx context.Context, hs []hedge.CashHolding) error

	LoadPipeline(ctx context.Context, companyID string) (hedge.PipelineState, error)
	SavePipeline(ctx context.Context, st hedge.PipelineState) error

	// WithTx runs fn against a Store bound to one transaction.
	WithTx(ctx context.Context, fn func(Store) error) error
}

func ns(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNS(v int64) time.Time { return time.Unix(0, v).UTC() }
