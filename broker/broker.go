// Package broker defines what the hedging core needs from an execution venue.
package broker

import (
	"context"

	"github.com/rustyeddy/fxhedge/hedge"
)

// Gateway submits company orders and reports positions and ticket state.
// Implementations wrap outages in hedge.ErrUnavailable and report unknown
// tickets with hedge.ErrTicketUnknown.
type Gateway interface {
	Positions(ctx context.Context, brokerAccountID string) (map[string]float64, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)
	TicketState(ctx context.Context, ref string) (hedge.Ticket, error)
}

// CashReporter is implemented by gateways that can report cash balances.
type CashReporter interface {
	CashHoldings(ctx context.Context, brokerAccountID string) (map[string]float64, error)
}

type OrderRequest struct {
	Pair            string
	Amount          float64
	BrokerAccountID string
	CycleID         string
}
