// Package sim is an in-process broker that fills orders against a rate
// provider. It backs the CLI demo and the orchestration tests.
package sim

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/fxhedge/broker"
	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/market"
	"github.com/rustyeddy/fxhedge/pkg/id"
)

type ticket struct {
	hedge.Ticket
	final      hedge.TicketState
	pendingFor int
}

type Broker struct {
	mu        sync.Mutex
	rates     market.RateProvider
	positions map[string]map[string]float64
	cash      map[string]map[string]float64
	tickets   map[string]*ticket
	down      bool

	// FillRatio scales the filled amount per pair; missing pairs fill fully.
	FillRatio map[string]float64
	// Reject lists pairs whose orders are rejected.
	Reject map[string]bool
	// PendingPolls is how many TicketState calls report WORKING before a
	// ticket reaches its final state.
	PendingPolls int
	// Commission is charged per unit filled, in quote currency.
	Commission float64
}

var _ broker.Gateway = (*Broker)(nil)
var _ broker.CashReporter = (*Broker)(nil)

func New(rates market.RateProvider) *Broker {
	return &Broker{
		rates:     rates,
		positions: make(map[string]map[string]float64),
		cash:      make(map[string]map[string]float64),
		tickets:   make(map[string]*ticket),
		FillRatio: make(map[string]float64),
		Reject:    make(map[string]bool),
	}
}

// SetDown simulates an outage: every call fails with hedge.ErrUnavailable.
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// SetPosition overwrites a holding, as a manual trade or a delivered forward
// would.
func (b *Broker) SetPosition(account, pair string, amount float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.book(account)[market.NormalizePair(pair)] = amount
}

func (b *Broker) SetCash(account, currency string, amount float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cash[account] == nil {
		b.cash[account] = make(map[string]float64)
	}
	b.cash[account][currency] = amount
}

func (b *Broker) Positions(ctx context.Context, account string) (map[string]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, fmt.Errorf("sim positions: %w", hedge.ErrUnavailable)
	}
	out := make(map[string]float64)
	for p, amt := range b.positions[account] {
		if amt != 0 {
			out[p] = amt
		}
	}
	return out, nil
}

func (b *Broker) CashHoldings(ctx context.Context, account string) (map[string]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, fmt.Errorf("sim cash: %w", hedge.ErrUnavailable)
	}
	out := make(map[string]float64, len(b.cash[account]))
	for c, amt := range b.cash[account] {
		out[c] = amt
	}
	return out, nil
}

// SubmitOrder books the fill immediately; the ticket only reports it after
// PendingPolls queries.
func (b *Broker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return "", fmt.Errorf("sim submit: %w", hedge.ErrUnavailable)
	}
	if !hedge.Finite(req.Amount) || req.Amount == 0 {
		return "", fmt.Errorf("sim submit %s: %w: %v", req.Pair, hedge.ErrBadAmount, req.Amount)
	}

	pair := market.NormalizePair(req.Pair)
	tk := &ticket{
		Ticket: hedge.Ticket{
			Ref:             id.New(),
			Pair:            pair,
			CycleID:         req.CycleID,
			AmountRemaining: req.Amount,
			State:           hedge.StateWorking,
		},
		pendingFor: b.PendingPolls,
	}

	if b.Reject[pair] {
		tk.final = hedge.StateRejected
	} else {
		price, err := b.rates.Rate(ctx, pair, time.Now())
		if err != nil {
			return "", fmt.Errorf("sim submit %s: %w", pair, err)
		}
		ratio, ok := b.FillRatio[pair]
		if !ok {
			ratio = 1
		}
		filled := req.Amount * ratio
		tk.AmountFilled = filled
		tk.AmountRemaining = req.Amount - filled
		tk.AveragePrice = price
		tk.Commission = b.Commission * math.Abs(filled)
		tk.CntrCommission = tk.Commission / price
		tk.final = hedge.StateFilled
		if ratio < 1 {
			tk.final = hedge.StatePtlCancel
		}
		b.book(req.BrokerAccountID)[pair] += filled
	}

	b.tickets[tk.Ref] = tk
	return tk.Ref, nil
}

func (b *Broker) TicketState(ctx context.Context, ref string) (hedge.Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return hedge.Ticket{}, fmt.Errorf("sim ticket: %w", hedge.ErrUnavailable)
	}
	tk, ok := b.tickets[ref]
	if !ok {
		return hedge.Ticket{}, fmt.Errorf("%w: %q", hedge.ErrTicketUnknown, ref)
	}
	if tk.pendingFor > 0 {
		tk.pendingFor--
		working := tk.Ticket
		working.State = hedge.StateWorking
		return working, nil
	}
	tk.State = tk.final
	return tk.Ticket, nil
}

// Tickets lists ticket refs for a cycle in submission order.
func (b *Broker) Tickets(cycleID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var refs []string
	for ref, tk := range b.tickets {
		if tk.CycleID == cycleID {
			refs = append(refs, ref)
		}
	}
	sort.Strings(refs)
	return refs
}

func (b *Broker) book(account string) map[string]float64 {
	if b.positions[account] == nil {
		b.positions[account] = make(map[string]float64)
	}
	return b.positions[account]
}
