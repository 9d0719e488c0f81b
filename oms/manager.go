// Package oms turns a company's per pair deltas into broker orders and
// follows them until the broker reports a terminal fill.
package oms

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/fxhedge/broker"
	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/ledger"
	"github.com/rustyeddy/fxhedge/market"
	"github.com/rustyeddy/fxhedge/pkg/id"
	"github.com/rustyeddy/fxhedge/pkg/logger"
)

type Manager struct {
	Store       ledger.Store
	Gateway     broker.Gateway
	Rates       market.RateProvider
	Conventions market.Conventions
	// Limiter paces ticket queries. Nil means unlimited.
	Limiter *rate.Limiter
	Log     *zap.Logger
}

type SubmitReport struct {
	Orders []hedge.Order
	// Skipped pairs got no order: bad delta, closed market or no rate.
	Skipped []string
	// Failed pairs have an order carrying the submission error.
	Failed []string
}

type BackfillReport struct {
	Updated []string
	Pending []string
	Unknown []string
}

// Fill is the broker result for one pair of a cycle.
type Fill struct {
	Pair           string
	Requested      float64
	Filled         float64
	AvgPrice       float64
	Commission     float64
	CntrCommission float64
}

// Submit creates and submits one order per pair with a non-zero delta.
// Pairs that already have a submitted or completed order in the cycle are
// left alone, so a retried start never doubles an order.
func (m *Manager) Submit(ctx context.Context, cycle hedge.Cycle, deltas map[string]float64, accountType hedge.AccountType, brokerAccount string) (SubmitReport, error) {
	log := logger.Or(m.Log).With(
		zap.String("cycle", cycle.ID),
		zap.String("account_type", string(accountType)),
	)
	var rep SubmitReport

	existing, err := m.Store.OrdersForCycle(ctx, cycle.ID, accountType)
	if err != nil {
		return rep, fmt.Errorf("load orders: %w", err)
	}
	done := make(map[string]bool, len(existing))
	for _, o := range existing {
		if o.TicketRef != "" || o.Completed() {
			done[o.Pair] = true
		}
	}

	pairs := make([]string, 0, len(deltas))
	for p := range deltas {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)

	for _, raw := range pairs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		delta := deltas[raw]
		pair := market.NormalizePair(raw)
		plog := log.With(zap.String("pair", pair))

		switch {
		case !hedge.Finite(delta):
			plog.Warn("skipping non-finite delta", zap.Float64("delta", delta))
			rep.Skipped = append(rep.Skipped, pair)
			continue
		case delta == 0:
			continue
		case done[pair]:
			plog.Debug("order already submitted")
			continue
		case !m.Conventions.CanTrade(pair, cycle.Time):
			plog.Info("market closed, no order", zap.Time("day", cycle.Time))
			rep.Skipped = append(rep.Skipped, pair)
			continue
		}

		rounded, err := m.Conventions.RoundToLot(pair, delta)
		if err != nil {
			plog.Warn("skipping pair", zap.Error(err))
			rep.Skipped = append(rep.Skipped, pair)
			continue
		}
		if rounded != delta {
			plog.Info("rounded order to lot size",
				zap.Float64("unrounded", delta), zap.Float64("rounded", rounded))
		}

		o := hedge.Order{
			ID:              id.New(),
			CycleID:         cycle.ID,
			AccountType:     accountType,
			Pair:            pair,
			BrokerAccountID: brokerAccount,
			UnroundedAmount: delta,
			RoundedAmount:   rounded,
			State:           hedge.StateNew,
		}

		spot, rerr := m.Rates.Rate(ctx, pair, cycle.Time)
		if rerr == nil {
			o.ExpectedCost = f(rounded * spot)
		} else if accountType == hedge.Demo {
			plog.Warn("skipping demo order without a rate", zap.Error(rerr))
			rep.Skipped = append(rep.Skipped, pair)
			continue
		} else {
			plog.Warn("no rate for expected cost", zap.Error(rerr))
		}

		switch {
		case rounded == 0:
			o.State = hedge.StateFilled
			o.FilledAmount, o.TotalPrice = f(0), f(0)

		case accountType == hedge.Demo:
			o.State = hedge.StateFilled
			o.FilledAmount = f(rounded)
			o.AvgPrice = f(spot)
			o.TotalPrice = f(math.Abs(rounded) * spot)
			o.Commission, o.CntrCommission = f(0), f(0)

		default:
			// Record the order before the broker sees it.
			if err := m.Store.SaveOrder(ctx, o); err != nil {
				return rep, fmt.Errorf("save order %s: %w", pair, err)
			}
			ref, err := m.Gateway.SubmitOrder(ctx, broker.OrderRequest{
				Pair:            pair,
				Amount:          rounded,
				BrokerAccountID: brokerAccount,
				CycleID:         cycle.ID,
			})
			if err != nil {
				plog.Error("order submission failed", zap.Error(err))
				o.SubmitError = err.Error()
				o.State = hedge.StateFailed
				o.FilledAmount = f(0)
				rep.Failed = append(rep.Failed, pair)
			} else {
				o.TicketRef = ref
				o.State = hedge.StateAccepted
				plog.Info("order submitted", zap.String("ticket", ref), zap.Float64("amount", rounded))
			}
		}

		if err := m.Store.SaveOrder(ctx, o); err != nil {
			return rep, fmt.Errorf("save order %s: %w", pair, err)
		}
		rep.Orders = append(rep.Orders, o)
	}
	return rep, nil
}

// PollUntilDone waits until every submitted LIVE order of the cycle has a
// terminal ticket. It returns hedge.ErrPollTimeout when timeout passes
// first.
func (m *Manager) PollUntilDone(ctx context.Context, cycle hedge.Cycle, timeout, interval time.Duration) ([]hedge.Ticket, error) {
	log := logger.Or(m.Log).With(zap.String("cycle", cycle.ID))

	orders, err := m.Store.OrdersForCycle(ctx, cycle.ID, hedge.Live)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	waiting := make(map[string]string)
	for _, o := range orders {
		if o.TicketRef != "" && !o.Completed() {
			waiting[o.TicketRef] = o.Pair
		}
	}

	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var done []hedge.Ticket
	for {
		refs := make([]string, 0, len(waiting))
		for ref := range waiting {
			refs = append(refs, ref)
		}
		sort.Strings(refs)

		for _, ref := range refs {
			if err := m.wait(ctx); err != nil {
				return done, err
			}
			tk, err := m.Gateway.TicketState(ctx, ref)
			if errors.Is(err, hedge.ErrTicketUnknown) {
				log.Warn("broker does not know ticket", zap.String("ticket", ref), zap.String("pair", waiting[ref]))
				delete(waiting, ref)
				continue
			}
			if err != nil {
				return done, unavailable("ticket "+ref, err)
			}
			if tk.State.Terminal() {
				done = append(done, tk)
				delete(waiting, ref)
			}
		}

		if len(waiting) == 0 {
			return done, nil
		}
		log.Debug("waiting for fills", zap.Int("open", len(waiting)))

		select {
		case <-ctx.Done():
			return done, ctx.Err()
		case <-deadline.C:
			return done, fmt.Errorf("cycle %s: %d orders open after %s: %w",
				cycle.ID, len(waiting), timeout, hedge.ErrPollTimeout)
		case <-time.After(interval):
		}
	}
}

// Backfill copies terminal ticket results into the cycle's LIVE orders.
// Orders already completed are not queried again. An order whose ticket the
// broker does not know is closed as ERROR with no fill.
func (m *Manager) Backfill(ctx context.Context, cycle hedge.Cycle) (BackfillReport, error) {
	log := logger.Or(m.Log).With(zap.String("cycle", cycle.ID))
	var rep BackfillReport

	orders, err := m.Store.OrdersForCycle(ctx, cycle.ID, hedge.Live)
	if err != nil {
		return rep, fmt.Errorf("load orders: %w", err)
	}
	for _, o := range orders {
		if o.TicketRef == "" || o.Completed() {
			continue
		}
		if err := m.wait(ctx); err != nil {
			return rep, err
		}
		tk, err := m.Gateway.TicketState(ctx, o.TicketRef)
		if errors.Is(err, hedge.ErrTicketUnknown) {
			// The broker snapshot still settles the pair at reconciliation.
			log.Warn("ticket unknown to broker, closing order with no fill",
				zap.String("pair", o.Pair), zap.String("ticket", o.TicketRef), zap.Error(err))
			o.State = hedge.StateError
			o.SubmitError = err.Error()
			o.FilledAmount, o.TotalPrice = f(0), f(0)
			o.Commission, o.CntrCommission = f(0), f(0)
			if err := m.Store.SaveOrder(ctx, o); err != nil {
				return rep, fmt.Errorf("save order %s: %w", o.Pair, err)
			}
			rep.Unknown = append(rep.Unknown, o.Pair)
			continue
		}
		if err != nil {
			return rep, unavailable("ticket "+o.TicketRef, err)
		}
		if !tk.State.Terminal() {
			log.Warn("ticket still open", zap.String("pair", o.Pair), zap.String("state", string(tk.State)))
			rep.Pending = append(rep.Pending, o.Pair)
			continue
		}

		o.State = tk.State
		o.FilledAmount = f(tk.AmountFilled)
		o.AvgPrice = f(tk.AveragePrice)
		o.TotalPrice = f(math.Abs(tk.AmountFilled) * tk.AveragePrice)
		o.Commission = f(tk.Commission)
		o.CntrCommission = f(tk.CntrCommission)
		if err := m.Store.SaveOrder(ctx, o); err != nil {
			return rep, fmt.Errorf("save order %s: %w", o.Pair, err)
		}
		if tk.State.Class() != hedge.ClassSuccess {
			log.Warn("order finished without a clean fill",
				zap.String("pair", o.Pair), zap.String("state", string(tk.State)), zap.Stringer("class", tk.State.Class()))
		}
		rep.Updated = append(rep.Updated, o.Pair)
	}
	return rep, nil
}

// Fills summarises the cycle's orders of accountType per pair. Submitted
// orders without a fill yet make it fail with hedge.ErrNotFilled.
func (m *Manager) Fills(ctx context.Context, cycle hedge.Cycle, accountType hedge.AccountType) (map[string]Fill, error) {
	orders, err := m.Store.OrdersForCycle(ctx, cycle.ID, accountType)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}

	out := make(map[string]Fill, len(orders))
	var open []string
	for _, o := range orders {
		if !o.Completed() {
			open = append(open, o.Pair)
			continue
		}
		out[o.Pair] = Fill{
			Pair:           o.Pair,
			Requested:      o.RoundedAmount,
			Filled:         val(o.FilledAmount),
			AvgPrice:       val(o.AvgPrice),
			Commission:     val(o.Commission),
			CntrCommission: val(o.CntrCommission),
		}
	}
	if len(open) > 0 {
		return out, fmt.Errorf("cycle %s %s: %s: %w", cycle.ID, accountType, strings.Join(open, ","), hedge.ErrNotFilled)
	}
	return out, nil
}

func (m *Manager) wait(ctx context.Context) error {
	if m.Limiter == nil {
		return ctx.Err()
	}
	return m.Limiter.Wait(ctx)
}

func unavailable(what string, err error) error {
	if errors.Is(err, hedge.ErrUnavailable) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%s: %w: %v", what, hedge.ErrUnavailable, err)
}

func f(v float64) *float64 { return &v }

func val(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
