// Package eod sequences a company's daily hedge: Start submits the cycle's
// orders, Await waits for the broker, End reconciles and closes the cycle.
// The Scheduler drives those stages from persisted pipeline state.
package eod

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/ledger"
	"github.com/rustyeddy/fxhedge/liquidity"
	"github.com/rustyeddy/fxhedge/margin"
	"github.com/rustyeddy/fxhedge/notify"
	"github.com/rustyeddy/fxhedge/oms"
	"github.com/rustyeddy/fxhedge/pkg/id"
	"github.com/rustyeddy/fxhedge/pkg/logger"
	"github.com/rustyeddy/fxhedge/recon"
)

type Coordinator struct {
	Store    ledger.Store
	Recon    *recon.Orchestrator
	Orders   *oms.Manager
	Scaler   *liquidity.Scaler
	Margin   margin.Provider
	Notifier notify.Notifier

	Cashflows CashflowGenerator
	Forwards  ForwardBook
	Accounts  AccountManager
	Optimizer PositionOptimizer
	Parachute ParachuteHedger
	Snapshots Snapshotter

	// Utilization is the share of the netting pool used, 0 disables netting.
	Utilization float64

	Tracer opentracing.Tracer
	Log    *zap.Logger
}

type StartReport struct {
	Cycle       hedge.Cycle
	Resumed     bool
	Deactivated bool
	Requests    int
	Adjustments int
	Scale       liquidity.Scale
	Live        oms.SubmitReport
	Demo        oms.SubmitReport
}

type EndReport struct {
	Cycle    hedge.Cycle
	Backfill oms.BackfillReport
	Live     recon.Report
	Demo     recon.Report
	Margin   *margin.Projection
}

// Start opens a cycle for the company at t and submits its orders. When the
// company already has an open cycle at t, as left by a start that failed
// part way, Start resumes it: persisted requests are reused and only pairs
// without an order are submitted.
func (c *Coordinator) Start(ctx context.Context, company hedge.Company, t time.Time) (rep StartReport, err error) {
	span, ctx := c.span(ctx, "eod.start", company)
	defer finish(span, &err)
	log := logger.Or(c.Log).With(zap.String("company", company.ID), zap.Time("at", t))

	cycle, resumed, err := c.cycleAt(ctx, log, company, t)
	if err != nil {
		return rep, err
	}
	rep.Cycle, rep.Resumed = cycle, resumed
	log = log.With(zap.String("cycle", cycle.ID))

	var reqs []hedge.Request
	if resumed {
		if reqs, err = c.persistedRequests(ctx, cycle); err != nil {
			return rep, err
		}
	}
	if len(reqs) == 0 {
		active, err := c.Accounts.EndOfDay(ctx, company.ID, t)
		if err != nil {
			log.Warn("account end of day failed", zap.Error(err))
		} else if !active {
			log.Info("company deactivating, closing cycle without hedging")
			rep.Deactivated = true
			return rep, c.Store.CloseCycle(ctx, cycle.ID, t)
		}

		var adjs []hedge.LiquidityAdjustment
		for _, typ := range hedge.AccountTypes {
			r, a, err := c.plan(ctx, company, cycle, typ)
			if err != nil {
				return rep, fmt.Errorf("plan %s: %w", typ, err)
			}
			reqs = append(reqs, r...)
			adjs = append(adjs, a...)
		}
		err = c.Store.WithTx(ctx, func(tx ledger.Store) error {
			if err := tx.AddRequests(ctx, reqs); err != nil {
				return err
			}
			return tx.AddLiquidityAdjustments(ctx, adjs)
		})
		if err != nil {
			return rep, fmt.Errorf("persist requests: %w", err)
		}
		rep.Adjustments = len(adjs)
	} else {
		log.Info("reusing persisted requests", zap.Int("requests", len(reqs)))
	}
	rep.Requests = len(reqs)

	deltas := make(map[hedge.AccountType]map[string]float64)
	for _, typ := range hedge.AccountTypes {
		deltas[typ] = make(map[string]float64)
	}
	for _, r := range reqs {
		if r.Status == hedge.Open {
			deltas[r.AccountType][r.Pair] += r.RequestedAmount
		}
	}

	live := deltas[hedge.Live]
	if len(live) > 0 && c.Scaler != nil {
		held, err := c.companyPositions(ctx, company.ID, hedge.Live, t)
		if err != nil {
			return rep, err
		}
		// Only pairs being traded are scaled.
		old := make(map[string]float64, len(live))
		target := make(map[string]float64, len(live))
		for p, d := range live {
			old[p] = held[p]
			target[p] = held[p] + d
		}
		rep.Scale, err = c.Scaler.Scale(ctx, company.ID, old, target)
		if err != nil {
			return rep, fmt.Errorf("margin scale: %w", err)
		}
		live = rep.Scale.Delta
	}

	if rep.Live, err = c.Orders.Submit(ctx, cycle, live, hedge.Live, company.BrokerAccountID); err != nil {
		return rep, fmt.Errorf("submit live: %w", err)
	}
	if rep.Demo, err = c.Orders.Submit(ctx, cycle, deltas[hedge.Demo], hedge.Demo, hedge.InternalBrokerAccount); err != nil {
		return rep, fmt.Errorf("submit demo: %w", err)
	}

	log.Info("cycle started",
		zap.Bool("resumed", resumed),
		zap.Int("requests", rep.Requests),
		zap.Int("live_orders", len(rep.Live.Orders)),
		zap.Int("demo_orders", len(rep.Demo.Orders)),
		zap.Float64("scale", rep.Scale.Ratio),
	)
	return rep, nil
}

// cycleAt returns the company's open cycle at t, or runs the pre-hedge work
// and creates one. An open cycle at any other time is in flight.
func (c *Coordinator) cycleAt(ctx context.Context, log *zap.Logger, company hedge.Company, t time.Time) (hedge.Cycle, bool, error) {
	open, err := c.Store.OpenCycle(ctx, company.ID)
	switch {
	case err == nil && open.Time.Equal(t):
		log.Info("resuming open cycle", zap.String("cycle", open.ID))
		return open, true, nil
	case err == nil:
		return open, false, fmt.Errorf("cycle %s: %w", open.ID, hedge.ErrCycleInFlight)
	case !errors.Is(err, hedge.ErrNotFound):
		return open, false, err
	}

	if err := c.Cashflows.GenerateCashflows(ctx, company.ID, t); err != nil {
		log.Warn("cashflow generation failed", zap.Error(err))
	}

	for _, typ := range hedge.AccountTypes {
		if _, err := c.Recon.Reconcile(ctx, company, t, typ); err != nil {
			return hedge.Cycle{}, false, fmt.Errorf("pre-hedge %s reconcile: %w", typ, err)
		}
	}

	since := time.Time{}
	if last, err := c.Store.LastCycle(ctx, company.ID); err == nil {
		since = last.Time
	}
	if err := c.Forwards.SettleForwards(ctx, company.ID, since, t); err != nil {
		log.Warn("forward settlement failed", zap.Error(err))
	}

	cycle := hedge.Cycle{ID: id.At(t), CompanyID: company.ID, Time: t}
	if err := c.Store.CreateCycle(ctx, cycle); err != nil {
		return hedge.Cycle{}, false, err
	}
	return cycle, false, nil
}

func (c *Coordinator) persistedRequests(ctx context.Context, cycle hedge.Cycle) ([]hedge.Request, error) {
	var out []hedge.Request
	for _, typ := range hedge.AccountTypes {
		r, err := c.Store.RequestsForCycle(ctx, cycle.ID, typ)
		if err != nil {
			return nil, fmt.Errorf("requests %s: %w", typ, err)
		}
		out = append(out, r...)
	}
	return out, nil
}

// plan turns optimizer targets into requests for one account type, netting
// opposing exposure first.
func (c *Coordinator) plan(ctx context.Context, company hedge.Company, cycle hedge.Cycle, typ hedge.AccountType) ([]hedge.Request, []hedge.LiquidityAdjustment, error) {
	log := logger.Or(c.Log).With(zap.String("company", company.ID), zap.String("account_type", string(typ)))

	targets, err := c.Optimizer.Targets(ctx, company, typ, cycle.Time)
	if err != nil {
		return nil, nil, fmt.Errorf("targets: %w", err)
	}
	positions, err := c.Store.PositionsAsOf(ctx, company.ID, typ, cycle.Time)
	if err != nil {
		return nil, nil, fmt.Errorf("positions: %w", err)
	}
	held := make(map[string]float64, len(positions))
	for _, p := range positions {
		held[p.AccountID+"/"+p.Pair] = p.Amount
	}

	byPair := make(map[string][]liquidity.Exposure)
	for _, tg := range targets {
		if !hedge.Finite(tg.Desired) || !hedge.Finite(tg.Exposure) {
			log.Warn("skipping non-finite target", zap.String("account", tg.AccountID), zap.String("pair", tg.Pair))
			continue
		}
		byPair[tg.Pair] = append(byPair[tg.Pair], liquidity.Exposure{
			AccountID: tg.AccountID, Exposure: tg.Exposure, Desired: tg.Desired,
		})
	}
	pairs := make([]string, 0, len(byPair))
	for p := range byPair {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)

	var (
		reqs []hedge.Request
		adjs []hedge.LiquidityAdjustment
	)
	for _, pair := range pairs {
		n := liquidity.Net(pair, byPair[pair], c.Utilization)
		if n.Absorbed != 0 {
			log.Info("netted liquidity internally",
				zap.String("pair", pair), zap.Float64("absorbed", n.Absorbed),
				zap.Float64("pool", n.Stats.PoolSize), zap.Float64("utilization", n.Stats.Utilization))
		}
		for _, a := range n.Adjustments {
			if a.After != a.Before {
				adjs = append(adjs, hedge.LiquidityAdjustment{
					CycleID: cycle.ID, AccountID: a.AccountID, AccountType: typ, Pair: pair,
					Exposure: a.Exposure, DesiredBefore: a.Before, DesiredAfter: a.After,
				})
			}
			amt := a.After - held[a.AccountID+"/"+pair]
			if math.Abs(amt) < recon.MinPosition {
				continue
			}
			reqs = append(reqs, hedge.Request{
				ID:              id.New(),
				CycleID:         cycle.ID,
				CompanyID:       company.ID,
				AccountID:       a.AccountID,
				AccountType:     typ,
				Pair:            pair,
				RequestedAmount: amt,
				Status:          hedge.Open,
			})
		}
	}
	return reqs, adjs, nil
}

// Await blocks until the open cycle's orders are terminal or timeout passes.
func (c *Coordinator) Await(ctx context.Context, company hedge.Company, timeout, interval time.Duration) (tickets []hedge.Ticket, err error) {
	span, ctx := c.span(ctx, "eod.await", company)
	defer finish(span, &err)

	cycle, err := c.openCycle(ctx, company.ID)
	if err != nil {
		return nil, err
	}
	return c.Orders.PollUntilDone(ctx, cycle, timeout, interval)
}

// End reconciles the open cycle at t and closes it. A margin check that
// fails after the cycle is closed is returned as hedge.ErrMarginUnhealthy
// alongside a complete report.
func (c *Coordinator) End(ctx context.Context, company hedge.Company, t time.Time) (rep EndReport, err error) {
	span, ctx := c.span(ctx, "eod.end", company)
	defer finish(span, &err)

	cycle, err := c.openCycle(ctx, company.ID)
	if err != nil {
		return rep, err
	}
	rep.Cycle = cycle
	log := logger.Or(c.Log).With(zap.String("company", company.ID), zap.String("cycle", cycle.ID))

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	// The pre-hedge snapshot sits at the cycle time.
	if !t.After(cycle.Time) {
		return rep, fmt.Errorf("end at %s must follow cycle start %s", t.Format(time.RFC3339Nano), cycle.Time.Format(time.RFC3339Nano))
	}

	if rep.Backfill, err = c.Orders.Backfill(ctx, cycle); err != nil {
		return rep, fmt.Errorf("backfill: %w", err)
	}
	if rep.Live, err = c.Recon.Reconcile(ctx, company, t, hedge.Live); err != nil {
		return rep, fmt.Errorf("post-hedge LIVE reconcile: %w", err)
	}
	if rep.Demo, err = c.Recon.Reconcile(ctx, company, t, hedge.Demo); err != nil {
		return rep, fmt.Errorf("post-hedge DEMO reconcile: %w", err)
	}

	if err := c.Parachute.Parachute(ctx, cycle, t); err != nil {
		log.Warn("parachute pass failed", zap.Error(err))
	}
	if err := c.Snapshots.Snapshot(ctx, company.ID, t); err != nil {
		log.Warn("account snapshot failed", zap.Error(err))
	}

	if err := c.Store.CloseCycle(ctx, cycle.ID, t); err != nil {
		return rep, fmt.Errorf("close cycle: %w", err)
	}
	closed := t
	rep.Cycle.ClosedAt = &closed
	log.Info("cycle ended",
		zap.Int("live_closed", rep.Live.ClosedRequests),
		zap.Int("demo_closed", rep.Demo.ClosedRequests),
	)

	if c.Margin == nil {
		return rep, nil
	}
	proj, err := c.Margin.ProjectMargin(ctx, company.ID, nil)
	if err != nil {
		log.Warn("margin check failed", zap.Error(err))
		return rep, nil
	}
	rep.Margin = &proj
	if !proj.Healthy {
		msg := fmt.Sprintf("company %s: margin unhealthy after cycle %s: %s", company.ID, cycle.ID, proj.Detail())
		log.Warn("margin unhealthy after cycle", zap.String("detail", proj.Detail()))
		if c.Notifier != nil {
			c.Notifier.Alert(ctx, msg)
		}
		return rep, fmt.Errorf("company %s: %w", company.ID, hedge.ErrMarginUnhealthy)
	}
	return rep, nil
}

func (c *Coordinator) openCycle(ctx context.Context, companyID string) (hedge.Cycle, error) {
	cycle, err := c.Store.OpenCycle(ctx, companyID)
	if errors.Is(err, hedge.ErrNotFound) {
		return cycle, fmt.Errorf("company %s: %w", companyID, hedge.ErrNoOpenCycle)
	}
	return cycle, err
}

func (c *Coordinator) companyPositions(ctx context.Context, companyID string, typ hedge.AccountType, t time.Time) (map[string]float64, error) {
	rows, err := c.Store.CompanyPositionsAsOf(ctx, companyID, typ, t)
	if err != nil {
		return nil, fmt.Errorf("company positions: %w", err)
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Pair] += r.Amount
	}
	return out, nil
}

func (c *Coordinator) span(ctx context.Context, op string, company hedge.Company) (opentracing.Span, context.Context) {
	tracer := c.Tracer
	if tracer == nil {
		tracer = opentracing.GlobalTracer()
	}
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, tracer, op)
	span.SetTag("company", company.ID)
	return span, ctx
}

func finish(span opentracing.Span, err *error) {
	if *err != nil {
		span.SetTag("error", true)
		span.LogKV("event", "error", "message", (*err).Error())
	}
	span.Finish()
}
