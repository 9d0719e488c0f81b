// Package recon brings the ledger in line with the broker: it snapshots
// company positions, allocates fills to accounts, persists the new
// positions and closes the requests they settle.
package recon

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/fxhedge/alloc"
	"github.com/rustyeddy/fxhedge/broker"
	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/ledger"
	"github.com/rustyeddy/fxhedge/market"
	"github.com/rustyeddy/fxhedge/notify"
	"github.com/rustyeddy/fxhedge/oms"
	"github.com/rustyeddy/fxhedge/pkg/logger"
)

// MinPosition is the smallest account position written to the ledger.
const MinPosition = 1e-4

// FillSource reports the fills of a cycle's orders.
type FillSource interface {
	Fills(ctx context.Context, cycle hedge.Cycle, accountType hedge.AccountType) (map[string]oms.Fill, error)
}

type Orchestrator struct {
	Store    ledger.Store
	Gateway  broker.Gateway
	Fills    FillSource
	Rates    market.RateProvider
	Notifier notify.Notifier
	Log      *zap.Logger
}

type Report struct {
	EventID     string
	AccountType hedge.AccountType
	// Skipped is set when there was nothing to reconcile, or the event at
	// this time was already reconciled.
	Skipped        bool
	Pairs          []alloc.Summary
	SkippedPairs   []string
	ClosedRequests int
	PositionRows   int
	CashRows       int
}

// state gathers everything read before allocation.
type state struct {
	cycle    *hedge.Cycle
	requests []hedge.Request
	oldAcct  []hedge.Position
	oldComp  map[string]hedge.CompanyPosition
	snapshot map[string]float64
	fills    map[string]oms.Fill
}

// Reconcile runs SNAPSHOT, ALLOCATE, PERSIST and CLOSE for one account type
// of a company at time t. Running it again for the same t is a no-op.
func (o *Orchestrator) Reconcile(ctx context.Context, company hedge.Company, t time.Time, accountType hedge.AccountType) (Report, error) {
	log := logger.Or(o.Log).With(
		zap.String("company", company.ID),
		zap.String("account_type", string(accountType)),
		zap.Time("at", t),
	)
	rep := Report{AccountType: accountType}

	if !accountType.Valid() {
		return rep, fmt.Errorf("reconcile: account type %q", accountType)
	}

	ev, err := o.Store.LatestEvent(ctx, company.ID, accountType, ledger.ScopeAccount, t)
	switch {
	case err == nil && ev.Time.Equal(t):
		log.Info("already reconciled")
		rep.EventID, rep.Skipped = ev.ID, true
		return rep, nil
	case err != nil && !errors.Is(err, hedge.ErrNotFound):
		return rep, err
	}

	st, err := o.gather(ctx, company, t, accountType)
	if err != nil {
		return rep, err
	}
	if len(st.requests) == 0 && len(st.oldAcct) == 0 && len(st.oldComp) == 0 && len(st.snapshot) == 0 {
		log.Info("nothing to reconcile")
		rep.Skipped = true
		return rep, nil
	}

	ev, err = o.Store.EventAt(ctx, company.ID, t)
	if err != nil {
		return rep, err
	}
	rep.EventID = ev.ID

	var (
		compRows []hedge.CompanyPosition
		acctRows []hedge.Position
		records  []hedge.ReconciliationRecord
		closed   []hedge.Request
	)
	brokerAccount := company.BrokerAccountID
	if accountType == hedge.Demo {
		brokerAccount = hedge.InternalBrokerAccount
	}
	keepAccount := func(p hedge.Position) {
		if !hedge.Finite(p.Amount) || math.Abs(p.Amount) < MinPosition {
			return
		}
		p.EventID = ev.ID
		acctRows = append(acctRows, p)
	}

	for _, pair := range st.pairs() {
		plog := log.With(zap.String("pair", pair))
		in, reqs := st.input(pair)
		fill := st.fills[pair]

		after := st.snapshot[pair]
		in.Filled = after - in.OldCompany
		// Unexplained is the part of the position change no ticket reports.
		unexplained := 0.0
		if math.Abs(in.Filled-fill.Filled) > 1e-6*math.Max(1, math.Abs(after)) {
			unexplained = in.Filled - fill.Filled
			plog.Warn("broker position moved by more than the cycle fill",
				zap.Float64("ticket_fill", fill.Filled), zap.Float64("position_change", in.Filled))
		}
		in.AvgPrice = fill.AvgPrice
		in.Commission = fill.Commission
		in.CntrCommission = fill.CntrCommission
		if in.AvgPrice == 0 && in.Filled != 0 {
			spot, err := o.Rates.Rate(ctx, pair, t)
			if err != nil {
				plog.Warn("no fill price or spot, realized pnl will be zero", zap.Error(err))
			}
			in.AvgPrice = spot
		}

		res, err := alloc.Allocate(in)
		if errors.Is(err, hedge.ErrConservation) {
			plog.Error("reconciliation does not conserve position",
				zap.Float64("unexplained", unexplained), zap.Error(err))
			o.alert(ctx, fmt.Sprintf("company %s %s: %v", company.ID, accountType, err))
			return rep, err
		}
		if err != nil {
			// Carry the pair forward untouched; its requests stay open.
			plog.Warn("skipping pair", zap.Error(err))
			rep.SkippedPairs = append(rep.SkippedPairs, pair)
			for _, p := range st.oldAcct {
				if p.Pair == pair {
					keepAccount(p)
				}
			}
			if old, ok := st.oldComp[pair]; ok {
				old.EventID = ev.ID
				compRows = append(compRows, old)
			}
			continue
		}

		s := res.Summary
		rep.Pairs = append(rep.Pairs, s)

		total := 0.0
		for _, al := range res.Allocations {
			keepAccount(hedge.Position{
				AccountID:   al.AccountID,
				AccountType: accountType,
				Pair:        pair,
				Amount:      al.Realized,
				TotalPrice:  al.TotalPrice,
			})
			total += al.TotalPrice

			req, ok := reqs[al.AccountID]
			if !ok {
				continue
			}
			req.FilledAmount = f(al.Filled)
			req.AvgPrice = f(in.AvgPrice)
			req.RealizedPnLQuote = f(al.PnLQuote)
			req.RealizedPnLDomestic = o.domestic(ctx, plog, al.PnLQuote, pair, company.Currency, t)
			req.Commission = f(al.Commission)
			req.CommissionCntr = f(al.CntrCommission)
			req.Status = hedge.Closed
			closed = append(closed, req)
		}

		if after != 0 {
			compRows = append(compRows, hedge.CompanyPosition{
				EventID:         ev.ID,
				BrokerAccountID: brokerAccount,
				AccountType:     accountType,
				Pair:            pair,
				Amount:          after,
				TotalPrice:      total,
			})
		}

		rec := hedge.ReconciliationRecord{
			EventID:            ev.ID,
			AccountType:        accountType,
			Pair:               pair,
			InitialAmount:      s.OldCompany,
			FinalAmount:        s.RealizedTotal,
			DesiredFinalAmount: s.DesiredTotal,
			TotalRequested:     s.TotalRequested,
			TotalAbsRequested:  s.ReqNorm,
			TotalAbsDesired:    s.PosNorm,
			FilledAmount:       s.Filled,
			Excess:             s.Diff,
			UnexplainedChange:  unexplained,
			Commission:         s.Commission,
			CntrCommission:     s.CntrCommission,
		}
		if st.cycle != nil {
			rec.CycleID = st.cycle.ID
		}
		records = append(records, rec)
	}

	cash := o.cash(ctx, log, company, accountType, ev.ID)

	err = o.Store.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.AddCompanyPositions(ctx, compRows); err != nil {
			return fmt.Errorf("company positions: %w", err)
		}
		if err := tx.AddPositions(ctx, acctRows); err != nil {
			return fmt.Errorf("account positions: %w", err)
		}
		if err := tx.AddRecords(ctx, records); err != nil {
			return fmt.Errorf("records: %w", err)
		}
		if err := tx.CloseRequests(ctx, closed); err != nil {
			return fmt.Errorf("close requests: %w", err)
		}
		if err := tx.AddCashHoldings(ctx, cash); err != nil {
			return fmt.Errorf("cash holdings: %w", err)
		}
		if err := tx.MarkSnapshot(ctx, ev.ID, accountType, ledger.ScopeCompany); err != nil {
			return err
		}
		return tx.MarkSnapshot(ctx, ev.ID, accountType, ledger.ScopeAccount)
	})
	if err != nil {
		return rep, fmt.Errorf("persist reconciliation: %w", err)
	}

	rep.ClosedRequests = len(closed)
	rep.PositionRows = len(acctRows)
	rep.CashRows = len(cash)
	log.Info("reconciled",
		zap.String("event", ev.ID),
		zap.Int("pairs", len(rep.Pairs)),
		zap.Int("closed_requests", rep.ClosedRequests),
		zap.Int("positions", rep.PositionRows),
	)
	return rep, nil
}

func (o *Orchestrator) gather(ctx context.Context, company hedge.Company, t time.Time, accountType hedge.AccountType) (*state, error) {
	st := &state{oldComp: make(map[string]hedge.CompanyPosition), fills: make(map[string]oms.Fill)}
	before := t.Add(-time.Nanosecond)

	cycle, err := o.Store.OpenCycle(ctx, company.ID)
	switch {
	case err == nil:
		st.cycle = &cycle
		reqs, err := o.Store.RequestsForCycle(ctx, cycle.ID, accountType)
		if err != nil {
			return nil, fmt.Errorf("requests: %w", err)
		}
		for _, r := range reqs {
			if r.Status == hedge.Open {
				st.requests = append(st.requests, r)
			}
		}
	case !errors.Is(err, hedge.ErrNotFound):
		return nil, err
	}

	if st.cycle != nil && len(st.requests) > 0 {
		st.fills, err = o.Fills.Fills(ctx, *st.cycle, accountType)
		if err != nil {
			return nil, fmt.Errorf("fills: %w", err)
		}
	}

	if st.oldAcct, err = o.Store.PositionsAsOf(ctx, company.ID, accountType, before); err != nil {
		return nil, fmt.Errorf("account positions: %w", err)
	}
	comp, err := o.Store.CompanyPositionsAsOf(ctx, company.ID, accountType, before)
	if err != nil {
		return nil, fmt.Errorf("company positions: %w", err)
	}
	for _, c := range comp {
		agg := st.oldComp[c.Pair]
		agg.Pair, agg.AccountType, agg.BrokerAccountID = c.Pair, c.AccountType, c.BrokerAccountID
		agg.Amount += c.Amount
		agg.TotalPrice += c.TotalPrice
		st.oldComp[c.Pair] = agg
	}

	st.snapshot = make(map[string]float64)
	if accountType == hedge.Live {
		pos, err := o.Gateway.Positions(ctx, company.BrokerAccountID)
		if err != nil {
			if !errors.Is(err, hedge.ErrUnavailable) {
				err = fmt.Errorf("%w: %v", hedge.ErrUnavailable, err)
			}
			return nil, fmt.Errorf("broker positions: %w", err)
		}
		for p, amt := range pos {
			st.snapshot[market.NormalizePair(p)] += amt
		}
	} else {
		// DEMO has no broker: the company holds what it held plus what the
		// open requests' orders filled.
		for p, c := range st.oldComp {
			st.snapshot[p] = c.Amount
		}
		for p, fl := range st.fills {
			st.snapshot[p] += fl.Filled
		}
	}
	return st, nil
}

func (st *state) pairs() []string {
	set := make(map[string]bool)
	for _, r := range st.requests {
		set[r.Pair] = true
	}
	for _, p := range st.oldAcct {
		set[p.Pair] = true
	}
	for p := range st.oldComp {
		set[p] = true
	}
	for p := range st.snapshot {
		set[p] = true
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// input builds the allocation input of one pair without its fill, and the
// open requests of the pair by account.
func (st *state) input(pair string) (alloc.PairInput, map[string]hedge.Request) {
	in := alloc.PairInput{Pair: pair, OldCompany: st.oldComp[pair].Amount}
	idx := make(map[string]int)
	reqs := make(map[string]hedge.Request)

	for _, p := range st.oldAcct {
		if p.Pair != pair {
			continue
		}
		idx[p.AccountID] = len(in.Accounts)
		in.Accounts = append(in.Accounts, alloc.Participant{
			AccountID:     p.AccountID,
			OldPosition:   p.Amount,
			OldTotalPrice: p.TotalPrice,
		})
	}
	for _, r := range st.requests {
		if r.Pair != pair {
			continue
		}
		i, ok := idx[r.AccountID]
		if !ok {
			i = len(in.Accounts)
			idx[r.AccountID] = i
			in.Accounts = append(in.Accounts, alloc.Participant{AccountID: r.AccountID})
		}
		in.Accounts[i].RequestID = r.ID
		in.Accounts[i].Requested += r.RequestedAmount
		reqs[r.AccountID] = r
	}
	return in, reqs
}

func (o *Orchestrator) domestic(ctx context.Context, log *zap.Logger, pnl float64, pair, currency string, t time.Time) *float64 {
	if currency == "" {
		return nil
	}
	_, quote, err := market.SplitPair(pair)
	if err == nil {
		var v float64
		if v, err = o.Rates.Convert(ctx, pnl, quote, currency, t); err == nil {
			return &v
		}
	}
	log.Warn("domestic pnl unavailable", zap.Error(err))
	return nil
}

func (o *Orchestrator) cash(ctx context.Context, log *zap.Logger, company hedge.Company, accountType hedge.AccountType, eventID string) []hedge.CashHolding {
	cr, ok := o.Gateway.(broker.CashReporter)
	if !ok || accountType != hedge.Live {
		return nil
	}
	bal, err := cr.CashHoldings(ctx, company.BrokerAccountID)
	if err != nil {
		log.Warn("cash holdings unavailable", zap.Error(err))
		return nil
	}
	ccys := make([]string, 0, len(bal))
	for c := range bal {
		ccys = append(ccys, c)
	}
	sort.Strings(ccys)
	out := make([]hedge.CashHolding, 0, len(bal))
	for _, c := range ccys {
		out = append(out, hedge.CashHolding{EventID: eventID, BrokerAccountID: company.BrokerAccountID, Currency: c, Amount: bal[c]})
	}
	return out
}

func (o *Orchestrator) alert(ctx context.Context, msg string) {
	if o.Notifier != nil {
		o.Notifier.Alert(ctx, msg)
	}
}

func f(v float64) *float64 { return &v }
