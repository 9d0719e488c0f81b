package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/pkg/id"
)

const eventCols = `e.id, e.company_id, e.time_ns, e.has_company_snapshot, e.has_account_snapshot`

// EventAt returns the company's snapshot event at exactly at, creating it
// when missing.
func (d *DB) EventAt(ctx context.Context, companyID string, at time.Time) (hedge.SnapshotEvent, error) {
	_, err := d.exec(ctx, `INSERT INTO snapshot_events (id, company_id, time_ns)
		VALUES (?, ?, ?) ON CONFLICT (company_id, time_ns) DO NOTHING`,
		id.At(at), companyID, ns(at))
	if err != nil {
		return hedge.SnapshotEvent{}, fmt.Errorf("create event: %w", err)
	}

	row := d.queryRow(ctx, `SELECT `+eventCols+` FROM snapshot_events e
		WHERE e.company_id = ? AND e.time_ns = ?`, companyID, ns(at))
	return scanEvent(row)
}

func (d *DB) MarkSnapshot(ctx context.Context, eventID string, accountType hedge.AccountType, scope Scope) error {
	_, err := d.exec(ctx, `INSERT INTO snapshot_scopes (event_id, account_type, scope)
		VALUES (?, ?, ?) ON CONFLICT (event_id, account_type, scope) DO NOTHING`,
		eventID, string(accountType), string(scope))
	if err != nil {
		return err
	}

	col := "has_account_snapshot"
	if scope == ScopeCompany {
		col = "has_company_snapshot"
	}
	_, err = d.exec(ctx, `UPDATE snapshot_events SET `+col+` = 1 WHERE id = ?`, eventID)
	return err
}

// LatestEvent returns the most recent event at or before asOf carrying a
// snapshot of scope for accountType.
func (d *DB) LatestEvent(ctx context.Context, companyID string, accountType hedge.AccountType, scope Scope, asOf time.Time) (hedge.SnapshotEvent, error) {
	row := d.queryRow(ctx, `SELECT `+eventCols+` FROM snapshot_events e
		JOIN snapshot_scopes s ON s.event_id = e.id
		WHERE e.company_id = ? AND s.account_type = ? AND s.scope = ? AND e.time_ns <= ?
		ORDER BY e.time_ns DESC LIMIT 1`,
		companyID, string(accountType), string(scope), ns(asOf))
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return hedge.SnapshotEvent{}, fmt.Errorf("%s %s snapshot for %s: %w", accountType, scope, companyID, hedge.ErrNotFound)
	}
	return ev, err
}

func (d *DB) AddPositions(ctx context.Context, ps []hedge.Position) error {
	for _, p := range ps {
		_, err := d.exec(ctx, `INSERT INTO fx_positions
			(event_id, account_id, account_type, pair, amount, total_price)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (event_id, account_id, pair) DO UPDATE SET
				amount = excluded.amount, total_price = excluded.total_price`,
			p.EventID, p.AccountID, string(p.AccountType), p.Pair, p.Amount, p.TotalPrice)
		if err != nil {
			return err
		}
	}
	return nil
}

// PositionsAsOf returns the account positions of the latest account snapshot
// at or before asOf. No snapshot yields no positions.
func (d *DB) PositionsAsOf(ctx context.Context, companyID string, accountType hedge.AccountType, asOf time.Time) ([]hedge.Position, error) {
	ev, err := d.LatestEvent(ctx, companyID, accountType, ScopeAccount, asOf)
	if errors.Is(err, hedge.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := d.query(ctx, `SELECT event_id, account_id, account_type, pair, amount, total_price
		FROM fx_positions WHERE event_id = ? AND account_type = ?
		ORDER BY pair, account_id`, ev.ID, string(accountType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []hedge.Position
	for rows.Next() {
		var (
			p  hedge.Position
			at string
		)
		if err := rows.Scan(&p.EventID, &p.AccountID, &at, &p.Pair, &p.Amount, &p.TotalPrice); err != nil {
			return nil, err
		}
		p.AccountType = hedge.AccountType(at)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *DB) AddCompanyPositions(ctx context.Context, ps []hedge.CompanyPosition) error {
	for _, p := range ps {
		_, err := d.exec(ctx, `INSERT INTO company_fx_positions
			(event_id, broker_account_id, account_type, pair, amount, total_price)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (event_id, account_type, broker_account_id, pair) DO UPDATE SET
				amount = excluded.amount, total_price = excluded.total_price`,
			p.EventID, p.BrokerAccountID, string(p.AccountType), p.Pair, p.Amount, p.TotalPrice)
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) CompanyPositionsAsOf(ctx context.Context, companyID string, accountType hedge.AccountType, asOf time.Time) ([]hedge.CompanyPosition, error) {
	ev, err := d.LatestEvent(ctx, companyID, accountType, ScopeCompany, asOf)
	if errors.Is(err, hedge.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := d.query(ctx, `SELECT event_id, broker_account_id, account_type, pair, amount, total_price
		FROM company_fx_positions WHERE event_id = ? AND account_type = ?
		ORDER BY pair, broker_account_id`, ev.ID, string(accountType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []hedge.CompanyPosition
	for rows.Next() {
		var (
			p  hedge.CompanyPosition
			at string
		)
		if err := rows.Scan(&p.EventID, &p.BrokerAccountID, &at, &p.Pair, &p.Amount, &p.TotalPrice); err != nil {
			return nil, err
		}
		p.AccountType = hedge.AccountType(at)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *DB) AddRecords(ctx context.Context, recs []hedge.ReconciliationRecord) error {
	for _, r := range recs {
		_, err := d.exec(ctx, `INSERT INTO reconciliation_records
			(event_id, cycle_id, account_type, pair, initial_amount, final_amount, desired_final_amount,
			 total_requested, total_abs_requested, total_abs_desired, filled_amount, excess,
			 unexplained_change, commission, cntr_commission)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.EventID, r.CycleID, string(r.AccountType), r.Pair, r.InitialAmount, r.FinalAmount,
			r.DesiredFinalAmount, r.TotalRequested, r.TotalAbsRequested, r.TotalAbsDesired,
			r.FilledAmount, r.Excess, r.UnexplainedChange, r.Commission, r.CntrCommission)
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) AddLiquidityAdjustments(ctx context.Context, adjs []hedge.LiquidityAdjustment) error {
	for _, a := range adjs {
		_, err := d.exec(ctx, `INSERT INTO liquidity_adjustments
			(cycle_id, account_id, account_type, pair, exposure, desired_before, desired_after)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.CycleID, a.AccountID, string(a.AccountType), a.Pair, a.Exposure, a.DesiredBefore, a.DesiredAfter)
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) AddCashHoldings(ctx context.Context, hs []hedge.CashHolding) error {
	for _, h := range hs {
		_, err := d.exec(ctx, `INSERT INTO cash_holdings (event_id, broker_account_id, currency, amount)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (event_id, broker_account_id, currency) DO UPDATE SET amount = excluded.amount`,
			h.EventID, h.BrokerAccountID, h.Currency, h.Amount)
		if err != nil {
			return err
		}
	}
	return nil
}

func scanEvent(s scanner) (hedge.SnapshotEvent, error) {
	var (
		ev               hedge.SnapshotEvent
		at               int64
		company, account int
	)
	if err := s.Scan(&ev.ID, &ev.CompanyID, &at, &company, &account); err != nil {
		return hedge.SnapshotEvent{}, err
	}
	ev.Time = fromNS(at)
	ev.HasCompanySnapshot = company != 0
	ev.HasAccountSnapshot = account != 0
	return ev, nil
}
