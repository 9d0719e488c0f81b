package ledger

import (
	"context"
	"database/sql"

	"github.com/rustyeddy/fxhedge/hedge"
)

const requestCols = `id, cycle_id, company_id, account_id, account_type, pair, requested_amount,
	filled_amount, avg_price, pnl_quote, pnl_domestic, commission, commission_cntr, status`

func (d *DB) AddRequests(ctx context.Context, reqs []hedge.Request) error {
	for _, r := range reqs {
		status := r.Status
		if status == "" {
			status = hedge.Open
		}
		_, err := d.exec(ctx, `INSERT INTO hedge_requests (`+requestCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.CycleID, r.CompanyID, r.AccountID, string(r.AccountType), r.Pair, r.RequestedAmount,
			nullable(r.FilledAmount), nullable(r.AvgPrice), nullable(r.RealizedPnLQuote),
			nullable(r.RealizedPnLDomestic), nullable(r.Commission), nullable(r.CommissionCntr),
			string(status),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) RequestsForCycle(ctx context.Context, cycleID string, accountType hedge.AccountType) ([]hedge.Request, error) {
	return d.listRequests(ctx, `SELECT `+requestCols+` FROM hedge_requests
		WHERE cycle_id = ? AND account_type = ? ORDER BY pair, account_id`, cycleID, string(accountType))
}

// CloseRequests fills in realized fields and closes OPEN requests. Requests
// that are already CLOSED are left alone.
func (d *DB) CloseRequests(ctx context.Context, reqs []hedge.Request) error {
	for _, r := range reqs {
		_, err := d.exec(ctx, `UPDATE hedge_requests SET
			filled_amount = ?, avg_price = ?, pnl_quote = ?, pnl_domestic = ?,
			commission = ?, commission_cntr = ?, status = ?
			WHERE id = ? AND status = ?`,
			nullable(r.FilledAmount), nullable(r.AvgPrice), nullable(r.RealizedPnLQuote),
			nullable(r.RealizedPnLDomestic), nullable(r.Commission), nullable(r.CommissionCntr),
			string(hedge.Closed), r.ID, string(hedge.Open),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ClosedRequests is the reporting view: OPEN requests are never returned.
func (d *DB) ClosedRequests(ctx context.Context, companyID string, limit int) ([]hedge.Request, error) {
	if limit <= 0 {
		limit = 500
	}
	return d.listRequests(ctx, `SELECT `+requestCols+` FROM hedge_requests
		WHERE company_id = ? AND status = ? ORDER BY id DESC LIMIT ?`,
		companyID, string(hedge.Closed), limit)
}

func (d *DB) listRequests(ctx context.Context, query string, args ...any) ([]hedge.Request, error) {
	rows, err := d.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []hedge.Request
	for rows.Next() {
		var (
			r                                   hedge.Request
			accountType, status                 string
			filled, avg, pq, pd, comm, commCntr sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.CycleID, &r.CompanyID, &r.AccountID, &accountType, &r.Pair,
			&r.RequestedAmount, &filled, &avg, &pq, &pd, &comm, &commCntr, &status); err != nil {
			return nil, err
		}
		r.AccountType = hedge.AccountType(accountType)
		r.Status = hedge.RequestStatus(status)
		r.FilledAmount = ptr(filled)
		r.AvgPrice = ptr(avg)
		r.RealizedPnLQuote = ptr(pq)
		r.RealizedPnLDomestic = ptr(pd)
		r.Commission = ptr(comm)
		r.CommissionCntr = ptr(commCntr)
		out = append(out, r)
	}
	return out, rows.Err()
}
