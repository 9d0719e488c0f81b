package ledger

import (
	"context"
	"database/sql"

	"github.com/rustyeddy/fxhedge/hedge"
)

const orderCols = `id, cycle_id, account_type, pair, broker_account_id, unrounded_amount, rounded_amount,
	expected_cost, ticket_ref, submit_error, filled_amount, avg_price, total_price, commission,
	cntr_commission, state`

// SaveOrder inserts o, or replaces the mutable fields of an existing order
// with the same (cycle, account type, pair).
func (d *DB) SaveOrder(ctx context.Context, o hedge.Order) error {
	_, err := d.exec(ctx, `INSERT INTO hedge_orders (`+orderCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cycle_id, account_type, pair) DO UPDATE SET
			expected_cost = excluded.expected_cost,
			ticket_ref = excluded.ticket_ref,
			submit_error = excluded.submit_error,
			filled_amount = excluded.filled_amount,
			avg_price = excluded.avg_price,
			total_price = excluded.total_price,
			commission = excluded.commission,
			cntr_commission = excluded.cntr_commission,
			state = excluded.state`,
		o.ID, o.CycleID, string(o.AccountType), o.Pair, o.BrokerAccountID, o.UnroundedAmount,
		o.RoundedAmount, nullable(o.ExpectedCost), o.TicketRef, o.SubmitError,
		nullable(o.FilledAmount), nullable(o.AvgPrice), nullable(o.TotalPrice),
		nullable(o.Commission), nullable(o.CntrCommission), string(o.State),
	)
	return err
}

func (d *DB) OrdersForCycle(ctx context.Context, cycleID string, accountType hedge.AccountType) ([]hedge.Order, error) {
	rows, err := d.query(ctx, `SELECT `+orderCols+` FROM hedge_orders
		WHERE cycle_id = ? AND account_type = ? ORDER BY pair`, cycleID, string(accountType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []hedge.Order
	for rows.Next() {
		var (
			o                                    hedge.Order
			accountType, state                   string
			cost, filled, avg, total, comm, cntr sql.NullFloat64
		)
		if err := rows.Scan(&o.ID, &o.CycleID, &accountType, &o.Pair, &o.BrokerAccountID,
			&o.UnroundedAmount, &o.RoundedAmount, &cost, &o.TicketRef, &o.SubmitError,
			&filled, &avg, &total, &comm, &cntr, &state); err != nil {
			return nil, err
		}
		o.AccountType = hedge.AccountType(accountType)
		o.State = hedge.TicketState(state)
		o.ExpectedCost = ptr(cost)
		o.FilledAmount = ptr(filled)
		o.AvgPrice = ptr(avg)
		o.TotalPrice = ptr(total)
		o.Commission = ptr(comm)
		o.CntrCommission = ptr(cntr)
		out = append(out, o)
	}
	return out, rows.Err()
}
