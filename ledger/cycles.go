package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/fxhedge/hedge"
)

const cycleCols = `id, company_id, time_ns, closed_ns`

// CreateCycle inserts c. A second open cycle for the same company fails with
// hedge.ErrCycleInFlight.
func (d *DB) CreateCycle(ctx context.Context, c hedge.Cycle) error {
	var closed sql.NullInt64
	if c.ClosedAt != nil {
		closed = sql.NullInt64{Int64: ns(*c.ClosedAt), Valid: true}
	}
	_, err := d.exec(ctx, `INSERT INTO hedge_cycles (`+cycleCols+`) VALUES (?, ?, ?, ?)`,
		c.ID, c.CompanyID, ns(c.Time), closed)
	if isUniqueViolation(err) {
		return fmt.Errorf("company %s: %w", c.CompanyID, hedge.ErrCycleInFlight)
	}
	return err
}

func (d *DB) OpenCycle(ctx context.Context, companyID string) (hedge.Cycle, error) {
	row := d.queryRow(ctx, `SELECT `+cycleCols+` FROM hedge_cycles
		WHERE company_id = ? AND closed_ns IS NULL`, companyID)
	c, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return hedge.Cycle{}, fmt.Errorf("open cycle for %s: %w", companyID, hedge.ErrNotFound)
	}
	return c, err
}

func (d *DB) LastCycle(ctx context.Context, companyID string) (hedge.Cycle, error) {
	row := d.queryRow(ctx, `SELECT `+cycleCols+` FROM hedge_cycles
		WHERE company_id = ? ORDER BY time_ns DESC LIMIT 1`, companyID)
	c, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return hedge.Cycle{}, fmt.Errorf("last cycle for %s: %w", companyID, hedge.ErrNotFound)
	}
	return c, err
}

func (d *DB) CloseCycle(ctx context.Context, cycleID string, at time.Time) error {
	_, err := d.exec(ctx, `UPDATE hedge_cycles SET closed_ns = ? WHERE id = ? AND closed_ns IS NULL`,
		ns(at), cycleID)
	return err
}

func (d *DB) ListCycles(ctx context.Context, companyID string, limit int) ([]hedge.Cycle, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.query(ctx, `SELECT `+cycleCols+` FROM hedge_cycles
		WHERE company_id = ? ORDER BY time_ns DESC LIMIT ?`, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []hedge.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(s scanner) (hedge.Cycle, error) {
	var (
		c      hedge.Cycle
		at     int64
		closed sql.NullInt64
	)
	if err := s.Scan(&c.ID, &c.CompanyID, &at, &closed); err != nil {
		return hedge.Cycle{}, err
	}
	c.Time = fromNS(at)
	if closed.Valid {
		t := fromNS(closed.Int64)
		c.ClosedAt = &t
	}
	return c, nil
}
