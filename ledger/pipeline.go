package ledger

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rustyeddy/fxhedge/hedge"
)

// LoadPipeline returns the company's persisted stage, IDLE if none.
func (d *DB) LoadPipeline(ctx context.Context, companyID string) (hedge.PipelineState, error) {
	var (
		st      hedge.PipelineState
		stage   string
		updated int64
	)
	err := d.queryRow(ctx, `SELECT company_id, cycle_id, stage, attempts, last_error, updated_ns
		FROM hedge_pipelines WHERE company_id = ?`, companyID).
		Scan(&st.CompanyID, &st.CycleID, &stage, &st.Attempts, &st.LastError, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return hedge.PipelineState{CompanyID: companyID, Stage: hedge.StageIdle}, nil
	}
	if err != nil {
		return hedge.PipelineState{}, err
	}
	st.Stage = hedge.Stage(stage)
	st.UpdatedAt = fromNS(updated)
	return st, nil
}

func (d *DB) SavePipeline(ctx context.Context, st hedge.PipelineState) error {
	_, err := d.exec(ctx, `INSERT INTO hedge_pipelines
		(company_id, cycle_id, stage, attempts, last_error, updated_ns)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id) DO UPDATE SET
			cycle_id = excluded.cycle_id,
			stage = excluded.stage,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_ns = excluded.updated_ns`,
		st.CompanyID, st.CycleID, string(st.Stage), st.Attempts, st.LastError, ns(st.UpdatedAt))
	return err
}
