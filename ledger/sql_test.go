package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/pkg/id"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func f(v float64) *float64 { return &v }

var t0 = time.Date(2024, 3, 15, 21, 0, 0, 0, time.UTC)

func TestSchemaCreated(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	for _, table := range []string{"hedge_cycles", "hedge_requests", "hedge_orders", "snapshot_events",
		"fx_positions", "company_fx_positions", "reconciliation_records", "hedge_pipelines"} {
		var name string
		err := db.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name)
		assert.NoError(t, err, table)
	}
}

func TestOneOpenCyclePerCompany(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)

	c1 := hedge.Cycle{ID: id.New(), CompanyID: "acme", Time: t0}
	require.NoError(t, db.CreateCycle(ctx, c1))

	err := db.CreateCycle(ctx, hedge.Cycle{ID: id.New(), CompanyID: "acme", Time: t0.Add(time.Hour)})
	assert.ErrorIs(t, err, hedge.ErrCycleInFlight)

	// Other companies are independent.
	require.NoError(t, db.CreateCycle(ctx, hedge.Cycle{ID: id.New(), CompanyID: "globex", Time: t0}))

	open, err := db.OpenCycle(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, open.ID)
	assert.True(t, open.Time.Equal(t0))

	require.NoError(t, db.CloseCycle(ctx, c1.ID, t0.Add(time.Hour)))
	_, err = db.OpenCycle(ctx, "acme")
	assert.ErrorIs(t, err, hedge.ErrNotFound)

	c2 := hedge.Cycle{ID: id.New(), CompanyID: "acme", Time: t0.Add(24 * time.Hour)}
	require.NoError(t, db.CreateCycle(ctx, c2))

	last, err := db.LastCycle(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, c2.ID, last.ID)

	cycles, err := db.ListCycles(ctx, "acme", 0)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.NotNil(t, cycles[1].ClosedAt)
}

func TestRequestsCloseOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)
	c := hedge.Cycle{ID: id.New(), CompanyID: "acme", Time: t0}
	require.NoError(t, db.CreateCycle(ctx, c))

	req := hedge.Request{
		ID: id.New(), CycleID: c.ID, CompanyID: "acme", AccountID: "a1",
		AccountType: hedge.Live, Pair: "EUR_USD", RequestedAmount: 100,
	}
	require.NoError(t, db.AddRequests(ctx, []hedge.Request{req}))

	dup := req
	dup.ID = id.New()
	assert.Error(t, db.AddRequests(ctx, []hedge.Request{dup}))

	reqs, err := db.RequestsForCycle(ctx, c.ID, hedge.Live)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, hedge.Open, reqs[0].Status)
	assert.Nil(t, reqs[0].FilledAmount)

	closed, err := db.ClosedRequests(ctx, "acme", 0)
	require.NoError(t, err)
	assert.Empty(t, closed)

	req.FilledAmount = f(92.5)
	req.Commission = f(1.25)
	require.NoError(t, db.CloseRequests(ctx, []hedge.Request{req}))

	// A second close does not overwrite.
	req.FilledAmount = f(1)
	require.NoError(t, db.CloseRequests(ctx, []hedge.Request{req}))

	closed, err = db.ClosedRequests(ctx, "acme", 0)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, hedge.Closed, closed[0].Status)
	assert.InDelta(t, 92.5, *closed[0].FilledAmount, 1e-12)
	assert.InDelta(t, 1.25, *closed[0].Commission, 1e-12)
	assert.Nil(t, closed[0].RealizedPnLDomestic)
}

func TestSaveOrderUpserts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)
	c := hedge.Cycle{ID: id.New(), CompanyID: "acme", Time: t0}
	require.NoError(t, db.CreateCycle(ctx, c))

	o := hedge.Order{
		ID: id.New(), CycleID: c.ID, AccountType: hedge.Live, Pair: "EUR_USD",
		BrokerAccountID: "001-1", UnroundedAmount: 1234, RoundedAmount: 1000, ExpectedCost: f(1100),
	}
	require.NoError(t, db.SaveOrder(ctx, o))

	o.TicketRef = "T-1"
	o.FilledAmount = f(1000)
	o.AvgPrice = f(1.1)
	o.State = hedge.StateFilled
	require.NoError(t, db.SaveOrder(ctx, o))

	orders, err := db.OrdersForCycle(ctx, c.ID, hedge.Live)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "T-1", orders[0].TicketRef)
	assert.Equal(t, 1234.0, orders[0].UnroundedAmount)
	assert.True(t, orders[0].Completed())

	demo, err := db.OrdersForCycle(ctx, c.ID, hedge.Demo)
	require.NoError(t, err)
	assert.Empty(t, demo)
}

func TestPositionsAsOf(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)

	ev1, err := db.EventAt(ctx, "acme", t0)
	require.NoError(t, err)
	again, err := db.EventAt(ctx, "acme", t0)
	require.NoError(t, err)
	assert.Equal(t, ev1.ID, again.ID)

	require.NoError(t, db.AddPositions(ctx, []hedge.Position{
		{EventID: ev1.ID, AccountID: "a1", AccountType: hedge.Live, Pair: "EUR_USD", Amount: 100, TotalPrice: 110},
	}))
	require.NoError(t, db.AddCompanyPositions(ctx, []hedge.CompanyPosition{
		{EventID: ev1.ID, BrokerAccountID: "001-1", AccountType: hedge.Live, Pair: "EUR_USD", Amount: 100, TotalPrice: 110},
	}))
	require.NoError(t, db.MarkSnapshot(ctx, ev1.ID, hedge.Live, ScopeAccount))
	require.NoError(t, db.MarkSnapshot(ctx, ev1.ID, hedge.Live, ScopeCompany))

	// An empty snapshot later on means everything was closed out.
	ev2, err := db.EventAt(ctx, "acme", t0.Add(24*time.Hour))
	require.NoError(t, err)
	require.NoError(t, db.MarkSnapshot(ctx, ev2.ID, hedge.Live, ScopeAccount))

	ps, err := db.PositionsAsOf(ctx, "acme", hedge.Live, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, 100.0, ps[0].Amount)

	ps, err = db.PositionsAsOf(ctx, "acme", hedge.Live, t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ps)

	// DEMO has no snapshot at all.
	ps, err = db.PositionsAsOf(ctx, "acme", hedge.Demo, t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ps)

	cps, err := db.CompanyPositionsAsOf(ctx, "acme", hedge.Live, t0.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, "001-1", cps[0].BrokerAccountID)

	ev, err := db.LatestEvent(ctx, "acme", hedge.Live, ScopeAccount, t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ev2.ID, ev.ID)
	assert.True(t, ev.HasAccountSnapshot)
	assert.False(t, ev.HasCompanySnapshot)

	_, err = db.LatestEvent(ctx, "acme", hedge.Live, ScopeAccount, t0.Add(-time.Hour))
	assert.ErrorIs(t, err, hedge.ErrNotFound)
}

func TestWithTxRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(s Store) error {
		require.NoError(t, s.CreateCycle(ctx, hedge.Cycle{ID: id.New(), CompanyID: "acme", Time: t0}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = db.OpenCycle(ctx, "acme")
	assert.ErrorIs(t, err, hedge.ErrNotFound)

	require.NoError(t, db.WithTx(ctx, func(s Store) error {
		return s.CreateCycle(ctx, hedge.Cycle{ID: id.New(), CompanyID: "acme", Time: t0})
	}))
	_, err = db.OpenCycle(ctx, "acme")
	assert.NoError(t, err)
}

func TestPipelineState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)

	st, err := db.LoadPipeline(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, hedge.StageIdle, st.Stage)

	st.Stage = hedge.StageStarted
	st.CycleID = "c1"
	st.Attempts = 2
	st.UpdatedAt = t0
	require.NoError(t, db.SavePipeline(ctx, st))

	got, err := db.LoadPipeline(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, hedge.StageStarted, got.Stage)
	assert.Equal(t, 2, got.Attempts)
	assert.True(t, got.UpdatedAt.Equal(t0))
}

func TestRebind(t *testing.T) {
	t.Parallel()

	pg := &DB{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", pg.rebind("SELECT a FROM t WHERE b = ? AND c = ?"))

	lite := &DB{driver: DriverSQLite}
	assert.Equal(t, "b = ?", lite.rebind("b = ?"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "mysql", "x")
	assert.Error(t, err)
}
