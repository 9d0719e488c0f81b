package eod

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/ledger"
	"github.com/rustyeddy/fxhedge/notify"
	"github.com/rustyeddy/fxhedge/pkg/id"
)

// fakePipeline opens and closes real cycles but fakes everything between.
type fakePipeline struct {
	db *ledger.DB

	mu       sync.Mutex
	calls    []string
	starts   []time.Time
	awaitErr error
	startErr error
}

func (p *fakePipeline) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePipeline) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePipeline) Start(ctx context.Context, company hedge.Company, t time.Time) (StartReport, error) {
	p.record("start " + company.ID)
	p.mu.Lock()
	p.starts = append(p.starts, t)
	p.mu.Unlock()

	c, err := p.db.OpenCycle(ctx, company.ID)
	if err != nil {
		c = hedge.Cycle{ID: id.At(t), CompanyID: company.ID, Time: t}
		if err := p.db.CreateCycle(ctx, c); err != nil {
			return StartReport{}, err
		}
	}
	return StartReport{Cycle: c}, p.startErr
}

func (p *fakePipeline) Starts() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.starts...)
}

func (p *fakePipeline) Await(ctx context.Context, company hedge.Company, timeout, interval time.Duration) ([]hedge.Ticket, error) {
	p.record("await " + company.ID)
	return nil, p.awaitErr
}

func (p *fakePipeline) End(ctx context.Context, company hedge.Company, t time.Time) (EndReport, error) {
	p.record("end " + company.ID)
	c, err := p.db.OpenCycle(ctx, company.ID)
	if err != nil {
		return EndReport{}, hedge.ErrNoOpenCycle
	}
	return EndReport{Cycle: c}, p.db.CloseCycle(ctx, c.ID, t)
}

func newScheduler(t *testing.T, companies ...string) (*Scheduler, *fakePipeline, *notify.Recorder) {
	t.Helper()

	db, err := ledger.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	p := &fakePipeline{db: db}
	alerts := &notify.Recorder{}
	s := &Scheduler{Store: db, Pipeline: p, Notifier: alerts, MaxAttempts: 3, Concurrency: 2}
	for _, c := range companies {
		s.Companies = append(s.Companies, hedge.Company{ID: c})
	}
	return s, p, alerts
}

func stage(t *testing.T, s *Scheduler, company string) hedge.PipelineState {
	t.Helper()
	st, err := s.Store.LoadPipeline(context.Background(), company)
	require.NoError(t, err)
	return st
}

func TestSchedulerRunsOneCyclePerDay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, p, _ := newScheduler(t, "acme")

	require.NoError(t, s.Tick(ctx, t0))
	assert.Equal(t, hedge.StageStarted, stage(t, s, "acme").Stage)
	assert.Equal(t, []string{"start acme"}, p.Calls())

	require.NoError(t, s.Tick(ctx, t0.Add(time.Minute)))
	st := stage(t, s, "acme")
	assert.Equal(t, hedge.StageIdle, st.Stage)
	assert.Equal(t, id.At(t0)[:10], st.CycleID[:10])
	assert.Equal(t, []string{"start acme", "await acme", "end acme"}, p.Calls())

	// Same day: no new cycle.
	require.NoError(t, s.Tick(ctx, t0.Add(2*time.Minute)))
	assert.Len(t, p.Calls(), 3)

	// Next day starts again.
	require.NoError(t, s.Tick(ctx, t0.Add(24*time.Hour)))
	assert.Equal(t, hedge.StageStarted, stage(t, s, "acme").Stage)
	assert.Len(t, p.Calls(), 4)
}

func TestSchedulerStallsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, p, alerts := newScheduler(t, "acme")
	p.awaitErr = hedge.ErrPollTimeout

	now := t0
	require.NoError(t, s.Tick(ctx, now))
	for i := 1; i <= 3; i++ {
		now = now.Add(time.Minute)
		require.NoError(t, s.Tick(ctx, now))
		st := stage(t, s, "acme")
		assert.Equal(t, i, st.Attempts)
		assert.Contains(t, st.LastError, "timed out")
	}
	assert.Equal(t, hedge.StageStalled, stage(t, s, "acme").Stage)
	require.Len(t, alerts.Messages(), 1)
	assert.Contains(t, alerts.Messages()[0], "stalled")

	// Stalled pipelines are left alone.
	n := len(p.Calls())
	require.NoError(t, s.Tick(ctx, now.Add(time.Minute)))
	assert.Len(t, p.Calls(), n)

	p.awaitErr = nil
	st, err := s.Reset(ctx, "acme", now)
	require.NoError(t, err)
	assert.Equal(t, hedge.StageIdle, st.Stage)

	// The open cycle is resumed, then awaited and ended.
	require.NoError(t, s.Tick(ctx, now.Add(2*time.Minute)))
	assert.Equal(t, hedge.StageStarted, stage(t, s, "acme").Stage)
	assert.Equal(t, []time.Time{t0, t0}, p.Starts())

	require.NoError(t, s.Tick(ctx, now.Add(3*time.Minute)))
	st = stage(t, s, "acme")
	assert.Equal(t, hedge.StageIdle, st.Stage)
	assert.Zero(t, st.Attempts)
}

func TestSchedulerResumesOpenCycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, p, _ := newScheduler(t, "acme")
	p.startErr = hedge.ErrUnavailable

	// The first start creates its cycle and then fails.
	require.NoError(t, s.Tick(ctx, t0))
	st := stage(t, s, "acme")
	assert.Equal(t, hedge.StageIdle, st.Stage)
	assert.Equal(t, 1, st.Attempts)

	// Retries start the same cycle again at its own time.
	require.NoError(t, s.Tick(ctx, t0.Add(time.Minute)))
	st = stage(t, s, "acme")
	assert.Equal(t, hedge.StageIdle, st.Stage)
	assert.Equal(t, 2, st.Attempts)

	p.startErr = nil
	require.NoError(t, s.Tick(ctx, t0.Add(2*time.Minute)))
	st = stage(t, s, "acme")
	assert.Equal(t, hedge.StageStarted, st.Stage)
	assert.Zero(t, st.Attempts)
	assert.Equal(t, id.At(t0)[:10], st.CycleID[:10])
	assert.Equal(t, []time.Time{t0, t0, t0}, p.Starts())
}

func TestSchedulerFinishesCycleAfterFailedStart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t, basicTargets)
	e.coord.Optimizer = &flakyTargets{StaticTargets: basicTargets, fail: 1}
	s := &Scheduler{
		Store:        e.db,
		Pipeline:     e.coord,
		Companies:    []hedge.Company{acme},
		Notifier:     e.alerts,
		MaxAttempts:  3,
		PollTimeout:  time.Second,
		PollInterval: time.Millisecond,
	}

	require.NoError(t, s.Tick(ctx, t0))
	st := stage(t, s, acme.ID)
	assert.Equal(t, hedge.StageIdle, st.Stage)
	assert.Equal(t, 1, st.Attempts)
	assert.Contains(t, st.LastError, "unavailable")

	require.NoError(t, s.Tick(ctx, t0.Add(time.Minute)))
	assert.Equal(t, hedge.StageStarted, stage(t, s, acme.ID).Stage)

	end := t0.Add(2 * time.Minute)
	require.NoError(t, s.Tick(ctx, end))
	st = stage(t, s, acme.ID)
	assert.Equal(t, hedge.StageIdle, st.Stage)
	assert.Zero(t, st.Attempts)

	assert.Equal(t, map[string]float64{"a1": 60000, "a2": -20000}, e.positions(t, hedge.Live, end))
	assert.Equal(t, map[string]float64{"d1": 2000}, e.positions(t, hedge.Demo, end))
	_, err := e.db.OpenCycle(ctx, acme.ID)
	assert.ErrorIs(t, err, hedge.ErrNotFound)
}

func TestSchedulerAdvancesCompaniesIndependently(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _, _ := newScheduler(t, "acme", "globex", "initech")

	require.NoError(t, s.Tick(ctx, t0))
	for _, c := range []string{"acme", "globex", "initech"} {
		assert.Equal(t, hedge.StageStarted, stage(t, s, c).Stage, c)
	}
}
