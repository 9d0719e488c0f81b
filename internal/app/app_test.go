package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/rustyeddy/fxhedge/config"
	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/ledger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Ledger.DSN = filepath.Join(t.TempDir(), "ledger.db")
	cfg.Schedule.PollTimeout = "1s"
	cfg.Schedule.PollInterval = "1ms"
	cfg.Liquidity.Utilization = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestTargetsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	targets := Targets(cfg)

	live, err := targets.Targets(context.Background(), hedge.Company{ID: "acme"}, hedge.Live, time.Now())
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, "acme-ops", live[0].AccountID)
	assert.Equal(t, 200000.0, live[0].Desired)

	demo, err := targets.Targets(context.Background(), hedge.Company{ID: "acme"}, hedge.Demo, time.Now())
	require.NoError(t, err)
	require.Len(t, demo, 1)
	assert.Equal(t, "USD_JPY", demo[0].Pair)

	assert.Equal(t, []string{"EUR_USD", "GBP_USD", "USD_JPY"}, Pairs(cfg))
	assert.Equal(t, 1000000.0, Accounts(cfg)["acme"].Equity)
}

func TestServicesRunOneDay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	db, err := OpenLedger(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(cfg, nil, nil, db)
	require.NoError(t, err)
	defer s.Close()
	require.NotNil(t, s.Sim)
	require.NoError(t, s.RefreshRates(ctx))

	// A Tuesday evening: start, then await and end on the next tick.
	start := time.Date(2024, 3, 12, 21, 0, 0, 0, time.UTC)
	require.NoError(t, s.Scheduler.Tick(ctx, start))
	st, err := db.LoadPipeline(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, hedge.StageStarted, st.Stage)

	require.NoError(t, s.Scheduler.Tick(ctx, start.Add(time.Minute)))
	st, err = db.LoadPipeline(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, hedge.StageIdle, st.Stage)
	assert.Empty(t, st.LastError)

	ps, err := db.PositionsAsOf(ctx, "acme", hedge.Live, start.Add(time.Minute))
	require.NoError(t, err)
	held := make(map[string]float64)
	for _, p := range ps {
		held[p.AccountID] = p.Amount
	}
	assert.Equal(t, map[string]float64{"acme-ops": 200000, "acme-treasury": -40000}, held)
}

func TestModuleStartsAndStops(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Schedule.TickInterval = "1h"

	var store ledger.Store
	app := fxtest.New(t, Module(cfg), fx.Populate(&store))
	app.RequireStart()
	require.NotNil(t, store)
	app.RequireStop()
}
