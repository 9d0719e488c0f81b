package app

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/rustyeddy/fxhedge/config"
	"github.com/rustyeddy/fxhedge/ledger"
	"github.com/rustyeddy/fxhedge/pkg/logger"
	"github.com/rustyeddy/fxhedge/pkg/tracing"
)

// Module runs the hedging daemon for cfg: it opens the ledger, wires the
// engine and ticks the scheduler until the application stops.
func Module(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			NewLogger,
			NewTracer,
			NewLedger,
			NewServices,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Invoke(RunScheduler),
	)
}

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Log.Level, cfg.Log.Format)
}

// NewTracer reports spans to jaeger when tracing is enabled.
func NewTracer(lc fx.Lifecycle, cfg *config.Config) (opentracing.Tracer, error) {
	if !cfg.Tracing.Enabled {
		return opentracing.NoopTracer{}, nil
	}
	tracer, closer, err := tracing.Init(tracing.Config{Host: cfg.Tracing.Host, Port: cfg.Tracing.Port})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return closer() },
	})
	return tracer, nil
}

func NewLedger(lc fx.Lifecycle, cfg *config.Config) (ledger.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := OpenLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return db.Close() },
	})
	return db, nil
}

func NewServices(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, tracer opentracing.Tracer, store ledger.Store) (*Services, error) {
	s, err := New(cfg, log, tracer, store)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			s.Close()
			return nil
		},
	})
	return s, nil
}

// RunScheduler ticks the scheduler on the configured interval between the
// application's start and stop.
func RunScheduler(lc fx.Lifecycle, s *Services) error {
	every, err := s.Config.Schedule.Tick()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			wg.Add(1)
			go func() {
				defer wg.Done()
				loop(ctx, s, every)
			}()
			return nil
		},
		OnStop: func(stop context.Context) error {
			cancel()
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stop.Done():
				return stop.Err()
			}
		},
	})
	return nil
}

func loop(ctx context.Context, s *Services, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	s.Log.Info("scheduler running", zap.Duration("every", every), zap.Int("companies", len(s.Scheduler.Companies)))
	for {
		tick(ctx, s, time.Now().UTC())
		select {
		case <-ctx.Done():
			s.Log.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

func tick(ctx context.Context, s *Services, now time.Time) {
	if err := s.RefreshRates(ctx); err != nil {
		s.Log.Error("refresh rates", zap.Error(err))
		return
	}
	if err := s.Scheduler.Tick(ctx, now); err != nil {
		s.Log.Error("scheduler tick", zap.Error(err))
	}
}
