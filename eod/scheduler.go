package eod

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/ledger"
	"github.com/rustyeddy/fxhedge/notify"
	"github.com/rustyeddy/fxhedge/pkg/logger"
)

// Pipeline is the set of stages the scheduler drives.
type Pipeline interface {
	Start(ctx context.Context, company hedge.Company, t time.Time) (StartReport, error)
	Await(ctx context.Context, company hedge.Company, timeout, interval time.Duration) ([]hedge.Ticket, error)
	End(ctx context.Context, company hedge.Company, t time.Time) (EndReport, error)
}

var _ Pipeline = (*Coordinator)(nil)

// Scheduler advances every company's pipeline once per Tick. Companies run
// concurrently; stages of one company never overlap.
type Scheduler struct {
	Store     ledger.Store
	Pipeline  Pipeline
	Companies []hedge.Company
	Notifier  notify.Notifier
	Log       *zap.Logger

	// Concurrency bounds how many companies advance at once.
	Concurrency  int
	MaxAttempts  int
	PollTimeout  time.Duration
	PollInterval time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Tick advances each company as far as it can go at now. Stage failures are
// recorded on the pipeline; only ledger errors are returned.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	var g errgroup.Group
	if s.Concurrency > 0 {
		g.SetLimit(s.Concurrency)
	}
	for _, company := range s.Companies {
		g.Go(func() error {
			return s.Advance(ctx, company, now)
		})
	}
	return g.Wait()
}

// Advance runs the company's pending stages in order until one fails, a
// cycle has just started, or the pipeline is idle again.
func (s *Scheduler) Advance(ctx context.Context, company hedge.Company, now time.Time) error {
	log := logger.Or(s.Log).With(zap.String("company", company.ID))

	lock := s.lock(company.ID)
	if !lock.TryLock() {
		log.Debug("pipeline busy, skipping tick")
		return nil
	}
	defer lock.Unlock()

	st, err := s.Store.LoadPipeline(ctx, company.ID)
	if err != nil {
		return fmt.Errorf("load pipeline %s: %w", company.ID, err)
	}

	for {
		next, err := s.step(ctx, company, st, now)
		if err != nil {
			next = s.failed(ctx, log, company, st, err)
		}
		if next.Stage == st.Stage && next.Attempts == st.Attempts && next.CycleID == st.CycleID {
			return nil
		}
		next.CompanyID, next.UpdatedAt = company.ID, now
		if err := s.Store.SavePipeline(ctx, next); err != nil {
			return fmt.Errorf("save pipeline %s: %w", company.ID, err)
		}
		// A cycle started this tick is awaited and ended from the next one,
		// so its post-hedge snapshot lands after the pre-hedge one.
		if err != nil || st.Stage == hedge.StageIdle || next.Stage == hedge.StageIdle || next.Stage == hedge.StageStalled {
			return nil
		}
		st = next
	}
}

// step runs the stage st is waiting for and returns the state after it.
func (s *Scheduler) step(ctx context.Context, company hedge.Company, st hedge.PipelineState, now time.Time) (hedge.PipelineState, error) {
	log := logger.Or(s.Log).With(zap.String("company", company.ID), zap.String("stage", string(st.Stage)))

	switch st.Stage {
	case hedge.StageStalled:
		return st, nil

	case hedge.StageStarted:
		if _, err := s.Pipeline.Await(ctx, company, s.PollTimeout, s.PollInterval); err != nil {
			if errors.Is(err, hedge.ErrNoOpenCycle) {
				log.Warn("cycle vanished while awaiting fills")
				return hedge.PipelineState{Stage: hedge.StageIdle}, nil
			}
			return st, err
		}
		return hedge.PipelineState{Stage: hedge.StageAwaited, CycleID: st.CycleID}, nil

	case hedge.StageAwaited:
		_, err := s.Pipeline.End(ctx, company, now)
		switch {
		case errors.Is(err, hedge.ErrMarginUnhealthy):
			// The cycle closed; the alert already went out.
			log.Warn("cycle ended with unhealthy margin")
		case errors.Is(err, hedge.ErrNoOpenCycle):
			log.Warn("no open cycle to end")
		case err != nil:
			return st, err
		}
		return hedge.PipelineState{Stage: hedge.StageIdle, CycleID: st.CycleID}, nil

	default:
		at := now
		// A start that failed after creating its cycle is resumed at its time.
		if open, err := s.Store.OpenCycle(ctx, company.ID); err == nil {
			log.Warn("resuming open cycle", zap.String("cycle", open.ID))
			at = open.Time
		} else if !errors.Is(err, hedge.ErrNotFound) {
			return st, err
		} else if started, err := s.startedToday(ctx, company.ID, now); err != nil || started {
			return st, err
		}
		rep, err := s.Pipeline.Start(ctx, company, at)
		if err != nil {
			return st, err
		}
		if rep.Deactivated {
			return hedge.PipelineState{Stage: hedge.StageIdle, CycleID: rep.Cycle.ID}, nil
		}
		return hedge.PipelineState{Stage: hedge.StageStarted, CycleID: rep.Cycle.ID}, nil
	}
}

// failed counts a failed attempt, stalling the pipeline once MaxAttempts is
// reached.
func (s *Scheduler) failed(ctx context.Context, log *zap.Logger, company hedge.Company, st hedge.PipelineState, err error) hedge.PipelineState {
	st.Attempts++
	st.LastError = err.Error()

	fields := []zap.Field{zap.String("stage", string(st.Stage)), zap.Int("attempt", st.Attempts), zap.Error(err)}
	if hedge.Retryable(err) {
		log.Error("stage failed, will retry", fields...)
	} else {
		log.Error("stage failed", fields...)
	}

	if s.MaxAttempts > 0 && st.Attempts >= s.MaxAttempts {
		log.Error("pipeline stalled", fields...)
		if s.Notifier != nil {
			s.Notifier.Alert(ctx, fmt.Sprintf("company %s: hedge pipeline stalled at %s after %d attempts: %v",
				company.ID, st.Stage, st.Attempts, err))
		}
		st.Stage = hedge.StageStalled
	}
	return st
}

// Reset clears a stalled pipeline back to IDLE. An open cycle left behind is
// resumed by the next tick.
func (s *Scheduler) Reset(ctx context.Context, companyID string, now time.Time) (hedge.PipelineState, error) {
	st := hedge.PipelineState{CompanyID: companyID, Stage: hedge.StageIdle, UpdatedAt: now}
	return st, s.Store.SavePipeline(ctx, st)
}

func (s *Scheduler) startedToday(ctx context.Context, companyID string, now time.Time) (bool, error) {
	last, err := s.Store.LastCycle(ctx, companyID)
	if errors.Is(err, hedge.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ly, lm, ld := last.Time.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	return ly == ny && lm == nm && ld == nd, nil
}

func (s *Scheduler) lock(companyID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	l, ok := s.locks[companyID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[companyID] = l
	}
	return l
}
