package hedge

import (
	"errors"
	"math"
)

var (
	// Data errors: skip the item and continue.
	ErrBadAmount   = errors.New("bad amount")
	ErrUnknownPair = errors.New("unknown pair")
	ErrMissingRate = errors.New("missing rate")

	// ErrUnavailable wraps broker, rate or storage outages. Aborts the stage.
	ErrUnavailable = errors.New("collaborator unavailable")

	// ErrPollTimeout means fills were not terminal before the deadline.
	ErrPollTimeout = errors.New("timed out waiting for fills")

	ErrMarginUnhealthy = errors.New("margin unhealthy")

	// ErrConservation means allocated positions do not sum to the company
	// position. The ledger would be corrupt if this were persisted.
	ErrConservation = errors.New("reconciliation does not conserve position")

	ErrCycleInFlight = errors.New("hedge cycle already in flight")
	ErrNoOpenCycle   = errors.New("no open hedge cycle")
	ErrNotFound      = errors.New("not found")
	ErrNotFilled     = errors.New("order fill not yet known")
	ErrTicketUnknown = errors.New("ticket not found")
)

// Retryable reports whether a stage failing with err should be retried on a
// later scheduler tick.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrPollTimeout) ||
		errors.Is(err, ErrNotFilled)
}

// Finite reports whether x is usable as an amount.
func Finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
