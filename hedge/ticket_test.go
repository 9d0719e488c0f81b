package hedge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTicketStateClass(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state    TicketState
		class    StateClass
		terminal bool
	}{
		{StateFilled, ClassSuccess, true},
		{StatePtlCancel, ClassSuccess, true},
		{StateOverfilled, ClassWarning, true},
		{StateRejected, ClassFailure, true},
		{StateError, ClassFailure, true},
		{StateFailed, ClassFailure, true},
		{StateCancelled, ClassFailure, true},
		{StateWorking, ClassPending, false},
		{StatePartial, ClassPending, false},
		{StatePendFunds, ClassPending, false},
		{StateBooked, ClassPending, false},
		{TicketState("SOMETHING_NEW"), ClassPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.class, tt.state.Class())
			assert.Equal(t, tt.terminal, tt.state.Terminal())
		})
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, Retryable(fmt.Errorf("positions: %w", ErrUnavailable)))
	assert.True(t, Retryable(fmt.Errorf("await: %w", ErrPollTimeout)))
	assert.False(t, Retryable(ErrConservation))
	assert.False(t, Retryable(ErrCycleInFlight))
}

func TestPositionAvgPrice(t *testing.T) {
	t.Parallel()

	p := Position{Amount: -2000, TotalPrice: 2200}
	assert.InDelta(t, 1.1, p.AvgPrice(), 1e-12)
	assert.Equal(t, 0.0, Position{}.AvgPrice())
}
