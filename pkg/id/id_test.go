package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsMonotonic(t *testing.T) {
	t.Parallel()

	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestAtRoundTripsTime(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 15, 21, 0, 0, 0, time.UTC)
	got, err := Time(At(at))
	require.NoError(t, err)
	assert.True(t, at.Equal(got))

	_, err = Time("not-an-id")
	assert.Error(t, err)
}
