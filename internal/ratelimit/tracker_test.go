package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_PercentageRemaining(t *testing.T) {
	limit, remaining := 100, 25
	s := State{Limit: &limit, Remaining: &remaining}
	pct, ok := s.PercentageRemaining()
	require.True(t, ok)
	assert.Equal(t, 25.0, pct)

	var unknown State
	_, ok = unknown.PercentageRemaining()
	assert.False(t, ok)

	zero := 0
	zeroLimit := State{Limit: &zero, Remaining: &remaining}
	_, ok = zeroLimit.PercentageRemaining()
	assert.False(t, ok)
}

func TestState_ExhaustedAndAvailable(t *testing.T) {
	zero := 0
	s := State{Remaining: &zero}
	assert.True(t, s.Exhausted())
	assert.False(t, s.Available())

	var unknown State
	assert.False(t, unknown.Exhausted())
	assert.True(t, unknown.Available())
}

func TestTracker_UpdateIsPartial(t *testing.T) {
	tr := New(10, 4.0)
	limit, remaining := 100, 50
	tr.Update(&limit, &remaining, nil)

	state := tr.CurrentState()
	require.NotNil(t, state.Limit)
	require.NotNil(t, state.Remaining)
	assert.Equal(t, 100, *state.Limit)
	assert.Equal(t, 50, *state.Remaining)
	assert.Nil(t, state.ResetAt)

	newRemaining := 10
	tr.Update(nil, &newRemaining, nil)
	state = tr.CurrentState()
	assert.Equal(t, 100, *state.Limit, "limit must survive an update that doesn't mention it")
	assert.Equal(t, 10, *state.Remaining)
}

func TestTracker_Reset(t *testing.T) {
	tr := New(10, 4.0)
	limit := 5
	tr.Update(&limit, &limit, nil)
	tr.Reset()
	assert.Equal(t, State{}, tr.CurrentState())
}

func TestTracker_QueueCounterFlooredAtZero(t *testing.T) {
	tr := New(10, 4.0)
	assert.Equal(t, 0, tr.DecrementQueued())
	assert.Equal(t, 1, tr.IncrementQueued())
	assert.Equal(t, 2, tr.IncrementQueued())
	assert.Equal(t, 1, tr.DecrementQueued())
	assert.Equal(t, 0, tr.DecrementQueued())
	assert.Equal(t, 0, tr.DecrementQueued())
	assert.Equal(t, 0, tr.QueuedCount())
}

func TestTracker_ReserveLocalPaceRespectsBurst(t *testing.T) {
	tr := New(1, 1000.0)
	first := tr.ReserveLocalPace()
	assert.LessOrEqual(t, first, time.Millisecond)
}
