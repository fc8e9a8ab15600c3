package secapi

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseError_ErrorIncludesRequestID(t *testing.T) {
	e := newBaseError("req-123", "boom", nil)
	assert.Equal(t, "[req-123] boom", e.Error())
}

func TestBaseError_ErrorOmitsEmptyRequestID(t *testing.T) {
	e := newBaseError("", "boom", nil)
	assert.Equal(t, "boom", e.Error())
}

func TestBaseError_RedactsSecretsAtConstruction(t *testing.T) {
	e := newBaseError("req-1", "key sk-abc leaked", nil, "sk-abc")
	assert.NotContains(t, e.Error(), "sk-abc")
}

func TestTransientPermanentClassification(t *testing.T) {
	var transient TransientError
	var permanent PermanentError

	assert.True(t, errors.As(error(&ServerError{}), &transient))
	assert.True(t, errors.As(error(&RateLimitError{}), &transient))
	assert.True(t, errors.As(error(&NetworkError{}), &transient))

	assert.True(t, errors.As(error(&ValidationError{}), &permanent))
	assert.True(t, errors.As(error(&AuthenticationError{}), &permanent))
	assert.True(t, errors.As(error(&NotFoundError{}), &permanent))
}

func TestCancellationError_IsNeitherTransientNorPermanent(t *testing.T) {
	var transient TransientError
	var permanent PermanentError
	err := error(&CancellationError{})
	assert.False(t, errors.As(err, &transient))
	assert.False(t, errors.As(err, &permanent))
}

func TestRateLimitError_ScheduledWaitPriority(t *testing.T) {
	secs := 5
	at := time.Now().Add(30 * time.Second)
	reset := time.Now().Add(90 * time.Second)

	e := &RateLimitError{RetryAfterSeconds: &secs, RetryAfterAt: &at, ResetAt: &reset}
	wait, ok := e.ScheduledWait(time.Minute)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, wait)

	e2 := &RateLimitError{RetryAfterAt: &at, ResetAt: &reset}
	wait2, ok := e2.ScheduledWait(time.Minute)
	require.True(t, ok)
	assert.InDelta(t, 30*time.Second, wait2, float64(2*time.Second))

	e3 := &RateLimitError{ResetAt: &reset}
	wait3, ok := e3.ScheduledWait(time.Minute)
	require.True(t, ok)
	assert.InDelta(t, 60*time.Second, wait3, float64(2*time.Second))
	assert.Equal(t, time.Minute, wait3) // capped by maxDelay

	e4 := &RateLimitError{}
	_, ok = e4.ScheduledWait(time.Minute)
	assert.False(t, ok)
}

func TestRateLimitError_NegativeRetryAfterClampsToZero(t *testing.T) {
	neg := -5
	e := &RateLimitError{RetryAfterSeconds: &neg}
	wait, ok := e.ScheduledWait(time.Minute)
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), wait)
}

func TestAsHelpers(t *testing.T) {
	var err error = &NotFoundError{baseError: newBaseError("req-1", "missing", nil)}
	nf, ok := AsNotFoundError(err)
	require.True(t, ok)
	assert.Equal(t, "req-1", nf.RequestID())

	_, ok = AsServerError(err)
	assert.False(t, ok)
}

func TestErrorClass(t *testing.T) {
	assert.Equal(t, "RateLimitError", errorClass(&RateLimitError{}))
	assert.Equal(t, "UnknownError", errorClass(errors.New("plain")))
}

func TestNetworkError_Unwrap(t *testing.T) {
	cause := errors.New("dial failed")
	e := &NetworkError{Cause: cause}
	assert.ErrorIs(t, e, cause)
}
