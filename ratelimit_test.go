package secapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleIfNeeded_NoOpWhenStateUnknown(t *testing.T) {
	p := newTestPipeline(t)
	env := newRequestEnv(RequestDescriptor{})
	start := time.Now()
	err := p.throttleIfNeeded(context.Background(), env)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestThrottleIfNeeded_SleepsWhenBelowThreshold(t *testing.T) {
	p := newTestPipeline(t, WithRateLimitThreshold(0.5))
	limit, remaining := 100, 10
	resetAt := time.Now().Add(30 * time.Millisecond)
	p.tracker.Update(&limit, &remaining, &resetAt)

	env := newRequestEnv(RequestDescriptor{})
	start := time.Now()
	err := p.throttleIfNeeded(context.Background(), env)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestThrottleIfNeeded_ZeroThresholdNeverThrottles(t *testing.T) {
	p := newTestPipeline(t, WithRateLimitThreshold(0))
	limit, remaining := 100, 1
	resetAt := time.Now().Add(time.Hour)
	p.tracker.Update(&limit, &remaining, &resetAt)

	env := newRequestEnv(RequestDescriptor{})
	start := time.Now()
	err := p.throttleIfNeeded(context.Background(), env)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestQueueIfNeeded_WaitsOutExhaustedQuotaThenReleases(t *testing.T) {
	p := newTestPipeline(t)
	zero := 0
	limit := 100
	resetAt := time.Now().Add(20 * time.Millisecond)
	p.tracker.Update(&limit, &zero, &resetAt)

	var queued, dequeued bool
	p.cfg.OnQueue = func(requestID string, queueSize int, waitTime time.Duration, resetAt *time.Time) { queued = true }
	p.cfg.OnDequeue = func(requestID string, queueSizeAfter int, waited time.Duration) { dequeued = true }

	env := newRequestEnv(RequestDescriptor{})
	err := p.queueIfNeeded(context.Background(), env)
	require.NoError(t, err)
	assert.True(t, queued)
	assert.True(t, dequeued)
	assert.Equal(t, 0, p.tracker.QueuedCount())
}

func TestQueueIfNeeded_NoOpWhenQuotaAvailable(t *testing.T) {
	p := newTestPipeline(t)
	limit, remaining := 100, 50
	p.tracker.Update(&limit, &remaining, nil)

	env := newRequestEnv(RequestDescriptor{})
	err := p.queueIfNeeded(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 0, p.tracker.QueuedCount())
}

func TestSleep_ReturnsCancellationErrorOnContextDone(t *testing.T) {
	p := newTestPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.sleep(ctx, 50*time.Millisecond)
	require.Error(t, err)
	var ce *CancellationError
	assert.ErrorAs(t, err, &ce)
}

func TestApplyRateLimitHeaders_OnlyUpdatesPresentFields(t *testing.T) {
	tracker := newRateTracker()
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "100")
	h.Set("X-RateLimit-Remaining", "42")
	applyRateLimitHeaders(tracker, h)

	state := tracker.CurrentState()
	require.NotNil(t, state.Limit)
	require.NotNil(t, state.Remaining)
	assert.Equal(t, 100, *state.Limit)
	assert.Equal(t, 42, *state.Remaining)
	assert.Nil(t, state.ResetAt)
}
