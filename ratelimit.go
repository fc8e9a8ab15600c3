package secapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sec-filings/secapi-go/internal/ratelimit"
)

// rateTracker is the per-client rate-limit tracker type, owned by Client
// and passed by reference into the pipeline, per spec §9's "tracker is
// owned by the client" invariant.
type rateTracker = ratelimit.Tracker

// RateLimitState is the immutable snapshot exposed to callers who want to
// inspect current quota without issuing a request.
type RateLimitState = ratelimit.State

const (
	localPacerBurst           = 10
	localPacerRefillPerSecond = 4.0
)

func newRateTracker() *rateTracker {
	return ratelimit.New(localPacerBurst, localPacerRefillPerSecond)
}

// applyRateLimitHeaders is the response-side header sink (spec §4.4.1). It
// reads X-RateLimit-{Limit,Remaining,Reset} case-insensitively; any subset
// may be present, and fields absent or non-numeric are left unapplied
// rather than regressing already-known state to unknown.
func applyRateLimitHeaders(tracker *rateTracker, h http.Header) {
	if h == nil {
		return
	}
	limit := parseIntHeader(h, "X-RateLimit-Limit")
	remaining := parseIntHeader(h, "X-RateLimit-Remaining")
	resetAt := parseUnixHeader(h, "X-RateLimit-Reset")
	if limit == nil && remaining == nil && resetAt == nil {
		return
	}
	tracker.Update(limit, remaining, resetAt)
}

func parseIntHeader(h http.Header, name string) *int {
	v := strings.TrimSpace(h.Get(name))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func parseUnixHeader(h http.Header, name string) *time.Time {
	v := strings.TrimSpace(h.Get(name))
	if v == "" {
		return nil
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	t := time.Unix(secs, 0)
	return &t
}

// rateLimiterStage is the request-side stage of §4.4: proactive throttle,
// then queueing, then descent into the error-classification stage, then
// the response-side header sink (applied whether the inner stage
// succeeded or returned a classified error with a raw response attached).
func (p *pipeline) rateLimiterStage(ctx context.Context, env *requestEnv, desc RequestDescriptor) (*http.Response, error) {
	if err := p.throttleIfNeeded(ctx, env); err != nil {
		return nil, err
	}
	if err := p.queueIfNeeded(ctx, env); err != nil {
		return nil, err
	}

	resp, err := p.classifyStage(ctx, env, desc)

	if err != nil {
		if raw := rawOf(err); raw != nil {
			applyRateLimitHeaders(p.tracker, raw.Header)
		}
		return nil, err
	}
	applyRateLimitHeaders(p.tracker, resp.Header)
	return resp, nil
}

// throttleIfNeeded implements spec §4.4.2. Throttling engages iff state is
// known, percentage_remaining is known, percentage_remaining/100 is
// strictly less than the configured threshold, and reset_at is still in
// the future. threshold=0 disables throttling entirely (nothing is ever
// strictly less than 0); threshold=1 throttles whenever any quota has
// been consumed (percentage < 100 whenever remaining < limit).
//
// Before any rate-limit header has ever been observed, percentage_remaining
// is unknown and the header-driven check below can't engage at all; in that
// window ReserveLocalPace is the only thing standing between a burst of
// concurrent callers and the server, so it runs as a pre-header floor.
func (p *pipeline) throttleIfNeeded(ctx context.Context, env *requestEnv) error {
	state := p.tracker.CurrentState()
	pct, ok := state.PercentageRemaining()
	if !ok {
		if delay := p.tracker.ReserveLocalPace(); delay > 0 {
			return p.sleep(ctx, delay)
		}
		return nil
	}
	if state.ResetAt == nil || !state.ResetAt.After(time.Now()) {
		return nil
	}
	if pct/100 >= p.cfg.RateLimitThreshold {
		return nil
	}

	delay := time.Until(*state.ResetAt)
	if err := p.sleep(ctx, delay); err != nil {
		return err
	}

	remaining, limit := state.Remaining, state.Limit
	resetAt := state.ResetAt
	p.safeCallback("on_throttle", func() {
		if p.cfg.OnThrottle != nil {
			p.cfg.OnThrottle(env.requestID, remaining, limit, delay, resetAt)
		}
	})
	return nil
}

// queueIfNeeded implements spec §4.4.3. Queueing engages iff remaining is
// explicitly zero and reset_at is known (or the documented 60s default
// applies when reset_at is absent but remaining is still exactly zero).
// Release-on-all-paths: the queue counter is always decremented and
// on_dequeue always fires, even if on_queue itself panicked or a
// downstream stage later errors.
func (p *pipeline) queueIfNeeded(ctx context.Context, env *requestEnv) error {
	state := p.tracker.CurrentState()
	if state.Remaining == nil || *state.Remaining != 0 {
		return nil
	}

	now := time.Now()
	var wait time.Duration
	resetAt := state.ResetAt
	switch {
	case resetAt == nil:
		wait = defaultQueueWaitFallback
	case resetAt.Before(now):
		return nil // already released
	default:
		wait = resetAt.Sub(now)
		if wait < 0 {
			wait = 0
		}
	}

	size := p.tracker.IncrementQueued()
	waitStart := time.Now()
	var sleepErr error

	defer func() {
		after := p.tracker.DecrementQueued()
		waited := time.Since(waitStart)
		p.safeCallback("on_dequeue", func() {
			if p.cfg.OnDequeue != nil {
				p.cfg.OnDequeue(env.requestID, after, waited)
			}
		})
	}()

	p.safeCallback("on_queue", func() {
		if p.cfg.OnQueue != nil {
			p.cfg.OnQueue(env.requestID, size, wait, resetAt)
		}
	})

	if wait > p.cfg.QueueWaitWarningThreshold {
		p.safeCallback("on_excessive_wait", func() {
			if p.cfg.OnExcessiveWait != nil {
				p.cfg.OnExcessiveWait(env.requestID, wait, p.cfg.QueueWaitWarningThreshold, resetAt)
			}
		})
	}

	sleepErr = p.sleep(ctx, wait)
	return sleepErr
}

// sleep is the pipeline's cancellable sleep primitive (spec §9): it
// returns a *CancellationError, never a bare context error, so the retry
// stage can distinguish "the server told us to wait" from "the caller
// gave up."
func (p *pipeline) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if ctx.Err() != nil {
			return &CancellationError{baseError: newBaseError("", "request cancelled", nil), Cause: ctx.Err()}
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return &CancellationError{baseError: newBaseError("", "request cancelled during wait", nil), Cause: ctx.Err()}
	}
}
