// Package ratelimit holds the per-client rate-limit tracker: the single
// mutable seam the rate-limiter pipeline stage reads and writes. Grounded
// on the teacher's ratelimit.go RateLimiter, restructured per spec §4.4 so
// that header bookkeeping (state) and queue bookkeeping (queuedCount) are
// explicit, independently-read fields under one mutex rather than fields
// threaded through an http.RoundTripper.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// State is an immutable snapshot of the server's last-reported quota. Any
// field may be unknown (nil). The tracker merges each update into its own
// copy field by field; CurrentState hands out copies, and callers never
// mutate a returned State.
type State struct {
	Limit     *int
	Remaining *int
	ResetAt   *time.Time
}

// Exhausted reports whether the server has explicitly signalled zero
// remaining requests.
func (s State) Exhausted() bool {
	return s.Remaining != nil && *s.Remaining == 0
}

// Available reports whether a request is safe to send without queueing:
// true when remaining is unknown (no information yet) or still positive.
func (s State) Available() bool {
	return s.Remaining == nil || *s.Remaining > 0
}

// PercentageRemaining returns remaining/limit*100 when both are known.
func (s State) PercentageRemaining() (float64, bool) {
	if s.Remaining == nil || s.Limit == nil || *s.Limit == 0 {
		return 0, false
	}
	return float64(*s.Remaining) / float64(*s.Limit) * 100, true
}

// Tracker is the per-client holder of rate-limit state and queue depth.
// Exactly one exists per Client, created with it and discarded with it.
type Tracker struct {
	mu      sync.Mutex
	state   State
	queued  int
	pacer   *rate.Limiter
}

// New constructs a Tracker. burst is the steady-state local pacer's token
// bucket size used before any server headers have been observed — it never
// overrides header-derived state once headers arrive.
func New(burst int, refillPerSecond float64) *Tracker {
	return &Tracker{
		pacer: rate.NewLimiter(rate.Limit(refillPerSecond), burst),
	}
}

// Update replaces tracked state. Only fields actually read from the latest
// response are applied; an argument of nil leaves the corresponding field
// unchanged rather than regressing it to unknown.
func (t *Tracker) Update(limit, remaining *int, resetAt *time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit != nil {
		t.state.Limit = limit
	}
	if remaining != nil {
		t.state.Remaining = remaining
	}
	if resetAt != nil {
		t.state.ResetAt = resetAt
	}
}

// Reset clears all tracked state back to unknown.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = State{}
}

// CurrentState returns a frozen snapshot safe to read without locking.
func (t *Tracker) CurrentState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IncrementQueued bumps the queue counter and returns its new value.
func (t *Tracker) IncrementQueued() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queued++
	return t.queued
}

// DecrementQueued floors the queue counter at zero and returns its new
// value. Called on every path out of a queue wait, including error paths.
func (t *Tracker) DecrementQueued() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queued > 0 {
		t.queued--
	}
	return t.queued
}

// QueuedCount reads the current queue depth.
func (t *Tracker) QueuedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queued
}

// ReserveLocalPace consumes one token from the steady-state pacer and
// returns how long the caller should wait before it is allowed to proceed.
// The rate-limiter stage calls it only while CurrentState().
// PercentageRemaining() is unknown; once both limit and remaining are known
// the header-driven throttle takes over and the pacer is not consulted.
func (t *Tracker) ReserveLocalPace() time.Duration {
	r := t.pacer.Reserve()
	if !r.OK() {
		return 0
	}
	return r.Delay()
}
