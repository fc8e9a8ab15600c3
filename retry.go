package secapi

import (
	"context"
	"net/http"
	"time"
)

// retryStage delegates to the rate-limiter stage and, on a TransientError,
// retries subject to the configured bound, per spec §4.3. Permanent errors
// and cancellations propagate immediately with zero retries.
func (p *pipeline) retryStage(ctx context.Context, env *requestEnv, desc RequestDescriptor) (*http.Response, error) {
	maxAttempts := p.cfg.RetryMaxAttempts
	if desc.Overrides != nil && desc.Overrides.MaxAttempts != nil {
		maxAttempts = *desc.Overrides.MaxAttempts
	}

	nextDelay := p.cfg.RetryInitialDelay

	for attempt := 1; ; attempt++ {
		env.attempt = attempt

		resp, err := p.rateLimiterStage(ctx, env, desc)
		if err == nil {
			return resp, nil
		}

		if _, cancelled := err.(*CancellationError); cancelled {
			return nil, err
		}

		if !isTransient(err) {
			return nil, err
		}

		if attempt >= maxAttempts {
			return nil, err
		}

		wait := nextDelay
		if wait > p.cfg.RetryMaxDelay {
			wait = p.cfg.RetryMaxDelay
		}

		if rle, ok := err.(*RateLimitError); ok {
			if scheduled, ok := rle.ScheduledWait(p.cfg.RetryMaxDelay); ok {
				wait = scheduled
			}
			retryAfter := rle.RetryAfterSeconds
			resetAt := rle.ResetAt
			p.safeCallback("on_rate_limit", func() {
				if p.cfg.OnRateLimit != nil {
					p.cfg.OnRateLimit(env.requestID, retryAfter, resetAt, attempt)
				}
			})
		}

		class := errorClass(err)
		msg := err.Error()
		p.safeCallback("on_retry", func() {
			if p.cfg.OnRetry != nil {
				p.cfg.OnRetry(env.requestID, attempt, maxAttempts, class, msg, wait)
			}
		})

		if sleepErr := p.sleep(ctx, wait); sleepErr != nil {
			return nil, sleepErr
		}

		nextDelay = scaleDuration(nextDelay, p.cfg.RetryBackoffFactor)
	}
}

func isTransient(err error) bool {
	var t TransientError
	return asTransient(err, &t)
}

// asTransient is a tiny local errors.As so retry.go doesn't need to import
// errors just for this one check; TransientError is an interface type so
// a direct type-assertion suffices (no wrapped chain to walk here — every
// leaf is returned directly by the classifier, never wrapped further).
func asTransient(err error, target *TransientError) bool {
	if t, ok := err.(TransientError); ok {
		*target = t
		return true
	}
	return false
}

func scaleDuration(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}
