package secapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// rawResponse is what survives past the point the error-classification
// stage reads a response body: enough for an error's Raw() accessor and
// for the rate-limiter stage's header sink, without holding the live
// *http.Response (and its connection) open past the attempt that produced
// it.
type rawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// baseError is embedded by every leaf error. It carries the fields spec §3
// requires on every leaf: a request id and an actionable,
// credential-redacted message. Every error surfaced from a pipeline
// invocation has a non-empty id; ConfigurationError and streaming errors,
// which have no pipeline invocation, carry an empty one. The raw response is kept for debugging but
// Error() never renders it.
type baseError struct {
	requestID string
	message   string
	raw       *rawResponse
}

func newBaseError(requestID, message string, raw *rawResponse, secrets ...string) baseError {
	return baseError{requestID: requestID, message: redactSecrets(message, secrets...), raw: raw}
}

// RequestID returns the correlation id assigned to the pipeline invocation
// that produced this error.
func (e baseError) RequestID() string { return e.requestID }

func (e baseError) Error() string {
	if e.requestID == "" {
		return e.message
	}
	return fmt.Sprintf("[%s] %s", e.requestID, e.message)
}

// Raw returns the underlying HTTP response, if any, for debugging. It is
// deliberately not consulted by Error()'s string formatting.
func (e baseError) Raw() *rawResponse { return e.raw }

// TransientError is implemented by every leaf the retry stage is allowed
// to retry. The retry stage depends only on this marker, never on a
// concrete leaf type, per spec §9.
type TransientError interface {
	error
	transient()
}

// PermanentError is implemented by every leaf the retry stage must never
// retry.
type PermanentError interface {
	error
	permanent()
}

// ConfigurationError reports an invalid Config at construction time. It is
// never raised mid-request.
type ConfigurationError struct {
	baseError
}

func newConfigurationError(message string) *ConfigurationError {
	return &ConfigurationError{baseError: newBaseError("", message, nil)}
}

// RateLimitError reports an HTTP 429. RetryAfterSeconds preserves the
// verbatim (possibly negative) integer form of the Retry-After header;
// RetryAfterAt holds the parsed HTTP-date form; ResetAt holds
// X-RateLimit-Reset. The retry stage's scheduling priority is
// RetryAfterSeconds, then RetryAfterAt, then ResetAt.
type RateLimitError struct {
	baseError
	RetryAfterSeconds *int
	RetryAfterAt      *time.Time
	ResetAt           *time.Time
}

func (*RateLimitError) transient() {}

// ScheduledWait resolves the server's retry hint to a concrete wait,
// capped by maxDelay. A negative Retry-After is treated as zero wait (but
// is still reported verbatim via RetryAfterSeconds). Returns ok=false when
// no hint was present at all, in which case the caller should fall back to
// the default exponential schedule.
func (e *RateLimitError) ScheduledWait(maxDelay time.Duration) (wait time.Duration, ok bool) {
	switch {
	case e.RetryAfterSeconds != nil:
		wait = time.Duration(*e.RetryAfterSeconds) * time.Second
		ok = true
	case e.RetryAfterAt != nil:
		wait = time.Until(*e.RetryAfterAt)
		ok = true
	case e.ResetAt != nil:
		wait = time.Until(*e.ResetAt)
		ok = true
	default:
		return 0, false
	}
	if wait < 0 {
		wait = 0
	}
	if wait > maxDelay {
		wait = maxDelay
	}
	return wait, true
}

// ServerError reports a 5xx response.
type ServerError struct {
	baseError
	StatusCode int
}

func (*ServerError) transient() {}

// NetworkError reports a transport-level failure: timeout, connection
// refused/reset, or TLS failure, surfaced before any HTTP status exists.
type NetworkError struct {
	baseError
	Cause error
}

func (*NetworkError) transient() {}
func (e *NetworkError) Unwrap() error { return e.Cause }

// ValidationError reports a 400 or 422 response.
type ValidationError struct {
	baseError
	StatusCode int
}

func (*ValidationError) permanent() {}

// AuthenticationError reports a 401 or 403 response.
type AuthenticationError struct {
	baseError
	StatusCode int
}

func (*AuthenticationError) permanent() {}

// NotFoundError reports a 404 response.
type NotFoundError struct {
	baseError
}

func (*NotFoundError) permanent() {}

// CancellationError is the distinct outcome of a sleep (throttle, queue, or
// retry backoff) being cut short by context cancellation. It is never a
// TransientError: no retry follows a cancellation, per spec §5.
type CancellationError struct {
	baseError
	Cause error
}

func (e *CancellationError) Unwrap() error { return e.Cause }

// AsRateLimitError, AsServerError, ... are thin errors.As wrappers so
// callers don't need to spell out the pointer-to-pointer idiom themselves,
// mirroring the teacher's AsAPIError helper in errors.go.
func AsRateLimitError(err error) (*RateLimitError, bool) {
	var e *RateLimitError
	return e, errors.As(err, &e)
}

func AsServerError(err error) (*ServerError, bool) {
	var e *ServerError
	return e, errors.As(err, &e)
}

func AsNetworkError(err error) (*NetworkError, bool) {
	var e *NetworkError
	return e, errors.As(err, &e)
}

func AsValidationError(err error) (*ValidationError, bool) {
	var e *ValidationError
	return e, errors.As(err, &e)
}

func AsAuthenticationError(err error) (*AuthenticationError, bool) {
	var e *AuthenticationError
	return e, errors.As(err, &e)
}

func AsNotFoundError(err error) (*NotFoundError, bool) {
	var e *NotFoundError
	return e, errors.As(err, &e)
}

// errorClass returns the leaf class name used in on_retry/on_error
// callback payloads and in the default logging emitter.
func errorClass(err error) string {
	switch err.(type) {
	case *RateLimitError:
		return "RateLimitError"
	case *ServerError:
		return "ServerError"
	case *NetworkError:
		return "NetworkError"
	case *ValidationError:
		return "ValidationError"
	case *AuthenticationError:
		return "AuthenticationError"
	case *NotFoundError:
		return "NotFoundError"
	case *ConfigurationError:
		return "ConfigurationError"
	case *CancellationError:
		return "CancellationError"
	default:
		return "UnknownError"
	}
}

func rawOf(err error) *rawResponse {
	type rawer interface{ Raw() *rawResponse }
	var r rawer
	if errors.As(err, &r) {
		return r.Raw()
	}
	return nil
}
