package secapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxClassifiedBodyBytes = 4096

// classifyStage is the innermost stage before the transport: it issues
// the HTTP request for this attempt and maps the raw outcome onto the
// typed taxonomy (spec §4.5). 2xx/3xx pass through untouched.
func (p *pipeline) classifyStage(ctx context.Context, env *requestEnv, desc RequestDescriptor) (*http.Response, error) {
	timeout := p.cfg.RequestTimeout
	if desc.Overrides != nil && desc.Overrides.Timeout != nil {
		timeout = *desc.Overrides.Timeout
	}

	attemptCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if desc.Body != nil {
		body = bytes.NewReader(desc.Body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, desc.Method, desc.URL, body)
	if err != nil {
		return nil, &ValidationError{baseError: newBaseError(env.requestID, fmt.Sprintf("invalid request: %v", err), nil, p.cfg.APIKey)}
	}
	if desc.Header != nil {
		req.Header = desc.Header.Clone()
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(env.requestID, err, p.cfg.APIKey)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return resp, nil
	}
	return nil, classifyHTTPError(env.requestID, resp, p.cfg.APIKey)
}

// classifyTransportError maps a transport-level failure (before any HTTP
// status exists) to *NetworkError: timeouts, connection refused/reset, and
// TLS/certificate failures are all transient per spec's mapping table. A
// cancelled context is the exception and maps to *CancellationError.
func classifyTransportError(requestID string, err error, apiKey string) error {
	if errors.Is(err, context.Canceled) {
		return &CancellationError{
			baseError: newBaseError(requestID, "request cancelled", nil, apiKey),
			Cause:     err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{
			baseError: newBaseError(requestID, "request timed out: "+err.Error(), nil, apiKey),
			Cause:     err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &NetworkError{
			baseError: newBaseError(requestID, "request timed out: "+err.Error(), nil, apiKey),
			Cause:     err,
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &NetworkError{
			baseError: newBaseError(requestID, "connection error: "+err.Error(), nil, apiKey),
			Cause:     err,
		}
	}

	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return &NetworkError{
			baseError: newBaseError(requestID, "TLS certificate error: "+err.Error(), nil, apiKey),
			Cause:     err,
		}
	}

	return &NetworkError{
		baseError: newBaseError(requestID, "network error: "+err.Error(), nil, apiKey),
		Cause:     err,
	}
}

// classifyHTTPError maps a non-2xx/3xx response to the typed taxonomy per
// the mapping table in spec §4.5. The body is read (bounded) so the raw
// response survives past resp.Body.Close(); the message itself carries
// only the status code, never the body.
func classifyHTTPError(requestID string, resp *http.Response, apiKey string) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxClassifiedBodyBytes))
	raw := &rawResponse{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body}

	status := resp.StatusCode
	msg := fmt.Sprintf("request failed with status %d", status)

	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &ValidationError{
			baseError:  newBaseError(requestID, msg, raw, apiKey),
			StatusCode: status,
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthenticationError{
			baseError:  newBaseError(requestID, msg, raw, apiKey),
			StatusCode: status,
		}
	case http.StatusNotFound:
		return &NotFoundError{baseError: newBaseError(requestID, msg, raw, apiKey)}
	case http.StatusTooManyRequests:
		return classifyRateLimitError(requestID, raw, apiKey)
	default:
		if status >= 500 {
			return &ServerError{
				baseError:  newBaseError(requestID, msg, raw, apiKey),
				StatusCode: status,
			}
		}
		// Any other 4xx not explicitly named by the mapping table is
		// treated as a permanent validation failure: the client sent
		// something the server will never accept as-is.
		return &ValidationError{
			baseError:  newBaseError(requestID, msg, raw, apiKey),
			StatusCode: status,
		}
	}
}

func classifyRateLimitError(requestID string, raw *rawResponse, apiKey string) *RateLimitError {
	msg := "rate limit exceeded (429)"
	e := &RateLimitError{}

	if v := strings.TrimSpace(raw.Header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			e.RetryAfterSeconds = &secs
			msg += fmt.Sprintf(", retry after %ds", secs)
		} else if t, err := http.ParseTime(v); err == nil {
			e.RetryAfterAt = &t
			msg += ", retry after " + t.Format(time.RFC3339)
		}
		// Anything else is unparseable and leaves both fields nil. A
		// negative integer is kept verbatim in RetryAfterSeconds;
		// ScheduledWait turns it into a zero wait.
	}

	if v := strings.TrimSpace(raw.Header.Get("X-RateLimit-Reset")); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.Unix(secs, 0)
			e.ResetAt = &t
			msg += fmt.Sprintf(", quota resets at %s", t.Format(time.RFC3339))
		}
	}

	e.baseError = newBaseError(requestID, msg, raw, apiKey)
	return e
}
