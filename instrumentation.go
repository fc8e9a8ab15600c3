package secapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sec-filings/secapi-go/internal/logging"
)

// instrumentationStage wraps the whole call (including every retry) to
// emit on_request before descent and exactly one of on_response/on_error
// after it returns, per spec §4.2. It sits outermost so the reported
// duration spans the full attempt set, not just the last attempt.
func (p *pipeline) instrumentationStage(ctx context.Context, env *requestEnv, desc RequestDescriptor) (*http.Response, error) {
	sanitized := sanitizeHeaders(desc.Header, p.cfg.APIKey)
	p.safeCallback("on_request", func() {
		if p.cfg.OnRequest != nil {
			p.cfg.OnRequest(env.requestID, desc.Method, desc.URL, sanitized)
		}
	})

	resp, err := p.retryStage(ctx, env, desc)
	duration := time.Since(env.start)

	if err != nil {
		if ce, ok := err.(*CancellationError); ok && ce.requestID == "" {
			ce.requestID = env.requestID
		}
		p.safeCallback("on_error", func() {
			if p.cfg.OnError != nil {
				p.cfg.OnError(env.requestID, err, desc.URL, desc.Method)
			}
		})
		return nil, err
	}

	p.safeCallback("on_response", func() {
		if p.cfg.OnResponse != nil {
			p.cfg.OnResponse(env.requestID, resp.StatusCode, duration.Milliseconds(), desc.URL, desc.Method)
		}
	})
	return resp, nil
}

// safeCallback runs fn, catching any panic a callback raises. A callback
// failure is logged as secapi.callback_error and swallowed — it never
// fails the request, masks the real error, or skips a later callback.
func (p *pipeline) safeCallback(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			p.reportCallbackError(name, err)
		}
	}()
	fn()
}

// reportCallbackError invokes on_callback_error in its own recover scope,
// so a broken on_callback_error handler can't recurse into itself or
// crash the request it's trying to report on. With no on_callback_error
// set, it logs secapi.callback_error through cfg.Logger instead.
func (p *pipeline) reportCallbackError(name string, err error) {
	defer func() { recover() }()
	if p.cfg.OnCallbackError != nil {
		p.cfg.OnCallbackError(name, err)
		return
	}
	logging.Emit(p.cfg.Logger, logging.LevelError, logging.EventCallbackError, "", map[string]any{
		"callback": name, "error_class": errorClass(err), "error_message": err.Error(),
	}, nowRFC3339())
}
