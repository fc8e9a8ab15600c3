// Package logging defines the structured-logging seam used throughout the
// client. It deliberately depends on no external logging library: callers
// supply a Logger, and the default event emitter (see Emit) renders one
// JSON object per pipeline event through whatever Logger they provided.
package logging

import "encoding/json"

// Logger defines the logging interface used throughout the client
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// NoopLogger implements Logger but does nothing
type NoopLogger struct{}

func (NoopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (NoopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (NoopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (NoopLogger) Error(msg string, keysAndValues ...interface{}) {}

// Level is the fixed severity a given event name is emitted at. Retries log
// at warn, errors at error, everything else at the base configured level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Event canonical names, matching the wire contract external observability
// integrations key off of. Renaming any of these is a breaking change.
const (
	EventRequestStart    = "secapi.request.start"
	EventRequestComplete = "secapi.request.complete"
	EventRequestRetry    = "secapi.request.retry"
	EventRequestError    = "secapi.request.error"
	EventRateLimitHit    = "secapi.rate_limit.exceeded"
	EventRateLimitThrot  = "secapi.rate_limit.throttle"
	EventRateLimitQueue  = "secapi.rate_limit.queue"
	EventRateLimitDeque  = "secapi.rate_limit.dequeue"
	EventExcessiveWait   = "secapi.rate_limit.excessive_wait"
	EventCallbackError   = "secapi.callback_error"
	EventStreamFiling    = "secapi.stream.filing"
	EventStreamReconnect = "secapi.stream.reconnect"
)

// Emit logs one structured JSON event: {event, timestamp, request_id, ...fields}.
// base is the configured default level; retry/error events override it per
// the fixed-level table in spec §4.7.
func Emit(logger Logger, base Level, event string, requestID string, fields map[string]any, timestampRFC3339 string) {
	if logger == nil {
		return
	}
	payload := map[string]any{
		"event":      event,
		"timestamp":  timestampRFC3339,
		"request_id": requestID,
	}
	for k, v := range fields {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	msg := string(raw)
	if err != nil {
		msg = event
	}

	level := base
	switch event {
	case EventRequestRetry:
		level = LevelWarn
	case EventRequestError, EventCallbackError:
		level = LevelError
	}

	switch level {
	case LevelDebug:
		logger.Debug(msg)
	case LevelWarn:
		logger.Warn(msg)
	case LevelError:
		logger.Error(msg)
	default:
		logger.Info(msg)
	}
}
