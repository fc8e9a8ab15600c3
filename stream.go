package secapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamState is a position in the streaming client's connection FSM (spec
// §4.6): Disconnected -> Connecting -> Connected -> Reconnecting ->
// Connecting -> ... -> Closed. Closed is terminal; every other state can
// still transition.
type StreamState int

const (
	StreamDisconnected StreamState = iota
	StreamConnecting
	StreamConnected
	StreamReconnecting
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamDisconnected:
		return "disconnected"
	case StreamConnecting:
		return "connecting"
	case StreamConnected:
		return "connected"
	case StreamReconnecting:
		return "reconnecting"
	case StreamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FilingHandlerError wraps a panic or error raised by the caller's on_filing
// callback with the element that triggered it, so a custom on_callback_error
// handler can log or alert on which filing it lost rather than just that
// some filing did.
type FilingHandlerError struct {
	Err         error
	AccessionNo string
	Ticker      string
}

func (e *FilingHandlerError) Error() string {
	return fmt.Sprintf("on_filing handler error for %s: %v", e.AccessionNo, e.Err)
}
func (e *FilingHandlerError) Unwrap() error { return e.Err }

// StreamClient owns one logical subscription to the filings feed. It is not
// safe to call Subscribe concurrently from multiple goroutines, but State
// and Close may be called from any goroutine while Subscribe runs.
type StreamClient struct {
	cfg *Config

	mu      sync.Mutex
	state   StreamState
	running bool
	conn    *websocket.Conn
	cancel  context.CancelFunc
}

func newStreamClient(cfg *Config) *StreamClient {
	return &StreamClient{cfg: cfg, state: StreamDisconnected}
}

// State returns the client's current position in the connection FSM.
func (s *StreamClient) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StreamClient) setState(st StreamState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *StreamClient) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

func (s *StreamClient) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Close tears down the active connection, if any, and moves the client to
// StreamClosed. Subscribe's reconnect loop observes this and returns nil
// rather than attempting to reconnect.
func (s *StreamClient) Close() error {
	s.mu.Lock()
	s.running = false
	s.state = StreamClosed
	conn := s.conn
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Subscribe dials the filings feed and runs until ctx is cancelled, Close is
// called, the server sends a terminal close code, or the reconnect budget
// (spec §4.6.2) is exhausted. Decoded filings are delivered to cfg.OnFiling;
// there is no separate handler parameter, matching the "deliver to a
// user-supplied handler" wording the OnFiling callback slot already
// satisfies.
func (s *StreamClient) Subscribe(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()
	defer s.setRunning(false)

	err := s.runLoop(runCtx)
	if _, cancelled := err.(*CancellationError); cancelled && ctx.Err() == nil && !s.isRunning() {
		// runCtx was cancelled by Close, not by the caller.
		return nil
	}
	return err
}

func (s *StreamClient) streamURL() string {
	u := s.cfg.StreamURL
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "apiKey=" + url.QueryEscape(s.cfg.APIKey)
}

// runLoop is the FSM driver: dial, read frames until the connection drops,
// then decide whether the drop is terminal or warrants a reconnect, per the
// close-code policy in spec §4.6.3.
func (s *StreamClient) runLoop(ctx context.Context) error {
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			s.setState(StreamClosed)
			return &CancellationError{baseError: newBaseError("", "stream subscription cancelled", nil), Cause: err}
		}

		s.setState(StreamConnecting)

		conn, _, dialErr := websocket.DefaultDialer.DialContext(ctx, s.streamURL(), nil)
		if dialErr != nil {
			if ctx.Err() != nil {
				s.setState(StreamClosed)
				return &CancellationError{baseError: newBaseError("", "stream subscription cancelled", nil), Cause: ctx.Err()}
			}
			if done, err := s.handleDrop(ctx, &attempts, time.Now(), 1006); done {
				return err
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.state = StreamConnected
		s.mu.Unlock()
		attempts = 0

		closeCode, readErr := s.readLoop(ctx, conn)
		disconnectedAt := time.Now()
		conn.Close()

		if !s.isRunning() {
			// Close() was called explicitly; don't reconnect.
			s.setState(StreamClosed)
			return nil
		}

		if readErr == nil && isTerminalCloseCode(closeCode) {
			s.setState(StreamClosed)
			return nil
		}

		if closeCode == websocket.ClosePolicyViolation {
			s.setState(StreamClosed)
			return &AuthenticationError{baseError: newBaseError("", "stream authentication rejected (close code 1008)", nil, s.cfg.APIKey)}
		}

		if done, err := s.handleDrop(ctx, &attempts, disconnectedAt, closeCode); done {
			return err
		}
	}
}

// handleDrop applies the bounded-reconnect policy after a non-terminal
// disconnect: returns done=true with a terminal error if the budget is
// exhausted or the wait is cut short by cancellation, otherwise sleeps out
// the backoff and fires on_reconnect immediately before the next dial.
func (s *StreamClient) handleDrop(ctx context.Context, attempts *int, disconnectedAt time.Time, closeCode int) (done bool, err error) {
	*attempts++
	if *attempts > s.cfg.StreamMaxReconnectAttempts {
		s.setState(StreamClosed)
		return true, &NetworkError{
			baseError: newBaseError("", fmt.Sprintf("stream reconnect budget exhausted after %d attempts (last close code %d)", *attempts-1, closeCode), nil),
		}
	}

	s.setState(StreamReconnecting)
	wait := streamBackoff(*attempts, s.cfg)
	if sleepErr := s.sleepCtx(ctx, wait); sleepErr != nil {
		s.setState(StreamClosed)
		return true, sleepErr
	}

	downtime := time.Since(disconnectedAt).Seconds()
	s.safeCallback("on_reconnect", func() {
		if s.cfg.OnReconnect != nil {
			s.cfg.OnReconnect(*attempts, downtime)
		}
	})
	return false, nil
}

// streamBackoff computes the delay before reconnect attempt n (1-indexed),
// exponential from StreamInitialReconnectDelay, capped at
// StreamMaxReconnectDelay.
func streamBackoff(attempt int, cfg *Config) time.Duration {
	d := float64(cfg.StreamInitialReconnectDelay)
	for i := 1; i < attempt; i++ {
		d *= cfg.StreamBackoffMultiplier
		if time.Duration(d) > cfg.StreamMaxReconnectDelay {
			return cfg.StreamMaxReconnectDelay
		}
	}
	wait := time.Duration(d)
	if wait > cfg.StreamMaxReconnectDelay {
		wait = cfg.StreamMaxReconnectDelay
	}
	return wait
}

func (s *StreamClient) sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return &CancellationError{baseError: newBaseError("", "stream reconnect wait cancelled", nil), Cause: ctx.Err()}
	}
}

// readLoop reads frames off conn until it errors or the connection is
// closed, dispatching every decoded filing element in between. Each frame
// is a JSON array of filing objects (spec §4.6.1); a malformed element is
// dropped and logged without losing the rest of the frame.
func (s *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn) (closeCode int, err error) {
	for {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		_, data, readErr := conn.ReadMessage()
		if readErr != nil {
			if ce, ok := readErr.(*websocket.CloseError); ok {
				return ce.Code, nil
			}
			return websocket.CloseAbnormalClosure, readErr
		}

		var elements []json.RawMessage
		if err := json.Unmarshal(data, &elements); err != nil {
			s.logWarn("stream: failed to decode frame as a JSON array", err)
			continue
		}

		for _, raw := range elements {
			if !s.isRunning() {
				return websocket.CloseNormalClosure, nil
			}

			filing, ok := decodeFiling(raw)
			if !ok {
				s.logWarn("stream: dropping malformed filing element", nil)
				continue
			}
			s.dispatch(filing)
		}
	}
}

func (s *StreamClient) dispatch(filing StreamFiling) {
	receivedAt := time.Now()
	latency := receivedAt.Sub(filing.FiledAt).Milliseconds()

	s.invokeOnFiling(filing, latency, receivedAt)

	if s.cfg.StreamLatencyWarningThreshold > 0 && time.Duration(latency)*time.Millisecond > s.cfg.StreamLatencyWarningThreshold {
		s.logWarn(fmt.Sprintf("stream: filing %s arrived %dms after filed_at, exceeding threshold", filing.AccessionNo, latency), nil)
	}
}

// invokeOnFiling runs cfg.OnFiling with its own recover scope, rather than
// going through the generic safeCallback, so a panicking handler's error
// can be wrapped in a FilingHandlerError before it reaches
// on_callback_error — the accession number and ticker it was processing
// would otherwise be lost, per spec §4.6.
func (s *StreamClient) invokeOnFiling(filing StreamFiling, latencyMs int64, receivedAt time.Time) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			s.reportCallbackError("on_filing", &FilingHandlerError{
				Err:         err,
				AccessionNo: filing.AccessionNo,
				Ticker:      filing.Ticker,
			})
		}
	}()
	if s.cfg.OnFiling != nil {
		s.cfg.OnFiling(filing, latencyMs, receivedAt)
	}
}

func (s *StreamClient) logWarn(msg string, cause error) {
	if s.cfg.Logger == nil {
		return
	}
	if cause != nil {
		s.cfg.Logger.Warn(msg, "error", cause.Error())
		return
	}
	s.cfg.Logger.Warn(msg)
}

// safeCallback mirrors pipeline.safeCallback: a panicking on_filing or
// on_reconnect handler is caught, wrapped, and routed to on_callback_error
// instead of killing the reconnect loop.
func (s *StreamClient) safeCallback(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			s.reportCallbackError(name, err)
		}
	}()
	fn()
}

func (s *StreamClient) reportCallbackError(name string, err error) {
	defer func() { recover() }()
	if s.cfg.OnCallbackError != nil {
		s.cfg.OnCallbackError(name, err)
	}
}

// isTerminalCloseCode reports whether a close code is an expected,
// non-error shutdown (normal closure or going-away) that should not
// trigger a reconnect attempt.
func isTerminalCloseCode(code int) bool {
	return code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway
}
