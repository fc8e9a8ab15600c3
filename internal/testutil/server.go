// Package testutil provides small httptest-backed stubs the root package's
// tests build pipelines and stream clients against, mirroring the teacher's
// own internal/testutil helpers.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// NewJSONSuccessHandler returns a handler that always answers 200 with the
// given JSON body, optionally setting X-RateLimit-* response headers.
func NewJSONSuccessHandler(t *testing.T, responseBody []byte, rateLimitHeaders map[string]string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		for k, v := range rateLimitHeaders {
			w.Header().Set(k, v)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(responseBody)
	}
}

// NewJSONErrorHandler returns a handler that always answers statusCode with
// the given JSON body, optionally setting response headers (e.g.
// Retry-After, X-RateLimit-Reset).
func NewJSONErrorHandler(t *testing.T, statusCode int, responseBody []byte, headers map[string]string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(statusCode)
		_, _ = w.Write(responseBody)
	}
}

// NewSequenceHandler serves the handlers in order, repeating the last one
// once exhausted — useful for "fail twice then succeed" retry fixtures.
func NewSequenceHandler(t *testing.T, handlers ...http.HandlerFunc) http.HandlerFunc {
	t.Helper()
	var calls int
	return func(w http.ResponseWriter, r *http.Request) {
		idx := calls
		if idx >= len(handlers) {
			idx = len(handlers) - 1
		}
		calls++
		handlers[idx](w, r)
	}
}

// NewTestServer wraps httptest.NewServer with a t.Cleanup registration
// that closes it, matching the teacher's NewTestServerAndClient shape.
func NewTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamScript is one scripted frame (or forced close) a stub streaming
// server sends to each client that connects.
type StreamScript struct {
	Filings   []map[string]any // marshaled as a single JSON array frame
	CloseCode int              // 0 means "send filings and keep the socket open"
}

// NewStreamServer starts a stub WebSocket server that plays script in order
// against every incoming connection: each script entry either writes one
// JSON-array frame of filings, or sends a close frame with CloseCode and
// ends the connection, whichever happens first.
func NewStreamServer(t *testing.T, script []StreamScript) *httptest.Server {
	t.Helper()
	handler := func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for _, step := range script {
			if step.CloseCode != 0 {
				msg := websocket.FormatCloseMessage(step.CloseCode, "")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			frame, err := json.Marshal(step.Filings)
			require.NoError(t, err)
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
		// Script exhausted with no explicit close: hold the socket open
		// briefly so the client can finish reading the last frame before
		// the test tears the server down.
		time.Sleep(50 * time.Millisecond)
	}
	ts := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(ts.Close)
	return ts
}

// WSURL rewrites an httptest server's http(s):// URL to ws(s)://.
func WSURL(ts *httptest.Server) string {
	u := ts.URL
	if len(u) >= 5 && u[:5] == "https" {
		return "wss" + u[5:]
	}
	return "ws" + u[4:]
}
