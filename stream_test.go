package secapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sec-filings/secapi-go/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFiling(accessionNo string) map[string]any {
	return map[string]any{
		"accessionNo": accessionNo,
		"formType":    "8-K",
		"filedAt":     time.Now().UTC().Format(time.RFC3339),
		"cik":         "0000123456",
		"companyName": "Example Corp",
	}
}

func TestStreamClient_DeliversFilingsThenTerminalClose(t *testing.T) {
	ts := testutil.NewStreamServer(t, []testutil.StreamScript{
		{Filings: []map[string]any{sampleFiling("a1"), sampleFiling("a2")}},
		{CloseCode: websocket.CloseNormalClosure},
	})

	var mu sync.Mutex
	var received []string
	c, err := New(
		WithAPIKey(validAPIKey()),
		WithStreamURL(testutil.WSURL(ts)),
		WithOnFiling(func(filing StreamFiling, latencyMs int64, receivedAt time.Time) {
			mu.Lock()
			received = append(received, filing.AccessionNo)
			mu.Unlock()
		}),
	)
	require.NoError(t, err)

	stream := c.NewStream()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = stream.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, StreamClosed, stream.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a1", "a2"}, received)
}

func TestStreamClient_PolicyViolationIsTerminalAuthError(t *testing.T) {
	ts := testutil.NewStreamServer(t, []testutil.StreamScript{
		{CloseCode: websocket.ClosePolicyViolation},
	})

	c, err := New(WithAPIKey(validAPIKey()), WithStreamURL(testutil.WSURL(ts)))
	require.NoError(t, err)

	stream := c.NewStream()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = stream.Subscribe(ctx)
	require.Error(t, err)
	_, ok := AsAuthenticationError(err)
	assert.True(t, ok)
	assert.Equal(t, StreamClosed, stream.State())
}

// abnormalThenNormalServer closes the first connection with 1006 after one
// filing, then closes every subsequent connection normally after one more
// filing — enough to exercise exactly one reconnect.
func abnormalThenNormalServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	var connCount int32

	handler := func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		n := atomic.AddInt32(&connCount, 1)
		frame, _ := json.Marshal([]map[string]any{sampleFiling("first")})
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

		if n == 1 {
			msg := websocket.FormatCloseMessage(websocket.CloseAbnormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	ts := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(ts.Close)
	return ts
}

func TestStreamClient_ReconnectsOnAbnormalClose(t *testing.T) {
	ts := abnormalThenNormalServer(t)

	var reconnects int32
	var filingCount int32
	c, err := New(
		WithAPIKey(validAPIKey()),
		WithStreamURL(testutil.WSURL(ts)),
		WithStreamInitialReconnectDelay(time.Millisecond),
		WithStreamMaxReconnectDelay(10*time.Millisecond),
		WithOnFiling(func(filing StreamFiling, latencyMs int64, receivedAt time.Time) {
			atomic.AddInt32(&filingCount, 1)
		}),
		WithOnReconnect(func(attemptCount int, downtimeSeconds float64) {
			atomic.AddInt32(&reconnects, 1)
			assert.Equal(t, 1, attemptCount)
		}),
	)
	require.NoError(t, err)

	stream := c.NewStream()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = stream.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&reconnects))
	assert.Equal(t, int32(2), atomic.LoadInt32(&filingCount))
}

func TestStreamBackoff_CapsAtMaxDelay(t *testing.T) {
	cfg, err := buildConfig([]Option{
		WithAPIKey(validAPIKey()),
		WithStreamInitialReconnectDelay(time.Second),
		WithStreamBackoffMultiplier(2.0),
		WithStreamMaxReconnectDelay(3 * time.Second),
	})
	require.NoError(t, err)

	assert.Equal(t, time.Second, streamBackoff(1, cfg))
	assert.Equal(t, 2*time.Second, streamBackoff(2, cfg))
	assert.Equal(t, 3*time.Second, streamBackoff(3, cfg))
	assert.Equal(t, 3*time.Second, streamBackoff(10, cfg))
}

func TestStreamClient_CloseStopsReconnectLoop(t *testing.T) {
	ts := testutil.NewStreamServer(t, []testutil.StreamScript{
		{CloseCode: websocket.CloseAbnormalClosure},
	})

	c, err := New(
		WithAPIKey(validAPIKey()),
		WithStreamURL(testutil.WSURL(ts)),
		WithStreamInitialReconnectDelay(200*time.Millisecond),
		WithStreamMaxReconnectAttempts(50),
	)
	require.NoError(t, err)

	stream := c.NewStream()
	done := make(chan error, 1)
	go func() { done <- stream.Subscribe(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, stream.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after Close")
	}
}
