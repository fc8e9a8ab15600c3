package secapi

import (
	"context"
	"net/http"
)

// Client is the main pipeline entry point. It holds the immutable Config,
// the per-client rate-limit tracker, and the stage chain; endpoint
// adapters are expected to build a RequestDescriptor and call Do.
type Client struct {
	cfg        *Config
	httpClient *http.Client
	tracker    *rateTracker
	pipe       *pipeline
}

// New constructs a Client. Config is assembled from built-in defaults,
// an optional YAML file, SECAPI_* environment variables, and finally the
// supplied Options, in that increasing order of precedence (spec §6).
func New(opts ...Option) (*Client, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	tracker := newRateTracker()
	httpClient := &http.Client{}

	c := &Client{
		cfg:        cfg,
		httpClient: httpClient,
		tracker:    tracker,
	}
	c.pipe = newPipeline(cfg, tracker, httpClient)
	return c, nil
}

// Do drives desc through the pipeline and returns the final response, or a
// classified error. Callers are responsible for closing resp.Body.
func (c *Client) Do(ctx context.Context, desc RequestDescriptor) (*http.Response, error) {
	return c.pipe.Execute(ctx, desc)
}

// RateLimitState returns a snapshot of the tracker's current view of the
// server's quota. Useful for endpoint adapters that want to pre-empt a
// call they know would just queue.
func (c *Client) RateLimitState() RateLimitState {
	return c.tracker.CurrentState()
}

// QueuedCount returns how many requests are currently waiting out a
// zero-quota window. Informational only — there is no FIFO guarantee
// between queued requests (spec §5).
func (c *Client) QueuedCount() int {
	return c.tracker.QueuedCount()
}

// NewStream builds a streaming client bound to this Client's Config
// (reconnect backoff, latency warning threshold, callback slots) and API
// key. The streaming subsystem does not flow through the REST pipeline
// above; it owns its own connection and state machine (spec §4.6).
func (c *Client) NewStream() *StreamClient {
	return newStreamClient(c.cfg)
}
