// Package secapi implements the pipeline core described by the project
// specification: a composable request pipeline (instrumentation, bounded
// retry, rate-limit-aware throttling/queueing, typed error classification)
// plus a streaming subsystem, fronting a single external financial-filings
// API. Endpoint-specific request encoders and typed response objects are
// deliberately out of scope — this package exposes only the pipeline
// contract those adapters would sit on top of.
package secapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestDescriptor is the input to the pipeline: everything one logical
// call needs, independent of which endpoint adapter produced it.
type RequestDescriptor struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// RequestID lets a caller pre-assign a trace id that survives
	// end-to-end. If empty, the pipeline generates one.
	RequestID string

	// Overrides allows a single call to deviate from the client's default
	// retry/timeout configuration.
	Overrides *CallOverrides
}

// CallOverrides narrows the configured defaults for one request.
type CallOverrides struct {
	MaxAttempts *int
	Timeout     *time.Duration
}

// requestEnv is the mutable, request-scoped carrier threaded by reference
// down the stage chain. It is never visible outside the pipeline, per
// spec §3 — ordinary function composition over an explicit struct,
// replacing the teacher's mutable-environment-hash-through-middleware
// shape per spec §9's re-architecture note.
type requestEnv struct {
	requestID string
	start     time.Time
	attempt   int
}

func newRequestEnv(desc RequestDescriptor) *requestEnv {
	id := desc.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	return &requestEnv{requestID: id, start: time.Now()}
}

// pipeline drives one request through the fixed stage chain:
// Instrumentation -> Retry -> Rate-limiter -> Error-classifier -> Transport.
// This order is load-bearing: the rate-limiter must see the final
// (post-retry) headers for its state update and must inspect the
// pre-classification status of a 429, so it sits inside the retry
// boundary; the classifier sits just above the transport so the retry
// stage can match on error class; instrumentation sits outermost so the
// reported duration spans every attempt.
type pipeline struct {
	cfg        *Config
	tracker    *rateTracker
	httpClient *http.Client
}

func newPipeline(cfg *Config, tracker *rateTracker, hc *http.Client) *pipeline {
	return &pipeline{cfg: cfg, tracker: tracker, httpClient: hc}
}

// Execute drives desc through the stage chain and returns the final
// response, or a classified error: a TransientError or PermanentError
// leaf, or a *CancellationError when ctx is cancelled.
func (p *pipeline) Execute(ctx context.Context, desc RequestDescriptor) (*http.Response, error) {
	env := newRequestEnv(desc)
	return p.instrumentationStage(ctx, env, desc)
}
