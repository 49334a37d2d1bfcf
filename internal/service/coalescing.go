package service

import (
	"context"
	"sync"
	"time"
)

// inFlightRequest tracks a single upstream request that multiple callers may wait for.
type inFlightRequest struct {
	done   chan struct{}
	result any
	err    error
}

// requestCoalescer prevents cache stampede by coalescing concurrent requests for the same key.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightRequest),
		timeout:  timeout,
	}
}

// GetOrDo runs fn for key unless an identical request is already in flight, in which
// case it waits for that request's result. shared reports whether the caller joined
// another caller's request. fn runs detached from the caller's cancellation so one
// caller giving up does not fail the others; it is bounded by the coalesce timeout.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (result any, shared bool, err error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if !exists {
		req = &inFlightRequest{done: make(chan struct{})}
		rc.inFlight[key] = req
		go rc.run(ctx, key, req, fn)
	}
	rc.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-req.done:
		return req.result, exists, req.err
	case <-waitCtx.Done():
		return nil, exists, waitCtx.Err()
	}
}

func (rc *requestCoalescer) run(ctx context.Context, key string, req *inFlightRequest, fn func(ctx context.Context) (any, error)) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
	defer cancel()

	req.result, req.err = fn(runCtx)

	rc.mu.Lock()
	delete(rc.inFlight, key)
	rc.mu.Unlock()
	close(req.done)
}

// pending returns the number of in-flight keys.
func (rc *requestCoalescer) pending() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}
