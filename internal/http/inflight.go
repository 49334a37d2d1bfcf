package http

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// drainTracker counts requests being served per route so shutdown can wait
// for them and report which routes are still running.
type drainTracker struct {
	clock clockwork.Clock

	mu     sync.Mutex
	routes map[string]int64
	total  int64
}

func newDrainTracker(clock clockwork.Clock) *drainTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &drainTracker{clock: clock, routes: make(map[string]int64)}
}

// begin records a request on route. The returned func ends it and is safe to
// call more than once.
func (d *drainTracker) begin(route string) func() {
	d.mu.Lock()
	d.routes[route]++
	d.total++
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.total--
			if d.routes[route]--; d.routes[route] <= 0 {
				delete(d.routes, route)
			}
		})
	}
}

func (d *drainTracker) count() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

func (d *drainTracker) pending() map[string]int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int64, len(d.routes))
	for r, n := range d.routes {
		out[r] = n
	}
	return out
}

// wait returns once nothing is in flight, checking every interval.
func (d *drainTracker) wait(ctx context.Context, interval time.Duration) error {
	if d.count() == 0 {
		return nil
	}
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if d.count() == 0 {
				return nil
			}
		}
	}
}

// requests is fed by MetricsMiddleware.
var requests = newDrainTracker(nil)

// InFlightCount returns the number of requests being served.
func InFlightCount() int64 {
	return requests.count()
}

// InFlightByRoute returns in-flight counts keyed by route template.
func InFlightByRoute() map[string]int64 {
	return requests.pending()
}

// WaitForInFlight blocks until no request is in flight or ctx is done.
func WaitForInFlight(ctx context.Context, checkInterval time.Duration) error {
	return requests.wait(ctx, checkInterval)
}
