// Package traffic keeps sliding windows of request outcomes and derives the
// service health status from them.
package traffic

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Outcome is the result of one API request.
type Outcome int

const (
	Success Outcome = iota
	Error
	Denied
)

const maxAge = 5 * time.Minute

// Tracker maintains sliding windows of outcome timestamps.
type Tracker struct {
	clock clockwork.Clock

	mu    sync.Mutex
	times [3][]time.Time
}

// NewTracker returns a Tracker. A nil clock uses the real clock.
func NewTracker(clock clockwork.Clock) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{clock: clock}
}

// Record stores one outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// Counts is the number of each outcome inside a window.
type Counts struct {
	Success int `json:"success"`
	Error   int `json:"error"`
	Denied  int `json:"denied"`
}

// Total counts every outcome, denials included.
func (c Counts) Total() int { return c.Success + c.Error + c.Denied }

// ErrorPct is the share of errors among served requests. Denials are excluded.
func (c Counts) ErrorPct() float64 {
	served := c.Success + c.Error
	if served == 0 {
		return 0
	}
	return float64(c.Error) * 100 / float64(served)
}

// Counts returns the outcomes recorded within window.
func (t *Tracker) Counts(window time.Duration) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	return Counts{
		Success: countSince(t.times[Success], cutoff),
		Error:   countSince(t.times[Error], cutoff),
		Denied:  countSince(t.times[Denied], cutoff),
	}
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times = [3][]time.Time{}
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-maxAge)
	for o := range t.times {
		times := t.times[o]
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
