// Package splash drives the intro screen: shown, then fading, then hidden.
package splash

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Phase is the splash screen state.
type Phase int

const (
	PhaseSplash Phase = iota
	PhaseFading
	PhaseHidden
)

func (p Phase) String() string {
	switch p {
	case PhaseSplash:
		return "splash"
	case PhaseFading:
		return "fading"
	default:
		return "hidden"
	}
}

const (
	DefaultShowFor = 1 * time.Second
	DefaultFadeFor = 10 * time.Second
)

// Screen advances splash -> fading -> hidden on a single scheduled timer.
type Screen struct {
	clock   clockwork.Clock
	showFor time.Duration
	fadeFor time.Duration
	onPhase func(Phase)

	mu    sync.Mutex
	phase Phase
	timer clockwork.Timer
}

// Options configures a Screen. Zero durations use the defaults.
type Options struct {
	Clock   clockwork.Clock
	ShowFor time.Duration
	FadeFor time.Duration
	// OnPhase is called after each transition, outside the lock.
	OnPhase func(Phase)
}

// Start creates a Screen in the splash phase and schedules the first transition.
func Start(opts Options) *Screen {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.ShowFor <= 0 {
		opts.ShowFor = DefaultShowFor
	}
	if opts.FadeFor <= 0 {
		opts.FadeFor = DefaultFadeFor
	}
	s := &Screen{
		clock:   opts.Clock,
		showFor: opts.ShowFor,
		fadeFor: opts.FadeFor,
		onPhase: opts.OnPhase,
		phase:   PhaseSplash,
	}
	s.mu.Lock()
	s.timer = s.clock.AfterFunc(s.showFor, s.advance)
	s.mu.Unlock()
	return s
}

func (s *Screen) advance() {
	s.mu.Lock()
	if s.timer == nil {
		s.mu.Unlock()
		return
	}
	switch s.phase {
	case PhaseSplash:
		s.phase = PhaseFading
		s.timer = s.clock.AfterFunc(s.fadeFor, s.advance)
	case PhaseFading:
		s.phase = PhaseHidden
		s.timer = nil
	}
	phase := s.phase
	s.mu.Unlock()

	if s.onPhase != nil {
		s.onPhase(phase)
	}
}

// Phase returns the current phase.
func (s *Screen) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Stop cancels the pending transition. The phase stays where it is.
func (s *Screen) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
