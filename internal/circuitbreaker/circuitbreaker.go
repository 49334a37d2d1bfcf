package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrOpen is returned by Call while the circuit is open.
var ErrOpen = errors.New("circuit breaker open")

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker protects an upstream by opening after repeated failures
// and letting trial requests through once the open timeout has elapsed.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	openedAt         time.Time
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	clock            clockwork.Clock
	isFailure        func(error) bool
	onStateChange    func(from, to State)
}

// Config holds circuit breaker parameters. Zero values take defaults.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	Clock            clockwork.Clock
	// IsFailure decides which errors count against the circuit. Defaults to any non-nil
	// error except context cancellation by the caller.
	IsFailure     func(error) bool
	OnStateChange func(from, to State)
}

// New creates a CircuitBreaker in the closed state.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil && !errors.Is(err, context.Canceled) }
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		clock:            cfg.Clock,
		isFailure:        cfg.IsFailure,
		onStateChange:    cfg.OnStateChange,
	}
}

// Call runs fn when the circuit allows it and records the outcome.
// While open and before the timeout, fn is not called and ErrOpen is returned.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.clock.Since(cb.openedAt) < cb.timeout {
			cb.mu.Unlock()
			return ErrOpen
		}
		cb.transitionLocked(StateHalfOpen)
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.isFailure(err) {
		cb.failureCount++
		if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
			cb.openedAt = cb.clock.Now()
			cb.transitionLocked(StateOpen)
		}
		return err
	}

	cb.failureCount = 0
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transitionLocked(StateClosed)
		}
	}
	return err
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.failureCount = 0
	cb.successCount = 0
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
