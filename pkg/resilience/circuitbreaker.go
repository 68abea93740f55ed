// Package resilience guards storage access with a circuit breaker.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed allows all calls through
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout elapses
	StateOpen
	// StateHalfOpen lets calls through to probe recovery
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the guarded function while the
// circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a CircuitBreaker.
type Config struct {
	// MaxFailures consecutive failures open the circuit.
	MaxFailures int
	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration
	// IsFailure decides which errors count against the circuit. Nil counts
	// every non-nil error.
	IsFailure func(error) bool
	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(from, to State)
}

// CircuitBreaker opens after MaxFailures consecutive failures, rejects calls
// for ResetTimeout, then lets calls through half-open. A success while
// half-open closes the circuit; a failure reopens it.
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute calls fn unless the circuit is open and records its outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err != nil && cb.cfg.IsFailure(err))
	return err
}

// State returns the current state. An open circuit whose reset timeout
// elapsed reports half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Failures returns the current count of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.transition(func() {
		cb.state = StateClosed
		cb.failures = 0
	})
}

func (cb *CircuitBreaker) allow() bool {
	allowed := true
	cb.transition(func() {
		if cb.state != StateOpen {
			return
		}
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			allowed = false
			return
		}
		cb.state = StateHalfOpen
	})
	return allowed
}

func (cb *CircuitBreaker) record(failed bool) {
	cb.transition(func() {
		if !failed {
			cb.state = StateClosed
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
	})
}

// transition runs fn under the lock and reports a state change afterwards.
func (cb *CircuitBreaker) transition(fn func()) {
	cb.mu.Lock()
	from := cb.state
	fn()
	to := cb.state
	cb.mu.Unlock()
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
