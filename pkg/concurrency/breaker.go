// Package concurrency bounds and guards calls into slow or failing backends.
package concurrency

import (
	"errors"
	"sync"
	"time"

	"github.com/claudio-flowstack/flowstack/pkg/clock"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	// StateClosed lets every call through.
	StateClosed BreakerState = iota
	// StateOpen rejects calls until the reset timeout has passed.
	StateOpen
	// StateHalfOpen lets calls through; the next outcome decides the state.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker opens after a run of consecutive failures and probes the
// backend again once resetTimeout has elapsed.
type CircuitBreaker struct {
	clock            clock.Clock
	failureThreshold int
	resetTimeout     time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	onChange func(from, to BreakerState)
}

// NewCircuitBreaker creates a closed breaker. Non-positive arguments fall back
// to 5 failures and 30 seconds; a nil clock uses the real one.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration, clk clock.Clock) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &CircuitBreaker{clock: clk, failureThreshold: failureThreshold, resetTimeout: resetTimeout}
}

// OnStateChange sets a hook called on every transition, outside the lock.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to BreakerState)) {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
}

// Allow returns ErrCircuitOpen while the breaker is open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	if cb.state == StateOpen && cb.clock.Now().Sub(cb.openedAt) >= cb.resetTimeout {
		notify := cb.transitionLocked(StateHalfOpen)
		cb.mu.Unlock()
		notify()
		return nil
	}
	open := cb.state == StateOpen
	cb.mu.Unlock()
	if open {
		return ErrCircuitOpen
	}
	return nil
}

// Record feeds the outcome of a call into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	notify := func() {}
	if err == nil {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			notify = cb.transitionLocked(StateClosed)
		}
	} else {
		cb.failures++
		if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.failureThreshold) {
			cb.openedAt = cb.clock.Now()
			notify = cb.transitionLocked(StateOpen)
		}
	}
	cb.mu.Unlock()
	notify()
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transitionLocked(to BreakerState) func() {
	from := cb.state
	if from == to {
		return func() {}
	}
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
	}
	fn := cb.onChange
	if fn == nil {
		return func() {}
	}
	return func() { fn(from, to) }
}
