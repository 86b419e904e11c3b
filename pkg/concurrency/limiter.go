package concurrency

import (
	"context"
	"sync/atomic"
)

// Stats is a snapshot of limiter counters.
type Stats struct {
	Active    int64
	Peak      int64
	Completed int64
	Failed    int64
	Rejected  int64
}

// Limiter caps the number of calls in flight and, with a breaker, stops
// calling a backend that keeps failing.
type Limiter struct {
	sem     chan struct{}
	breaker *CircuitBreaker

	active    atomic.Int64
	peak      atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// NewLimiter allows maxConcurrent calls at once (at least one). breaker may be nil.
func NewLimiter(maxConcurrent int, breaker *CircuitBreaker) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{sem: make(chan struct{}, maxConcurrent), breaker: breaker}
}

// Do waits for a slot and runs fn. It returns ErrCircuitOpen without running fn
// while the breaker is open, or ctx.Err() if ctx ends first.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if l.breaker != nil {
		if err := l.breaker.Allow(); err != nil {
			l.rejected.Add(1)
			return err
		}
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()

	current := l.active.Add(1)
	for {
		peak := l.peak.Load()
		if current <= peak || l.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	defer l.active.Add(-1)

	err := fn(ctx)
	if err != nil {
		l.failed.Add(1)
	} else {
		l.completed.Add(1)
	}
	if l.breaker != nil {
		l.breaker.Record(err)
	}
	return err
}

// Breaker returns the breaker guarding the limiter, or nil.
func (l *Limiter) Breaker() *CircuitBreaker {
	return l.breaker
}

// Stats returns the current counters.
func (l *Limiter) Stats() Stats {
	return Stats{
		Active:    l.active.Load(),
		Peak:      l.peak.Load(),
		Completed: l.completed.Load(),
		Failed:    l.failed.Load(),
		Rejected:  l.rejected.Load(),
	}
}
