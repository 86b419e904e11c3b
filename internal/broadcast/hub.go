// Package broadcast provides the subscriber list shared by event sources.
//
// Delivery iterates over a snapshot of the list and re-checks each registration
// right before invoking it, so callbacks may subscribe or unsubscribe (themselves
// or others) while an event is being delivered.
package broadcast

import (
	"sync"
	"sync/atomic"
)

// Hub is a list of callbacks for one event kind. The zero value is ready to use.
type Hub[T any] struct {
	mu   sync.Mutex
	subs []*registration[T]
}

type registration[T any] struct {
	fn     func(T)
	active atomic.Bool
}

// Subscribe appends fn and returns a function removing this registration only.
func (h *Hub[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	r := &registration[T]{fn: fn}
	r.active.Store(true)

	h.mu.Lock()
	h.subs = append(h.subs, r)
	h.mu.Unlock()

	return func() { h.remove(r) }
}

func (h *Hub[T]) remove(r *registration[T]) {
	if !r.active.CompareAndSwap(true, false) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s == r {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every registration that is still active when its turn
// comes. proceed, when non-nil, is consulted before each invocation; delivery
// stops as soon as it returns false. Publish returns the number of invocations.
func (h *Hub[T]) Publish(v T, proceed func() bool) int {
	h.mu.Lock()
	snapshot := make([]*registration[T], len(h.subs))
	copy(snapshot, h.subs)
	h.mu.Unlock()

	delivered := 0
	for _, r := range snapshot {
		if !r.active.Load() {
			continue
		}
		if proceed != nil && !proceed() {
			break
		}
		r.fn(v)
		delivered++
	}
	return delivered
}

// Clear deactivates and drops every registration.
func (h *Hub[T]) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.subs {
		r.active.Store(false)
	}
	h.subs = nil
}

// Len returns the number of active registrations.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
