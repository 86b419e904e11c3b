// Package natstest provides an in-memory transport.Conn for tests that need a
// NATS-like bus without a running server.
package natstest

import (
	"errors"
	"strings"
	"sync"

	"github.com/claudio-flowstack/flowstack/pkg/transport"
)

// ErrInjected is returned by Publish while failures are injected.
var ErrInjected = errors.New("natstest: injected publish failure")

// Msg is a published message.
type Msg struct {
	Subject string
	Data    []byte
}

// Bus is an in-memory subject bus. Delivery is synchronous: Publish invokes every
// matching handler before it returns, outside the bus lock, so handlers may
// publish or subscribe themselves.
type Bus struct {
	mu          sync.Mutex
	subscribers []*subscriber
	messages    []Msg
	failNext    int
	closed      bool
}

type subscriber struct {
	pattern string
	handler transport.Handler
	active  bool
}

var _ transport.Conn = (*Bus)(nil)

// New returns an empty connected bus.
func New() *Bus {
	return &Bus{}
}

// Publish records the message and delivers it to every matching subscriber.
func (b *Bus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("natstest: connection closed")
	}
	if b.failNext > 0 {
		b.failNext--
		b.mu.Unlock()
		return ErrInjected
	}
	payload := append([]byte(nil), data...)
	b.messages = append(b.messages, Msg{Subject: subject, Data: payload})

	var handlers []transport.Handler
	for _, s := range b.subscribers {
		if s.active && Match(s.pattern, subject) {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(subject, payload)
	}
	return nil
}

// Subscribe registers handler for subjects matching pattern.
func (b *Bus) Subscribe(pattern string, handler transport.Handler) (transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("natstest: connection closed")
	}
	s := &subscriber{pattern: pattern, handler: handler, active: true}
	b.subscribers = append(b.subscribers, s)
	return &subscription{bus: b, sub: s}, nil
}

// IsConnected reports false after Close.
func (b *Bus) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// Close disconnects the bus.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// FailNext makes the next n publishes fail.
func (b *Bus) FailNext(n int) {
	b.mu.Lock()
	b.failNext = n
	b.mu.Unlock()
}

// Messages returns the published messages whose subject matches pattern.
func (b *Bus) Messages(pattern string) []Msg {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Msg
	for _, m := range b.messages {
		if Match(pattern, m.Subject) {
			out = append(out, m)
		}
	}
	return out
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subscribers {
		if s.active {
			n++
		}
	}
	return n
}

type subscription struct {
	bus *Bus
	sub *subscriber
}

func (s *subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if !s.sub.active {
		return errors.New("natstest: invalid subscription")
	}
	s.sub.active = false
	for i, x := range s.bus.subscribers {
		if x == s.sub {
			s.bus.subscribers = append(s.bus.subscribers[:i], s.bus.subscribers[i+1:]...)
			break
		}
	}
	return nil
}

// Match reports whether subject matches a NATS pattern with '*' and '>' wildcards.
func Match(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")
	for i, tok := range p {
		if tok == ">" {
			return len(s) > i
		}
		if i >= len(s) {
			return false
		}
		if tok != "*" && tok != s[i] {
			return false
		}
	}
	return len(p) == len(s)
}
