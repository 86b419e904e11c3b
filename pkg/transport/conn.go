// Package transport carries workflow events over NATS core subjects.
//
// Both the client side (natssource) and the backend (relay) depend on the small
// Conn interface below rather than on *nats.Conn, so tests can plug in an
// in-memory bus without a running server.
package transport

import (
	"github.com/nats-io/nats.go"
)

// Handler receives the subject and payload of one message.
type Handler func(subject string, data []byte)

// Conn defines the subset of NATS operations used by this module.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	IsConnected() bool
}

// Subscription abstracts an active subscription.
type Subscription interface {
	Unsubscribe() error
}

// WrapNATSConn adapts a *nats.Conn to the Conn interface.
func WrapNATSConn(nc *nats.Conn) Conn {
	return &natsConnAdapter{nc: nc}
}

type natsConnAdapter struct {
	nc *nats.Conn
}

func (a *natsConnAdapter) Publish(subject string, data []byte) error {
	return a.nc.Publish(subject, data)
}

func (a *natsConnAdapter) Subscribe(subject string, handler Handler) (Subscription, error) {
	sub, err := a.nc.Subscribe(subject, func(m *nats.Msg) {
		handler(m.Subject, m.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (a *natsConnAdapter) IsConnected() bool {
	return a.nc != nil && a.nc.IsConnected()
}
