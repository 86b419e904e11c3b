package relay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/claudio-flowstack/flowstack/pkg/transport"
)

type outbound struct {
	subject string
	data    []byte
}

// outbox publishes the events of one session in order. The caller's goroutine
// makes a single attempt; once an attempt fails, that event and every later one
// are queued and retried in the background, so a slow bus never holds up the
// simulator's timeline. Sends must not run concurrently with each other.
type outbox struct {
	ctx    context.Context
	conn   transport.Conn
	policy transport.RetryPolicy
	logger *zap.Logger
	wg     *sync.WaitGroup

	mu       sync.Mutex
	queue    []outbound
	draining bool
}

func (o *outbox) send(subject string, data []byte) {
	o.mu.Lock()
	if len(o.queue) > 0 {
		o.queue = append(o.queue, outbound{subject: subject, data: data})
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	err := transport.PublishWithRetry(o.ctx, o.conn, subject, data, transport.RetryPolicy{}, o.logger)
	if err == nil {
		return
	}
	if o.ctx.Err() != nil {
		return
	}

	o.mu.Lock()
	o.queue = append(o.queue, outbound{subject: subject, data: data})
	if !o.draining {
		o.draining = true
		o.wg.Add(1)
		go o.drain()
	}
	o.mu.Unlock()
}

// queued returns the number of events waiting for a retry.
func (o *outbox) queued() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

func (o *outbox) drain() {
	defer o.wg.Done()

	// The head already failed once on the caller's goroutine.
	select {
	case <-o.ctx.Done():
	case <-time.After(o.policy.RetryDelay):
	}

	for {
		o.mu.Lock()
		if len(o.queue) == 0 || o.ctx.Err() != nil {
			dropped := len(o.queue)
			o.queue = nil
			o.draining = false
			o.mu.Unlock()
			if dropped > 0 {
				o.logger.Warn("Dropping queued events", zap.Int("events", dropped))
			}
			return
		}
		head := o.queue[0]
		o.mu.Unlock()

		err := transport.PublishWithRetry(o.ctx, o.conn, head.subject, head.data, o.policy, o.logger)
		if err != nil {
			o.logger.Error("Failed to forward event",
				zap.String("subject", head.subject),
				zap.Error(err))
		}

		o.mu.Lock()
		o.queue = o.queue[1:]
		o.mu.Unlock()
	}
}
