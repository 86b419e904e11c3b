package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudio-flowstack/flowstack/internal/natstest"
	sdkerrors "github.com/claudio-flowstack/flowstack/pkg/errors"
	"github.com/claudio-flowstack/flowstack/pkg/transport"
)

func TestSubjects(t *testing.T) {
	s := transport.NewSubjects("")
	assert.Equal(t, "flowstack.execute", s.Execute())
	assert.Equal(t, "flowstack.dispose", s.Dispose())
	assert.Equal(t, "flowstack.events.src.3.status", s.Event("src", 3, transport.KindStatus))
	assert.Equal(t, "flowstack.events.src.>", s.Events("src"))

	custom := transport.NewSubjects("demo")
	assert.Equal(t, "demo.execute", custom.Execute())
}

func TestParseEvent(t *testing.T) {
	s := transport.NewSubjects("fs")
	tests := []struct {
		subject string
		run     uint64
		kind    string
		ok      bool
	}{
		{"fs.events.src.7.artifact", 7, transport.KindArtifact, true},
		{"fs.events.src.0.complete", 0, transport.KindComplete, true},
		{"fs.events.other.1.status", 0, "", false},
		{"fs.events.src.x.status", 0, "", false},
		{"fs.events.src.1.bogus", 0, "", false},
		{"fs.events.src.1.status.extra", 0, "", false},
	}
	for _, tt := range tests {
		run, kind, ok := s.ParseEvent("src", tt.subject)
		assert.Equal(t, tt.ok, ok, tt.subject)
		assert.Equal(t, tt.run, run, tt.subject)
		assert.Equal(t, tt.kind, kind, tt.subject)
	}
}

func TestValidToken(t *testing.T) {
	assert.True(t, transport.ValidToken("abc-123"))
	assert.False(t, transport.ValidToken(""))
	assert.False(t, transport.ValidToken("a.b"))
	assert.False(t, transport.ValidToken("a*"))
}

func TestPublishWithRetryRecovers(t *testing.T) {
	bus := natstest.New()
	bus.FailNext(2)

	policy := transport.RetryPolicy{MaxRetries: 2, RetryDelay: time.Millisecond}
	err := transport.PublishJSON(context.Background(), bus, "a.b", map[string]int{"n": 1}, policy, nil)
	require.NoError(t, err)

	msgs := bus.Messages("a.b")
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"n":1}`, string(msgs[0].Data))
}

func TestPublishWithRetryGivesUp(t *testing.T) {
	bus := natstest.New()
	bus.FailNext(5)

	policy := transport.RetryPolicy{MaxRetries: 1, RetryDelay: time.Millisecond}
	err := transport.PublishWithRetry(context.Background(), bus, "a", []byte("x"), policy, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, sdkerrors.ErrPublishFailed)
	assert.Equal(t, sdkerrors.CodePublishFailed, sdkerrors.CodeOf(err))
}

func TestPublishWithRetryCancelled(t *testing.T) {
	bus := natstest.New()
	bus.FailNext(5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := transport.RetryPolicy{MaxRetries: 3, RetryDelay: time.Hour}
	err := transport.PublishWithRetry(ctx, bus, "a", nil, policy, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublishNotConnected(t *testing.T) {
	bus := natstest.New()
	bus.Close()
	err := transport.PublishWithRetry(context.Background(), bus, "a", nil, transport.DefaultRetryPolicy(), nil)
	assert.True(t, sdkerrors.IsNotConnected(err))

	err = transport.PublishWithRetry(context.Background(), nil, "a", nil, transport.DefaultRetryPolicy(), nil)
	assert.True(t, sdkerrors.IsNotConnected(err))
}
