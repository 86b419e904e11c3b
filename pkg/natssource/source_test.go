package natssource

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudio-flowstack/flowstack/internal/natstest"
	sdkerrors "github.com/claudio-flowstack/flowstack/pkg/errors"
	"github.com/claudio-flowstack/flowstack/pkg/transport"
	"github.com/claudio-flowstack/flowstack/pkg/workflow"
)

func newSource(t *testing.T, bus *natstest.Bus) *Source {
	t.Helper()
	src, err := New(Config{Conn: bus, SourceID: "src1"})
	require.NoError(t, err)
	t.Cleanup(src.Dispose)
	return src
}

func emit(t *testing.T, bus *natstest.Bus, run uint64, kind string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(transport.NewSubjects("").Event("src1", run, kind), data))
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, sdkerrors.IsNotConnected(err))

	closed := natstest.New()
	closed.Close()
	_, err = New(Config{Conn: closed})
	assert.True(t, sdkerrors.IsNotConnected(err))

	_, err = New(Config{Conn: natstest.New(), SourceID: "bad.id"})
	assert.ErrorIs(t, err, sdkerrors.ErrInvalidConfig)

	src, err := New(Config{Conn: natstest.New()})
	require.NoError(t, err)
	assert.Len(t, src.ID(), 36)
	src.Dispose()
}

func TestExecutePublishesRequest(t *testing.T) {
	bus := natstest.New()
	src := newSource(t, bus)

	types := map[workflow.NodeID]workflow.NodeType{"A": workflow.NodeTypeTrigger}
	err := src.Execute("sys", workflow.NodeIDs("A", "B"), []workflow.Connection{{From: "A", To: "B"}}, workflow.WithNodeTypes(types))
	require.NoError(t, err)

	msgs := bus.Messages("flowstack.execute")
	require.Len(t, msgs, 1)
	req, err := workflow.FromBytes[transport.ExecuteRequest](msgs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "src1", req.SourceID)
	assert.Equal(t, uint64(1), req.Run)
	assert.Equal(t, "sys", req.SystemID)
	assert.Equal(t, workflow.NodeIDs("A", "B"), req.NodeIDs)
	assert.Equal(t, types, req.NodeTypes)
}

func TestEventsAreDispatchedInOrder(t *testing.T) {
	bus := natstest.New()
	src := newSource(t, bus)

	var log []string
	src.OnNodeStatus(func(e workflow.NodeStatusEvent) { log = append(log, string(e.NodeID)+":"+string(e.Status)) })
	src.OnArtifact(func(a workflow.Artifact) { log = append(log, "artifact:"+a.ID) })
	src.OnComplete(func(r workflow.ExecutionResult) { log = append(log, "complete:"+r.ExecutionID) })

	require.NoError(t, src.Execute("sys", workflow.NodeIDs("A"), nil))
	emit(t, bus, 1, transport.KindStatus, workflow.NodeStatusEvent{NodeID: "A", Status: workflow.NodeStatusPending})
	emit(t, bus, 1, transport.KindStatus, workflow.NodeStatusEvent{NodeID: "A", Status: workflow.NodeStatusCompleted})
	emit(t, bus, 1, transport.KindArtifact, workflow.Artifact{ID: "artifact-1", NodeID: "A"})
	emit(t, bus, 1, transport.KindComplete, workflow.ExecutionResult{ExecutionID: "exec-1"})
	emit(t, bus, 1, transport.KindStatus, workflow.NodeStatusEvent{NodeID: "late", Status: workflow.NodeStatusPending})

	assert.Equal(t, []string{"A:pending", "A:completed", "artifact:artifact-1", "complete:exec-1"}, log)
}

func TestStaleRunEventsAreDropped(t *testing.T) {
	bus := natstest.New()
	src := newSource(t, bus)

	var got []workflow.NodeID
	src.OnNodeStatus(func(e workflow.NodeStatusEvent) { got = append(got, e.NodeID) })

	emit(t, bus, 0, transport.KindStatus, workflow.NodeStatusEvent{NodeID: "before"})

	require.NoError(t, src.Execute("sys", nil, nil))
	require.NoError(t, src.Execute("sys", nil, nil))
	emit(t, bus, 1, transport.KindStatus, workflow.NodeStatusEvent{NodeID: "old"})
	emit(t, bus, 2, transport.KindStatus, workflow.NodeStatusEvent{NodeID: "new"})

	assert.Equal(t, []workflow.NodeID{"new"}, got)
}

func TestUndecodableEventIsDropped(t *testing.T) {
	bus := natstest.New()
	src := newSource(t, bus)

	var calls int
	src.OnNodeStatus(func(workflow.NodeStatusEvent) { calls++ })
	require.NoError(t, src.Execute("sys", nil, nil))

	require.NoError(t, bus.Publish("flowstack.events.src1.1.status", []byte("{")))
	require.NoError(t, bus.Publish("flowstack.events.src1.1.unknown", []byte("{}")))
	emit(t, bus, 1, transport.KindStatus, workflow.NodeStatusEvent{NodeID: "A"})

	assert.Equal(t, 1, calls)
}

func TestDispose(t *testing.T) {
	bus := natstest.New()
	src := newSource(t, bus)

	var calls int
	src.OnNodeStatus(func(workflow.NodeStatusEvent) { calls++ })
	require.NoError(t, src.Execute("sys", nil, nil))
	require.Equal(t, 1, bus.Subscribers())

	src.Dispose()
	src.Dispose()

	emit(t, bus, 1, transport.KindStatus, workflow.NodeStatusEvent{NodeID: "A"})
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, bus.Subscribers())

	msgs := bus.Messages("flowstack.dispose")
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"sourceId":"src1"}`, string(msgs[0].Data))

	err := src.Execute("sys", nil, nil)
	assert.True(t, sdkerrors.IsDisposed(err))
}

func TestExecuteFailsWhenDisconnected(t *testing.T) {
	bus := natstest.New()
	src := newSource(t, bus)
	bus.Close()

	err := src.Execute("sys", nil, nil)
	assert.True(t, sdkerrors.IsNotConnected(err))
}

func TestUnsubscribeInsideCallback(t *testing.T) {
	bus := natstest.New()
	src := newSource(t, bus)

	var first, second int
	var unsub workflow.Unsubscribe
	unsub = src.OnArtifact(func(workflow.Artifact) {
		first++
		unsub()
	})
	src.OnArtifact(func(workflow.Artifact) { second++ })

	require.NoError(t, src.Execute("sys", nil, nil))
	emit(t, bus, 1, transport.KindArtifact, workflow.Artifact{ID: "a"})
	emit(t, bus, 1, transport.KindArtifact, workflow.Artifact{ID: "b"})

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}
