package archive

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudio-flowstack/flowstack/pkg/clock/clocktest"
	"github.com/claudio-flowstack/flowstack/pkg/concurrency"
	"github.com/claudio-flowstack/flowstack/pkg/simulator"
	"github.com/claudio-flowstack/flowstack/pkg/workflow"
)

type memoryBlobs struct {
	mu       sync.Mutex
	data     map[string][]byte
	metadata map[string]map[string]string
	fail     error
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{data: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (m *memoryBlobs) Upload(_ context.Context, path string, data []byte, metadata map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	m.data[path] = data
	m.metadata[path] = metadata
	return "memory://" + path, nil
}

func (m *memoryBlobs) Download(_ context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[strings.TrimPrefix(ref, "memory://")]
	if !ok {
		return nil, errors.New("not found")
	}
	return d, nil
}

func TestRecordPath(t *testing.T) {
	assert.Equal(t, "executions/demo-1/exec-1.json", RecordPath("demo-1", "exec-1"))
	assert.Equal(t, "executions/_/exec-1.json", RecordPath("", "exec-1"))
}

func TestNewArchiverRequiresClient(t *testing.T) {
	_, err := NewArchiver(nil, nil)
	assert.Error(t, err)
}

func TestStoreAndLoad(t *testing.T) {
	blobs := newMemoryBlobs()
	a, err := NewArchiver(blobs, nil)
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC) }

	rec := Record{
		ExecutionID: "exec-1",
		SystemID:    "demo-1",
		Result: workflow.ExecutionResult{
			ExecutionID: "exec-1",
			SystemID:    "demo-1",
			Status:      workflow.ExecutionStatusCompleted,
			NodeStates:  map[workflow.NodeID]workflow.NodeStatus{"n1": workflow.NodeStatusCompleted},
		},
	}
	url, err := a.Store(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "memory://executions/demo-1/exec-1.json", url)

	meta := blobs.metadata["executions/demo-1/exec-1.json"]
	assert.Equal(t, "completed", meta["status"])
	assert.Equal(t, "1", meta["node_count"])
	assert.Equal(t, "0", meta["artifacts"])

	var raw map[string]any
	require.NoError(t, json.Unmarshal(blobs.data["executions/demo-1/exec-1.json"], &raw))
	assert.Equal(t, []any{}, raw["artifacts"])
	assert.Equal(t, "2025-02-01T12:00:00.000Z", raw["archivedAt"])

	loaded, err := a.Load(context.Background(), "demo-1", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", loaded.Result.ExecutionID)
	assert.Equal(t, workflow.NodeStatusCompleted, loaded.Result.NodeStates["n1"])
}

func TestStoreErrors(t *testing.T) {
	blobs := newMemoryBlobs()
	a, err := NewArchiver(blobs, nil)
	require.NoError(t, err)

	_, err = a.Store(context.Background(), Record{})
	assert.Error(t, err)

	blobs.fail = errors.New("boom")
	_, err = a.Store(context.Background(), Record{ExecutionID: "x"})
	assert.ErrorContains(t, err, "boom")

	_, err = a.Load(context.Background(), "s", "missing")
	assert.Error(t, err)
}

func TestStoreStopsAfterRepeatedFailures(t *testing.T) {
	blobs := newMemoryBlobs()
	clk := clocktest.New(time.Unix(0, 0))
	limiter := concurrency.NewLimiter(1, concurrency.NewCircuitBreaker(2, time.Minute, clk))
	a, err := NewArchiver(blobs, nil, WithLimiter(limiter))
	require.NoError(t, err)

	blobs.fail = errors.New("boom")
	for i := 0; i < 2; i++ {
		_, err = a.Store(context.Background(), Record{ExecutionID: "x"})
		assert.ErrorContains(t, err, "boom")
	}

	blobs.fail = nil
	_, err = a.Store(context.Background(), Record{ExecutionID: "x"})
	assert.ErrorIs(t, err, concurrency.ErrCircuitOpen)
	assert.Empty(t, blobs.data)

	clk.Advance(time.Minute)
	_, err = a.Store(context.Background(), Record{ExecutionID: "x"})
	require.NoError(t, err)
	assert.Equal(t, concurrency.StateClosed, limiter.Breaker().State())
}

func TestRecorderArchivesEachExecution(t *testing.T) {
	blobs := newMemoryBlobs()
	a, err := NewArchiver(blobs, nil)
	require.NoError(t, err)

	clk := clocktest.New(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	sim := simulator.New(&simulator.Config{Clock: clk})
	defer sim.Dispose()

	rec := NewRecorder(a, sim, time.Second)

	nodes := workflow.NodeIDs("A", "B")
	conns := []workflow.Connection{{From: "A", To: "B"}}
	require.NoError(t, sim.Execute("demo", nodes, conns))
	clk.Advance(10 * time.Second)
	rec.Close()

	urls := rec.URLs()
	require.Len(t, urls, 1)

	path := strings.TrimPrefix(urls[0], "memory://")
	assert.True(t, strings.HasPrefix(path, "executions/demo/exec-"))

	var stored Record
	require.NoError(t, json.Unmarshal(blobs.data[path], &stored))
	assert.Len(t, stored.Artifacts, 2)
	assert.Empty(t, stored.Result.Artifacts)
	assert.Equal(t, workflow.ExecutionStatusCompleted, stored.Result.Status)
}

func TestRecorderCloseStopsArchiving(t *testing.T) {
	blobs := newMemoryBlobs()
	a, err := NewArchiver(blobs, nil)
	require.NoError(t, err)

	clk := clocktest.New(time.Unix(0, 0))
	sim := simulator.New(&simulator.Config{Clock: clk})
	defer sim.Dispose()

	rec := NewRecorder(a, sim, 0)
	rec.Close()
	rec.Close()

	require.NoError(t, sim.Execute("demo", workflow.NodeIDs("A"), nil))
	clk.Advance(5 * time.Second)
	assert.Empty(t, blobs.data)
}
