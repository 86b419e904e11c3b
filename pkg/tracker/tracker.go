// Package tracker keeps the consumer-side view of an execution.
//
// A Tracker subscribes to an EventSource and folds its streams into a node state
// map, the list of artifacts seen so far and the final result.
package tracker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/claudio-flowstack/flowstack/pkg/workflow"
)

// State is a point-in-time copy of the tracked execution.
type State struct {
	NodeStates map[workflow.NodeID]workflow.NodeStatus
	Artifacts  []workflow.Artifact
	Running    bool
	Complete   bool
	Result     *workflow.ExecutionResult
}

// Tracker folds the events of one EventSource into State.
type Tracker struct {
	source workflow.EventSource
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	waiters []chan workflow.ExecutionResult
	change  func(State)
	unsubs  []workflow.Unsubscribe
	closed  bool
}

// New attaches a tracker to source. A nil logger disables logging.
func New(source workflow.EventSource, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		source: source,
		logger: logger.With(zap.String("component", "tracker")),
		state:  State{NodeStates: map[workflow.NodeID]workflow.NodeStatus{}},
	}
	t.unsubs = []workflow.Unsubscribe{
		source.OnNodeStatus(t.handleStatus),
		source.OnArtifact(t.handleArtifact),
		source.OnComplete(t.handleComplete),
	}
	return t
}

// OnChange sets a hook called with a fresh snapshot after every state change.
// The hook runs on the event source's delivery goroutine.
func (t *Tracker) OnChange(fn func(State)) {
	t.mu.Lock()
	t.change = fn
	t.mu.Unlock()
}

// Execute resets the state, marks it running and starts the execution.
func (t *Tracker) Execute(systemID string, nodeIDs []workflow.NodeID, connections []workflow.Connection, opts ...workflow.ExecuteOption) error {
	t.update(func(s *State) {
		*s = State{NodeStates: map[workflow.NodeID]workflow.NodeStatus{}, Running: true}
	})
	if err := t.source.Execute(systemID, nodeIDs, connections, opts...); err != nil {
		t.update(func(s *State) { s.Running = false })
		return err
	}
	return nil
}

// Reset clears the state without touching the source.
func (t *Tracker) Reset() {
	t.update(func(s *State) {
		*s = State{NodeStates: map[workflow.NodeID]workflow.NodeStatus{}}
	})
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Wait returns the result of the tracked execution, blocking until it arrives
// or ctx is done.
func (t *Tracker) Wait(ctx context.Context) (workflow.ExecutionResult, error) {
	ch := make(chan workflow.ExecutionResult, 1)
	t.mu.Lock()
	if t.state.Complete && t.state.Result != nil {
		res := *t.state.Result
		t.mu.Unlock()
		return res, nil
	}
	t.waiters = append(t.waiters, ch)
	t.mu.Unlock()

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		t.mu.Lock()
		for i, w := range t.waiters {
			if w == ch {
				t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
				break
			}
		}
		t.mu.Unlock()
		return workflow.ExecutionResult{}, ctx.Err()
	}
}

// Close unsubscribes from the source and disposes it.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	unsubs := t.unsubs
	t.unsubs = nil
	t.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	t.source.Dispose()
}

func (t *Tracker) handleStatus(e workflow.NodeStatusEvent) {
	t.update(func(s *State) { s.NodeStates[e.NodeID] = e.Status })
}

func (t *Tracker) handleArtifact(a workflow.Artifact) {
	t.update(func(s *State) { s.Artifacts = append(s.Artifacts, a) })
}

func (t *Tracker) handleComplete(r workflow.ExecutionResult) {
	t.logger.Debug("Execution result received",
		zap.String("execution_id", r.ExecutionID),
		zap.String("status", string(r.Status)))

	var waiters []chan workflow.ExecutionResult
	t.update(func(s *State) {
		res := r
		s.Result = &res
		s.Running = false
		s.Complete = true
		waiters = t.waiters
		t.waiters = nil
	})
	for _, w := range waiters {
		w <- r
	}
}

func (t *Tracker) update(fn func(*State)) {
	t.mu.Lock()
	fn(&t.state)
	change := t.change
	snap := t.snapshotLocked()
	t.mu.Unlock()

	if change != nil {
		change(snap)
	}
}

func (t *Tracker) snapshotLocked() State {
	out := State{
		NodeStates: make(map[workflow.NodeID]workflow.NodeStatus, len(t.state.NodeStates)),
		Artifacts:  append([]workflow.Artifact(nil), t.state.Artifacts...),
		Running:    t.state.Running,
		Complete:   t.state.Complete,
	}
	for id, st := range t.state.NodeStates {
		out.NodeStates[id] = st
	}
	if t.state.Result != nil {
		res := *t.state.Result
		out.Result = &res
	}
	return out
}
