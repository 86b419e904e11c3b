// Package simulator provides a timer-driven workflow EventSource.
//
// The simulator walks the workflow graph in breadth-first order and plays a fixed
// timeline for every node (pending, running, completed), optionally emitting a
// synthetic artifact on completion, and finishes with one execution result. It
// never fails a node. It exists to drive demos and tests of consumers that will
// later talk to a real backend through the same workflow.EventSource contract.
package simulator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/claudio-flowstack/flowstack/internal/broadcast"
	"github.com/claudio-flowstack/flowstack/pkg/clock"
	sdkerrors "github.com/claudio-flowstack/flowstack/pkg/errors"
	"github.com/claudio-flowstack/flowstack/pkg/schedule"
	"github.com/claudio-flowstack/flowstack/pkg/workflow"
)

// Simulator is a workflow.EventSource that replays a fixed timeline.
//
// Timer callbacks of one Simulator run one at a time and subscribers are invoked
// synchronously from them. Only one timer is armed at a time: each step of the
// timeline arms the next once its callbacks returned, so callbacks due at the
// same offset run in the order they were scheduled. All methods may be called
// from inside a subscriber.
type Simulator struct {
	cfg    *Config
	logger *zap.Logger
	clock  clock.Clock
	tracer trace.Tracer

	statuses  broadcast.Hub[workflow.NodeStatusEvent]
	artifacts broadcast.Hub[workflow.Artifact]
	completes broadcast.Hub[workflow.ExecutionResult]

	// fireMu serializes timer callbacks.
	fireMu sync.Mutex

	mu       sync.Mutex
	run      *execution
	timer    clock.Timer
	disposed bool
}

// step is every callback due at one offset from the start of an execution.
type step struct {
	at  time.Duration
	fns []func()
}

// execution is the state of one Execute call. nodeStates and collected are only
// touched from timer callbacks, which fireMu serializes.
type execution struct {
	id         string
	systemID   string
	start      time.Time
	startedAt  string
	nodeStates map[workflow.NodeID]workflow.NodeStatus
	collected  []workflow.Artifact
	span       trace.Span
	endOnce    sync.Once
}

var _ workflow.EventSource = (*Simulator)(nil)

// New creates a Simulator. A nil config uses DefaultConfig.
func New(cfg *Config) *Simulator {
	cfg = cfg.withDefaults()
	return &Simulator{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("component", "simulator")),
		clock:  cfg.Clock,
		tracer: cfg.Tracer,
	}
}

// Execute cancels any execution in flight and schedules a new one. An empty
// systemID schedules no nodes; the result still follows after CompletionGrace.
func (s *Simulator) Execute(systemID string, nodeIDs []workflow.NodeID, connections []workflow.Connection, opts ...workflow.ExecuteOption) error {
	o := workflow.ApplyExecuteOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return sdkerrors.NewError(sdkerrors.CodeDisposed, "execute called on a disposed simulator", sdkerrors.ErrDisposed)
	}
	s.cancelLocked("superseded")

	var items []schedule.Item
	if systemID != "" {
		items = schedule.Compute(nodeIDs, connections, o.NodeTypes)
	}

	now := s.clock.Now()
	run := &execution{
		id:         "exec-" + s.cfg.NewID(),
		systemID:   systemID,
		start:      now,
		startedAt:  workflow.FormatTime(now),
		nodeStates: make(map[workflow.NodeID]workflow.NodeStatus, len(items)),
	}
	_, run.span = s.tracer.Start(context.Background(), "simulator.execute",
		trace.WithTimestamp(now),
		trace.WithAttributes(
			attribute.String("system.id", systemID),
			attribute.String("execution.id", run.id),
			attribute.Int("nodes", len(items)),
			attribute.Int("connections", len(connections)),
			attribute.Int("max_depth", schedule.MaxDepth(items)),
		))
	s.run = run

	var tl timeline
	var last time.Duration
	for _, item := range items {
		item := item
		base := time.Duration(item.Depth) * LayerDelay

		tl.add(base, func() {
			s.transition(run, item, workflow.NodeStatusPending, MessagePending)
		})
		tl.add(base+RunningOffset, func() {
			s.transition(run, item, workflow.NodeStatusRunning, MessageRunning)
		})
		tl.add(base+CompletedOffset, func() {
			s.transition(run, item, workflow.NodeStatusCompleted, MessageCompleted)
			s.emitArtifact(run, item)
		})

		if end := base + CompletedOffset; end > last {
			last = end
		}
	}
	tl.add(last+CompletionGrace, func() {
		s.complete(run)
	})
	s.armLocked(run, tl.steps(), 0)

	s.logger.Info("Execution scheduled",
		zap.String("system_id", systemID),
		zap.String("execution_id", run.id),
		zap.Int("nodes", len(items)),
		zap.Int("connections", len(connections)),
		zap.Duration("duration", last+CompletionGrace))

	return nil
}

// OnNodeStatus registers cb for node status events.
func (s *Simulator) OnNodeStatus(cb func(workflow.NodeStatusEvent)) workflow.Unsubscribe {
	return s.statuses.Subscribe(cb)
}

// OnArtifact registers cb for artifacts.
func (s *Simulator) OnArtifact(cb func(workflow.Artifact)) workflow.Unsubscribe {
	return s.artifacts.Subscribe(cb)
}

// OnComplete registers cb for execution results.
func (s *Simulator) OnComplete(cb func(workflow.ExecutionResult)) workflow.Unsubscribe {
	return s.completes.Subscribe(cb)
}

// Dispose cancels all pending timers and drops every subscriber. Once Dispose
// returns no subscriber invocation starts; Execute afterwards returns ErrDisposed.
func (s *Simulator) Dispose() {
	s.mu.Lock()
	s.cancelLocked("disposed")
	s.disposed = true
	s.mu.Unlock()

	s.statuses.Clear()
	s.artifacts.Clear()
	s.completes.Clear()

	s.logger.Debug("Simulator disposed")
}

// timeline groups callbacks by offset, keeping insertion order within an offset.
type timeline struct {
	byOffset map[time.Duration]*step
}

func (tl *timeline) add(at time.Duration, fn func()) {
	if tl.byOffset == nil {
		tl.byOffset = make(map[time.Duration]*step)
	}
	st, ok := tl.byOffset[at]
	if !ok {
		st = &step{at: at}
		tl.byOffset[at] = st
	}
	st.fns = append(st.fns, fn)
}

// steps returns the steps ordered by offset.
func (tl *timeline) steps() []step {
	out := make([]step, 0, len(tl.byOffset))
	for _, st := range tl.byOffset {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].at < out[j].at })
	return out
}

// armLocked schedules steps[i] relative to the start of run, so a late step
// does not shift the ones after it.
func (s *Simulator) armLocked(run *execution, steps []step, i int) {
	d := run.start.Add(steps[i].at).Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	s.timer = s.clock.AfterFunc(d, func() { s.fire(run, steps, i) })
}

func (s *Simulator) cancelLocked(reason string) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if s.run != nil {
		s.logger.Debug("Execution cancelled",
			zap.String("execution_id", s.run.id),
			zap.String("reason", reason))
		s.run.end(codes.Error, reason)
		s.run = nil
	}
}

// fire runs the callbacks of steps[i] and arms the next step. It stops as soon
// as run was superseded or the simulator was disposed; a timer may already be
// running when Stop is called, so the check happens here as well.
func (s *Simulator) fire(run *execution, steps []step, i int) {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	for _, fn := range steps[i].fns {
		if !s.current(run) {
			return
		}
		fn()
	}
	if i+1 == len(steps) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.disposed && s.run == run {
		s.armLocked(run, steps, i+1)
	}
}

func (s *Simulator) current(run *execution) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disposed && s.run == run
}

func (s *Simulator) proceed(run *execution) func() bool {
	return func() bool { return s.current(run) }
}

func (s *Simulator) transition(run *execution, item schedule.Item, status workflow.NodeStatus, msg string) {
	run.nodeStates[item.NodeID] = status

	event := workflow.NodeStatusEvent{
		NodeID:    item.NodeID,
		Status:    status,
		Timestamp: s.clock.Now().UnixMilli(),
		Message:   msg,
	}
	s.logger.Debug("Node status",
		zap.String("execution_id", run.id),
		zap.String("node_id", string(item.NodeID)),
		zap.String("status", string(status)),
		zap.Int("depth", item.Depth))

	s.statuses.Publish(event, s.proceed(run))
}

func (s *Simulator) emitArtifact(run *execution, item schedule.Item) {
	if !s.current(run) {
		return
	}
	pool := s.cfg.Templates.pool(item.NodeType)
	if len(pool) == 0 {
		return
	}
	tpl := pool[s.cfg.Rand.Intn(len(pool))]

	artifact := workflow.Artifact{
		ID:             "artifact-" + s.cfg.NewID(),
		NodeID:         item.NodeID,
		Type:           tpl.Type,
		Label:          tpl.Label,
		URL:            tpl.URL,
		ContentPreview: tpl.Preview,
		CreatedAt:      workflow.FormatTime(s.clock.Now()),
	}
	if s.cfg.CollectArtifacts {
		run.collected = append(run.collected, artifact)
	}
	run.span.AddEvent("artifact", trace.WithAttributes(
		attribute.String("node.id", string(item.NodeID)),
		attribute.String("artifact.type", string(tpl.Type))))

	s.artifacts.Publish(artifact, s.proceed(run))
}

func (s *Simulator) complete(run *execution) {
	states := make(map[workflow.NodeID]workflow.NodeStatus, len(run.nodeStates))
	for id, st := range run.nodeStates {
		states[id] = st
	}
	artifacts := make([]workflow.Artifact, len(run.collected))
	copy(artifacts, run.collected)

	result := workflow.ExecutionResult{
		ExecutionID: run.id,
		SystemID:    run.systemID,
		StartedAt:   run.startedAt,
		CompletedAt: workflow.FormatTime(s.clock.Now()),
		Status:      workflow.ExecutionStatusCompleted,
		NodeStates:  states,
		Artifacts:   artifacts,
	}

	s.logger.Info("Execution completed",
		zap.String("system_id", run.systemID),
		zap.String("execution_id", run.id),
		zap.Int("nodes", len(states)),
		zap.Int("artifacts", len(artifacts)))

	s.completes.Publish(result, s.proceed(run))

	s.mu.Lock()
	if s.run == run {
		s.run = nil
		s.timer = nil
	}
	s.mu.Unlock()
	run.end(codes.Ok, "completed")
}

func (e *execution) end(code codes.Code, description string) {
	e.endOnce.Do(func() {
		e.span.SetAttributes(attribute.String("execution.outcome", description))
		e.span.SetStatus(code, description)
		e.span.End()
	})
}
