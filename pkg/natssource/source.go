// Package natssource implements workflow.EventSource on top of NATS.
//
// Execute publishes an ExecuteRequest for the backend relay and events come back
// on subjects scoped to this source. Each Execute starts a new run number; events
// of earlier runs that are still in flight are dropped, so re-execution behaves
// like the local simulator.
package natssource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/claudio-flowstack/flowstack/internal/broadcast"
	sdkerrors "github.com/claudio-flowstack/flowstack/pkg/errors"
	"github.com/claudio-flowstack/flowstack/pkg/transport"
	"github.com/claudio-flowstack/flowstack/pkg/workflow"
)

// Config holds configuration for a Source
type Config struct {
	Conn          transport.Conn        // Bus connection (required)
	SubjectPrefix string                // Subject prefix (optional, transport.DefaultPrefix if empty)
	SourceID      string                // Source id (optional, random uuid if empty)
	Retry         transport.RetryPolicy // Publish retry policy
	Logger        *zap.Logger           // Logger instance (optional, no-op if nil)
}

// Source is a remote workflow.EventSource.
type Source struct {
	conn     transport.Conn
	subjects transport.Subjects
	id       string
	retry    transport.RetryPolicy
	logger   *zap.Logger

	statuses  broadcast.Hub[workflow.NodeStatusEvent]
	artifacts broadcast.Hub[workflow.Artifact]
	completes broadcast.Hub[workflow.ExecutionResult]

	mu       sync.Mutex
	sub      transport.Subscription
	run      uint64
	active   bool
	disposed bool
}

var _ workflow.EventSource = (*Source)(nil)

// New creates a Source and subscribes to its event subjects.
func New(cfg Config) (*Source, error) {
	if cfg.Conn == nil {
		return nil, sdkerrors.NewError(sdkerrors.CodeConnectionFailed, "connection is required", sdkerrors.ErrNotConnected)
	}
	if !cfg.Conn.IsConnected() {
		return nil, sdkerrors.NewError(sdkerrors.CodeConnectionFailed, "connection is not established", sdkerrors.ErrNotConnected)
	}
	id := cfg.SourceID
	if id == "" {
		id = uuid.NewString()
	}
	if !transport.ValidToken(id) {
		return nil, sdkerrors.NewError(sdkerrors.CodeSubscriptionFailed, "source id is not a valid subject token: "+id, sdkerrors.ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Source{
		conn:     cfg.Conn,
		subjects: transport.NewSubjects(cfg.SubjectPrefix),
		id:       id,
		retry:    cfg.Retry,
		logger:   logger.With(zap.String("component", "natssource"), zap.String("source_id", id)),
	}

	sub, err := cfg.Conn.Subscribe(s.subjects.Events(id), s.handle)
	if err != nil {
		return nil, sdkerrors.NewError(sdkerrors.CodeSubscriptionFailed, "failed to subscribe to events",
			fmt.Errorf("%w: %v", sdkerrors.ErrSubscriptionFailed, err))
	}
	s.sub = sub
	return s, nil
}

// ID returns the source id used in subjects.
func (s *Source) ID() string {
	return s.id
}

// Execute publishes an execute request. Events of any earlier run are dropped
// from now on.
func (s *Source) Execute(systemID string, nodeIDs []workflow.NodeID, connections []workflow.Connection, opts ...workflow.ExecuteOption) error {
	o := workflow.ApplyExecuteOptions(opts...)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return sdkerrors.NewError(sdkerrors.CodeDisposed, "execute called on a disposed source", sdkerrors.ErrDisposed)
	}
	s.run++
	run := s.run
	s.active = true
	s.mu.Unlock()

	req := transport.ExecuteRequest{
		SourceID:    s.id,
		Run:         run,
		SystemID:    systemID,
		NodeIDs:     nodeIDs,
		Connections: connections,
		NodeTypes:   o.NodeTypes,
	}
	if err := transport.PublishJSON(context.Background(), s.conn, s.subjects.Execute(), req, s.retry, s.logger); err != nil {
		s.mu.Lock()
		if s.run == run {
			s.active = false
		}
		s.mu.Unlock()
		return err
	}

	s.logger.Info("Execute request published",
		zap.String("system_id", systemID),
		zap.Uint64("run", run),
		zap.Int("nodes", len(nodeIDs)),
		zap.Int("connections", len(connections)))
	return nil
}

// OnNodeStatus registers cb for node status events.
func (s *Source) OnNodeStatus(cb func(workflow.NodeStatusEvent)) workflow.Unsubscribe {
	return s.statuses.Subscribe(cb)
}

// OnArtifact registers cb for artifacts.
func (s *Source) OnArtifact(cb func(workflow.Artifact)) workflow.Unsubscribe {
	return s.artifacts.Subscribe(cb)
}

// OnComplete registers cb for execution results.
func (s *Source) OnComplete(cb func(workflow.ExecutionResult)) workflow.Unsubscribe {
	return s.completes.Subscribe(cb)
}

// Dispose unsubscribes from the bus, tells the backend to drop the session and
// clears all subscribers. It is safe to call more than once.
func (s *Source) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.active = false
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	s.statuses.Clear()
	s.artifacts.Clear()
	s.completes.Clear()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("Failed to unsubscribe", zap.Error(err))
		}
	}
	if s.conn.IsConnected() {
		err := transport.PublishJSON(context.Background(), s.conn, s.subjects.Dispose(),
			transport.DisposeRequest{SourceID: s.id}, transport.RetryPolicy{}, s.logger)
		if err != nil {
			s.logger.Warn("Failed to publish dispose request", zap.Error(err))
		}
	}
	s.logger.Debug("Source disposed")
}

func (s *Source) handle(subject string, data []byte) {
	run, kind, ok := s.subjects.ParseEvent(s.id, subject)
	if !ok {
		s.logger.Warn("Dropping message on unexpected subject", zap.String("subject", subject))
		return
	}
	if !s.current(run) {
		s.logger.Debug("Dropping stale event", zap.String("subject", subject))
		return
	}

	proceed := func() bool { return s.current(run) }

	switch kind {
	case transport.KindStatus:
		var e workflow.NodeStatusEvent
		if !s.decode(subject, data, &e) {
			return
		}
		s.statuses.Publish(e, proceed)
	case transport.KindArtifact:
		var a workflow.Artifact
		if !s.decode(subject, data, &a) {
			return
		}
		s.artifacts.Publish(a, proceed)
	case transport.KindComplete:
		var r workflow.ExecutionResult
		if !s.decode(subject, data, &r) {
			return
		}
		s.mu.Lock()
		if s.run == run {
			s.active = false
		}
		s.mu.Unlock()
		s.completes.Publish(r, func() bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			return !s.disposed && s.run == run
		})
	}
}

func (s *Source) current(run uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disposed && s.active && s.run == run
}

func (s *Source) decode(subject string, data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("Dropping undecodable event",
			zap.String("subject", subject),
			zap.Error(sdkerrors.NewError(sdkerrors.CodeDecodeFailed, "invalid event payload", fmt.Errorf("%w: %v", sdkerrors.ErrInvalidMessage, err))))
		return false
	}
	return true
}
