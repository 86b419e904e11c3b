// Package relay serves simulated executions to remote event sources over NATS.
//
// The relay listens for execute and dispose requests, runs one simulator per
// source and republishes its events on the source's event subjects.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/claudio-flowstack/flowstack/pkg/archive"
	sdkerrors "github.com/claudio-flowstack/flowstack/pkg/errors"
	"github.com/claudio-flowstack/flowstack/pkg/simulator"
	"github.com/claudio-flowstack/flowstack/pkg/transport"
	"github.com/claudio-flowstack/flowstack/pkg/workflow"
)

// Config holds configuration for a Relay
type Config struct {
	Conn          transport.Conn        // Bus connection (required)
	SubjectPrefix string                // Subject prefix (optional, transport.DefaultPrefix if empty)
	Retry         transport.RetryPolicy // Retry policy for event publishing

	// RequestRate limits execute requests per second across all sources. Zero
	// means unlimited. RequestBurst defaults to 1 when a rate is set.
	RequestRate  float64
	RequestBurst int

	// MaxSessions caps the number of sources served at once. Zero means unlimited.
	MaxSessions int

	// Simulator returns the configuration for each new simulator (optional).
	Simulator func() *simulator.Config

	Archiver *archive.Archiver // Archives every completed execution (optional)
	Logger   *zap.Logger       // Logger instance (optional, no-op if nil)
	Tracer   trace.Tracer      // Tracer (optional, global provider if nil)
}

// Relay turns execute requests into simulator runs.
type Relay struct {
	conn     transport.Conn
	subjects transport.Subjects
	cfg      Config
	limiter  *rate.Limiter
	logger   *zap.Logger
	tracer   trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	drains sync.WaitGroup

	mu       sync.Mutex
	subs     []transport.Subscription
	sessions map[string]*session
	closed   bool
}

// session is the live simulator of one source. A new simulator is created for
// every run so that events of a superseded run can never carry the new run number.
type session struct {
	sourceID string
	run      uint64
	sim      *simulator.Simulator
	recorder *archive.Recorder
	out      *outbox

	// done is set once the run delivered its result. Guarded by Relay.mu.
	done bool
}

// New validates cfg and creates a Relay. Call Start to begin serving.
func New(cfg Config) (*Relay, error) {
	if cfg.Conn == nil {
		return nil, sdkerrors.NewError(sdkerrors.CodeConnectionFailed, "connection is required", sdkerrors.ErrNotConnected)
	}
	if cfg.RequestRate < 0 {
		return nil, fmt.Errorf("%w: request rate must not be negative", sdkerrors.ErrInvalidConfig)
	}
	if cfg.MaxSessions < 0 {
		return nil, fmt.Errorf("%w: max sessions must not be negative", sdkerrors.ErrInvalidConfig)
	}

	limit := rate.Inf
	burst := cfg.RequestBurst
	if cfg.RequestRate > 0 {
		limit = rate.Limit(cfg.RequestRate)
		if burst <= 0 {
			burst = 1
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("flowstack/relay")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		conn:     cfg.Conn,
		subjects: transport.NewSubjects(cfg.SubjectPrefix),
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger.With(zap.String("component", "relay")),
		tracer:   tracer,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}, nil
}

// Start subscribes to the request subjects.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return sdkerrors.NewError(sdkerrors.CodeDisposed, "relay is closed", sdkerrors.ErrDisposed)
	}
	if !r.conn.IsConnected() {
		return sdkerrors.NewError(sdkerrors.CodeConnectionFailed, "connection is not established", sdkerrors.ErrNotConnected)
	}

	for subject, handler := range map[string]transport.Handler{
		r.subjects.Execute(): r.handleExecute,
		r.subjects.Dispose(): r.handleDispose,
	} {
		sub, err := r.conn.Subscribe(subject, handler)
		if err != nil {
			r.unsubscribeLocked()
			return sdkerrors.NewError(sdkerrors.CodeSubscriptionFailed, "failed to subscribe to "+subject,
				fmt.Errorf("%w: %v", sdkerrors.ErrSubscriptionFailed, err))
		}
		r.subs = append(r.subs, sub)
	}

	r.logger.Info("Relay started",
		zap.String("execute_subject", r.subjects.Execute()),
		zap.String("dispose_subject", r.subjects.Dispose()))
	return nil
}

// Sessions returns the number of sources currently known to the relay, including
// finished ones that have not been evicted yet.
func (r *Relay) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops serving and tears down every session.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.unsubscribeLocked()
	sessions := r.sessions
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	r.cancel()
	for _, s := range sessions {
		s.close()
	}
	r.drains.Wait()
	r.logger.Info("Relay closed", zap.Int("sessions", len(sessions)))
}

func (r *Relay) unsubscribeLocked() {
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Warn("Failed to unsubscribe", zap.Error(err))
		}
	}
	r.subs = nil
}

func (r *Relay) handleExecute(subject string, data []byte) {
	var req transport.ExecuteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		r.logger.Warn("Dropping undecodable execute request", zap.String("subject", subject), zap.Error(err))
		return
	}
	if !transport.ValidToken(req.SourceID) {
		r.logger.Warn("Dropping execute request with invalid source id", zap.String("source_id", req.SourceID))
		return
	}

	_, span := r.tracer.Start(r.ctx, "relay.execute", trace.WithAttributes(
		attribute.String("source.id", req.SourceID),
		attribute.String("system.id", req.SystemID),
		attribute.Int64("run", int64(req.Run)),
		attribute.Int("nodes", len(req.NodeIDs)),
	))
	defer span.End()

	if err := r.execute(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("Execute request rejected",
			zap.String("source_id", req.SourceID),
			zap.Uint64("run", req.Run),
			zap.Error(err))
		r.reject(req)
		return
	}
	span.SetStatus(codes.Ok, "")
}

func (r *Relay) execute(req transport.ExecuteRequest) error {
	if !r.limiter.Allow() {
		return sdkerrors.NewError(sdkerrors.CodeRateLimited, "request rate exceeded", nil)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return sdkerrors.NewError(sdkerrors.CodeDisposed, "relay is closed", sdkerrors.ErrDisposed)
	}
	prev := r.sessions[req.SourceID]
	var evicted []*session
	if prev == nil && r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		evicted = r.evictFinishedLocked()
	}
	if prev == nil && r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		closeAll(evicted)
		return sdkerrors.NewError(sdkerrors.CodeSessionLimit,
			fmt.Sprintf("session limit of %d reached", r.cfg.MaxSessions), nil)
	}
	if prev != nil && req.Run <= prev.run {
		r.mu.Unlock()
		r.logger.Debug("Ignoring outdated execute request",
			zap.String("source_id", req.SourceID),
			zap.Uint64("run", req.Run),
			zap.Uint64("current_run", prev.run))
		return nil
	}
	s := r.newSession(req.SourceID, req.Run)
	r.sessions[req.SourceID] = s
	r.mu.Unlock()

	closeAll(evicted)
	if prev != nil {
		prev.close()
	}

	var opts []workflow.ExecuteOption
	if len(req.NodeTypes) > 0 {
		opts = append(opts, workflow.WithNodeTypes(req.NodeTypes))
	}
	return s.sim.Execute(req.SystemID, req.NodeIDs, req.Connections, opts...)
}

func (r *Relay) newSession(sourceID string, run uint64) *session {
	var simCfg *simulator.Config
	if r.cfg.Simulator != nil {
		simCfg = r.cfg.Simulator()
	}
	if simCfg == nil {
		simCfg = &simulator.Config{}
	}
	if simCfg.Logger == nil {
		simCfg.Logger = r.logger.With(zap.String("source_id", sourceID))
	}

	s := &session{
		sourceID: sourceID,
		run:      run,
		sim:      simulator.New(simCfg),
		out: &outbox{
			ctx:    r.ctx,
			conn:   r.conn,
			policy: r.cfg.Retry,
			logger: r.logger.With(zap.String("source_id", sourceID)),
			wg:     &r.drains,
		},
	}

	s.sim.OnNodeStatus(func(e workflow.NodeStatusEvent) {
		r.forward(s, transport.KindStatus, e)
	})
	s.sim.OnArtifact(func(a workflow.Artifact) {
		r.forward(s, transport.KindArtifact, a)
	})
	s.sim.OnComplete(func(res workflow.ExecutionResult) {
		r.forward(s, transport.KindComplete, res)
		r.finish(s)
	})
	if r.cfg.Archiver != nil {
		s.recorder = archive.NewRecorder(r.cfg.Archiver, s.sim, 0)
	}
	return s
}

// forward runs on the simulator's timer path and never waits for a retry.
func (r *Relay) forward(s *session, kind string, v any) {
	subject := r.subjects.Event(s.sourceID, s.run, kind)
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("Failed to encode event", zap.String("subject", subject), zap.Error(err))
		return
	}
	s.out.send(subject, data)
}

// finish marks s as done so that it no longer counts against MaxSessions.
func (r *Relay) finish(s *session) {
	r.mu.Lock()
	if r.sessions[s.sourceID] == s {
		s.done = true
	}
	r.mu.Unlock()
}

// evictFinishedLocked removes sessions whose run completed. Sources that went
// away without a dispose request would otherwise hold their slot forever.
func (r *Relay) evictFinishedLocked() []*session {
	var out []*session
	for id, s := range r.sessions {
		if s.done {
			delete(r.sessions, id)
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		r.logger.Debug("Evicted finished sessions", zap.Int("sessions", len(out)))
	}
	return out
}

func closeAll(sessions []*session) {
	for _, s := range sessions {
		s.close()
	}
}

// reject answers a refused execute request with a failed result.
func (r *Relay) reject(req transport.ExecuteRequest) {
	now := workflow.FormatTime(time.Now())
	subject := r.subjects.Event(req.SourceID, req.Run, transport.KindComplete)
	err := transport.PublishJSON(r.ctx, r.conn, subject, workflow.ExecutionResult{
		SystemID:    req.SystemID,
		StartedAt:   now,
		CompletedAt: now,
		Status:      workflow.ExecutionStatusFailed,
	}, r.cfg.Retry, r.logger)
	if err != nil {
		r.logger.Error("Failed to send rejection",
			zap.String("source_id", req.SourceID),
			zap.String("subject", subject),
			zap.Error(err))
	}
}

func (r *Relay) handleDispose(subject string, data []byte) {
	var req transport.DisposeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		r.logger.Warn("Dropping undecodable dispose request", zap.String("subject", subject), zap.Error(err))
		return
	}

	_, span := r.tracer.Start(r.ctx, "relay.dispose", trace.WithAttributes(
		attribute.String("source.id", req.SourceID)))
	defer span.End()

	r.mu.Lock()
	s := r.sessions[req.SourceID]
	delete(r.sessions, req.SourceID)
	r.mu.Unlock()

	if s == nil {
		return
	}
	s.close()
	r.logger.Debug("Session disposed", zap.String("source_id", req.SourceID))
}

func (s *session) close() {
	s.sim.Dispose()
	if s.recorder != nil {
		s.recorder.Close()
	}
}
