// Package archive persists finished executions to blob storage.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/claudio-flowstack/flowstack/pkg/concurrency"
	"github.com/claudio-flowstack/flowstack/pkg/workflow"
)

// Record is the archived form of one execution.
type Record struct {
	ExecutionID string                   `json:"executionId"`
	SystemID    string                   `json:"systemId"`
	Result      workflow.ExecutionResult `json:"result"`
	Artifacts   []workflow.Artifact      `json:"artifacts"`
	ArchivedAt  string                   `json:"archivedAt"`
}

// RecordPath returns the blob path of an execution record.
func RecordPath(systemID, executionID string) string {
	if systemID == "" {
		systemID = "_"
	}
	return fmt.Sprintf("executions/%s/%s.json", systemID, executionID)
}

// Default upload guard of an Archiver.
const (
	DefaultMaxUploads       = 4
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
)

// Archiver writes and reads execution records.
type Archiver struct {
	blobs   BlobStorageClient
	logger  *zap.Logger
	limiter *concurrency.Limiter
	now     func() time.Time
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithLimiter replaces the default upload limiter.
func WithLimiter(l *concurrency.Limiter) Option {
	return func(a *Archiver) { a.limiter = l }
}

// NewArchiver creates an Archiver on top of blobs. Uploads are limited to
// DefaultMaxUploads at once and stop for DefaultResetTimeout after
// DefaultFailureThreshold consecutive failures.
func NewArchiver(blobs BlobStorageClient, logger *zap.Logger, opts ...Option) (*Archiver, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob storage client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Archiver{blobs: blobs, logger: logger.With(zap.String("component", "archiver")), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	if a.limiter == nil {
		breaker := concurrency.NewCircuitBreaker(DefaultFailureThreshold, DefaultResetTimeout, nil)
		a.limiter = concurrency.NewLimiter(DefaultMaxUploads, breaker)
	}
	if breaker := a.limiter.Breaker(); breaker != nil {
		breaker.OnStateChange(func(from, to concurrency.BreakerState) {
			a.logger.Warn("Blob storage circuit breaker changed state",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		})
	}
	return a, nil
}

// Store uploads rec and returns the blob URL.
func (a *Archiver) Store(ctx context.Context, rec Record) (string, error) {
	if rec.ExecutionID == "" {
		return "", fmt.Errorf("execution id is required")
	}
	if rec.ArchivedAt == "" {
		rec.ArchivedAt = workflow.FormatTime(a.now())
	}
	if rec.Artifacts == nil {
		rec.Artifacts = []workflow.Artifact{}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal execution record: %w", err)
	}

	path := RecordPath(rec.SystemID, rec.ExecutionID)
	metadata := map[string]string{
		"execution_id": rec.ExecutionID,
		"system_id":    rec.SystemID,
		"status":       string(rec.Result.Status),
		"node_count":   strconv.Itoa(len(rec.Result.NodeStates)),
		"artifacts":    strconv.Itoa(len(rec.Artifacts)),
	}
	var url string
	err = a.limiter.Do(ctx, func(ctx context.Context) error {
		var uerr error
		url, uerr = a.blobs.Upload(ctx, path, data, metadata)
		return uerr
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload execution record: %w", err)
	}

	a.logger.Info("Execution archived",
		zap.String("execution_id", rec.ExecutionID),
		zap.String("system_id", rec.SystemID),
		zap.String("blob_path", path),
		zap.Int("size_bytes", len(data)))
	return url, nil
}

// Load fetches the record of one execution.
func (a *Archiver) Load(ctx context.Context, systemID, executionID string) (Record, error) {
	data, err := a.blobs.Download(ctx, RecordPath(systemID, executionID))
	if err != nil {
		return Record{}, fmt.Errorf("failed to download execution record: %w", err)
	}
	rec, err := workflow.FromBytes[Record](data)
	if err != nil {
		return Record{}, fmt.Errorf("failed to parse execution record: %w", err)
	}
	return rec, nil
}

// Recorder archives every execution result of an EventSource together with the
// artifacts delivered since the previous result.
type Recorder struct {
	archiver *Archiver
	logger   *zap.Logger
	timeout  time.Duration
	unsubs   []workflow.Unsubscribe
	wg       sync.WaitGroup

	mu        sync.Mutex
	artifacts []workflow.Artifact
	urls      []string
	closed    bool
}

// NewRecorder subscribes to source. Uploads run in the background; Close waits
// for them.
func NewRecorder(archiver *Archiver, source workflow.EventSource, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := &Recorder{archiver: archiver, logger: archiver.logger, timeout: timeout}
	r.unsubs = []workflow.Unsubscribe{
		source.OnArtifact(r.handleArtifact),
		source.OnComplete(r.handleComplete),
	}
	return r
}

// URLs returns the blob URLs written so far.
func (r *Recorder) URLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.urls...)
}

// Close unsubscribes and waits for pending uploads.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	for _, u := range r.unsubs {
		u()
	}
	r.wg.Wait()
}

func (r *Recorder) handleArtifact(a workflow.Artifact) {
	r.mu.Lock()
	r.artifacts = append(r.artifacts, a)
	r.mu.Unlock()
}

func (r *Recorder) handleComplete(res workflow.ExecutionResult) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	rec := Record{
		ExecutionID: res.ExecutionID,
		SystemID:    res.SystemID,
		Result:      res,
		Artifacts:   r.artifacts,
	}
	r.artifacts = nil
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		url, err := r.archiver.Store(ctx, rec)
		if err != nil {
			r.logger.Error("Failed to archive execution",
				zap.String("execution_id", rec.ExecutionID),
				zap.Error(err))
			return
		}
		r.mu.Lock()
		r.urls = append(r.urls, url)
		r.mu.Unlock()
	}()
}
