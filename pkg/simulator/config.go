package simulator

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/claudio-flowstack/flowstack/pkg/clock"
)

// Timeline offsets. A node at depth d is pending at d*LayerDelay, running
// RunningOffset later and completed CompletedOffset after pending. The execution
// result follows CompletionGrace after the last node completes.
const (
	LayerDelay      = 2000 * time.Millisecond
	RunningOffset   = 600 * time.Millisecond
	CompletedOffset = 2000 * time.Millisecond
	CompletionGrace = 500 * time.Millisecond
)

// Status messages attached to node status events.
const (
	MessagePending   = "waiting for predecessor"
	MessageRunning   = "executing"
	MessageCompleted = "done"
)

// Rand picks template indexes. *rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}

// Config holds configuration for a Simulator
type Config struct {
	Logger    *zap.Logger  // Logger instance (optional, no-op if nil)
	Clock     clock.Clock  // Time source (optional, real clock if nil)
	Rand      Rand         // Template picker (optional, time-seeded if nil)
	Templates Templates    // Artifact pools (optional, DefaultTemplates if nil)
	Tracer    trace.Tracer // Tracer (optional, global provider if nil)
	NewID     func() string

	// CollectArtifacts makes the execution result carry the artifacts emitted
	// during the run. By default the result's artifact list is empty and
	// artifacts are only delivered through OnArtifact.
	CollectArtifacts bool
}

// DefaultConfig returns a configuration using the real clock and built-in templates
func DefaultConfig() *Config {
	return &Config{
		Logger:    zap.NewNop(),
		Clock:     clock.Real(),
		Rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		Templates: DefaultTemplates(),
		Tracer:    otel.Tracer("flowstack/simulator"),
		NewID:     uuid.NewString,
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Logger == nil {
		out.Logger = d.Logger
	}
	if out.Clock == nil {
		out.Clock = d.Clock
	}
	if out.Rand == nil {
		out.Rand = d.Rand
	}
	if out.Templates == nil {
		out.Templates = d.Templates
	}
	if out.Tracer == nil {
		out.Tracer = d.Tracer
	}
	if out.NewID == nil {
		out.NewID = d.NewID
	}
	return &out
}
