// Package workflow defines the shared vocabulary of workflow execution: node and
// connection identifiers, node status events, artifacts, execution results and the
// EventSource contract implemented by the simulator and by remote backends.
package workflow

import (
	"encoding/json"
	"time"
)

// NodeID is an opaque node key, unique within one execution graph.
type NodeID string

// Connection is a directed edge between two nodes.
type Connection struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
}

// NodeType tags a node with its role in the workflow.
type NodeType string

const (
	NodeTypeTrigger NodeType = "trigger"
	NodeTypeProcess NodeType = "process"
	NodeTypeAI      NodeType = "ai"
	NodeTypeOutput  NodeType = "output"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeTrigger, NodeTypeProcess, NodeTypeAI, NodeTypeOutput:
		return true
	}
	return false
}

// NodeStatus is the execution status of a single node.
type NodeStatus string

const (
	// NodeStatusIdle is implicit and never emitted.
	NodeStatusIdle      NodeStatus = "idle"
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	// NodeStatusFailed is reserved for real backends.
	NodeStatusFailed NodeStatus = "failed"
)

// Terminal reports whether no further transition follows s.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed
}

// NodeStatusEvent records one status transition of one node.
type NodeStatusEvent struct {
	NodeID    NodeID     `json:"nodeId"`
	Status    NodeStatus `json:"status"`
	Timestamp int64      `json:"timestamp"` // unix milliseconds
	Message   string     `json:"message,omitempty"`
	Progress  *int       `json:"progress,omitempty"` // 0-100
}

// Time returns the event timestamp as a time.Time.
func (e NodeStatusEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// ArtifactType classifies an artifact.
type ArtifactType string

const (
	ArtifactTypeFile    ArtifactType = "file"
	ArtifactTypeText    ArtifactType = "text"
	ArtifactTypeURL     ArtifactType = "url"
	ArtifactTypeWebsite ArtifactType = "website"
	ArtifactTypeImage   ArtifactType = "image"
)

// Artifact is an output record produced by one completed node.
type Artifact struct {
	ID             string       `json:"id"`
	NodeID         NodeID       `json:"nodeId"`
	Type           ArtifactType `json:"type"`
	Label          string       `json:"label"`
	URL            string       `json:"url,omitempty"`
	ContentPreview string       `json:"contentPreview,omitempty"`
	CreatedAt      string       `json:"createdAt"` // RFC3339
}

// ExecutionStatus is the aggregate status of one execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ExecutionResult summarizes one execution and is emitted exactly once at its end.
type ExecutionResult struct {
	ExecutionID string                `json:"executionId"`
	SystemID    string                `json:"systemId"`
	StartedAt   string                `json:"startedAt"`
	CompletedAt string                `json:"completedAt,omitempty"`
	Status      ExecutionStatus       `json:"status"`
	NodeStates  map[NodeID]NodeStatus `json:"nodeStates"`
	Artifacts   []Artifact            `json:"artifacts"`
}

// MarshalJSON keeps nodeStates and artifacts as JSON containers even when empty.
func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	type plain ExecutionResult
	p := plain(r)
	if p.NodeStates == nil {
		p.NodeStates = map[NodeID]NodeStatus{}
	}
	if p.Artifacts == nil {
		p.Artifacts = []Artifact{}
	}
	return json.Marshal(p)
}

// TimeLayout is the ISO-8601 layout with millisecond precision used for wire timestamps.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ToBytes serializes v to JSON bytes
func ToBytes(v any) ([]byte, error) {
	return json.Marshal(v)
}

// FromBytes deserializes a payload of type T from JSON bytes
func FromBytes[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}

// NodeIDs converts plain strings into node identifiers.
func NodeIDs(ids ...string) []NodeID {
	out := make([]NodeID, len(ids))
	for i, id := range ids {
		out[i] = NodeID(id)
	}
	return out
}
