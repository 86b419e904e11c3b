package transport

import "github.com/claudio-flowstack/flowstack/pkg/workflow"

// ExecuteRequest asks the backend to start an execution for a source.
type ExecuteRequest struct {
	SourceID    string                                `json:"sourceId"`
	Run         uint64                                `json:"run"`
	SystemID    string                                `json:"systemId"`
	NodeIDs     []workflow.NodeID                     `json:"nodeIds"`
	Connections []workflow.Connection                 `json:"connections"`
	NodeTypes   map[workflow.NodeID]workflow.NodeType `json:"nodeTypes,omitempty"`
}

// DisposeRequest asks the backend to drop everything it holds for a source.
type DisposeRequest struct {
	SourceID string `json:"sourceId"`
}
