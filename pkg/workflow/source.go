package workflow

// Unsubscribe removes exactly one subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// EventSource is the contract between an execution backend and its consumers.
//
// Execute starts an execution and returns without waiting for it; all progress is
// delivered through the subscription callbacks. A new Execute supersedes any
// execution still in flight on the same source, and no event of the superseded
// execution is delivered afterwards.
//
// Subscribers only receive events emitted after they subscribed. Registering the
// same function twice produces two registrations, each removed by its own
// Unsubscribe.
//
// Dispose cancels pending work and drops every subscriber. Execute on a disposed
// source returns errors.ErrDisposed.
type EventSource interface {
	Execute(systemID string, nodeIDs []NodeID, connections []Connection, opts ...ExecuteOption) error
	OnNodeStatus(cb func(NodeStatusEvent)) Unsubscribe
	OnArtifact(cb func(Artifact)) Unsubscribe
	OnComplete(cb func(ExecutionResult)) Unsubscribe
	Dispose()
}

// ExecuteOptions holds optional execution parameters.
type ExecuteOptions struct {
	NodeTypes map[NodeID]NodeType
}

// ExecuteOption configures a single Execute call.
type ExecuteOption func(*ExecuteOptions)

// WithNodeTypes declares node types for scheduling and artifact selection.
func WithNodeTypes(types map[NodeID]NodeType) ExecuteOption {
	return func(o *ExecuteOptions) {
		o.NodeTypes = types
	}
}

// ApplyExecuteOptions folds opts into an ExecuteOptions value.
func ApplyExecuteOptions(opts ...ExecuteOption) ExecuteOptions {
	var o ExecuteOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
