package flow

import "errors"

// ErrMaxStepsExceeded indicates that a run reached the configured step
// limit without finishing. This guards against workflow loops that lost
// their exit condition.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ConfigError reports an invalid workflow definition: a duplicate or
// reserved node name, a missing variant spec, or a transition target
// that is not a known node. Configuration errors are fatal and never
// retried; they are surfaced before (or instead of) any node execution.
type ConfigError struct {
	// NodeID identifies the offending node, when known.
	NodeID string

	// Message is the human-readable error description.
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.NodeID != "" {
		return "workflow config: node " + e.NodeID + ": " + e.Message
	}
	return "workflow config: " + e.Message
}

// NodeError represents a failure inside a node's execution. The engine
// records it against that node's state and marks the workflow failed.
type NodeError struct {
	// NodeID identifies which node produced this error.
	NodeID string

	// Message is the human-readable error description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// failureMessage returns the error text as the node produced it,
// without the "node <id>:" framing NodeError.Error adds. The node state
// records this; callers of Run still see the framed error.
func failureMessage(err error) string {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.Message
	}
	return err.Error()
}
