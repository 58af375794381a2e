// Package emit carries workflow execution events to live subscribers.
package emit

import "time"

// EventType discriminates workflow execution events.
type EventType string

// Event types emitted by the engine.
const (
	EventNodeStarted       EventType = "node_started"
	EventNodeCompleted     EventType = "node_completed"
	EventNodeFailed        EventType = "node_failed"
	EventWorkflowPaused    EventType = "workflow_paused"
	EventWorkflowResumed   EventType = "workflow_resumed"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventLog               EventType = "log"
)

// Event is one state transition observed during workflow execution.
//
// Events fan out to every subscriber of the owning execution id. For a
// given execution they are emitted in strict step order; delivery to
// any individual sink is best-effort and at-most-once.
type Event struct {
	// ExecutionID identifies the workflow execution.
	ExecutionID string `json:"executionId"`

	// Type discriminates the payload.
	Type EventType `json:"type"`

	// NodeID is the node the event concerns. Empty for workflow-level events.
	NodeID string `json:"nodeId,omitempty"`

	// Status is the node or workflow status after the transition.
	Status string `json:"status,omitempty"`

	// CurrentNode is the engine's current node after the transition.
	CurrentNode string `json:"currentNodeId,omitempty"`

	// Context is a snapshot of the workflow context at emit time.
	Context map[string]any `json:"context,omitempty"`

	// Error carries the failure message for *_failed events.
	Error string `json:"error,omitempty"`

	// Log is set for EventLog events.
	Log *LogEntry `json:"log,omitempty"`

	// Timestamp is when the transition occurred.
	Timestamp time.Time `json:"timestamp"`
}

// LogEntry is a structured execution log line, emitted as an EventLog
// event and appended to the execution's durable log.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	NodeID    string         `json:"nodeId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
