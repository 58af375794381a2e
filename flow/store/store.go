// Package store defines durable persistence for workflow executions.
//
// An Execution row is the single source of truth for a run: the engine
// writes it after every node so a crashed or paused run can be resumed
// from the last committed position. Implementations:
//   - MemStore: in-memory, for tests and single-process use
//   - SQLiteStore: single-file database, zero-setup persistence
//   - MySQLStore: shared database for multi-process deployments
package store

import (
	"context"
	"errors"
	"time"

	"github.com/iota-uz/specflow/flow/agent"
	"github.com/iota-uz/specflow/flow/emit"
)

// ErrNotFound is returned when a requested execution does not exist.
var ErrNotFound = errors.New("execution not found")

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// NodeStatus is the per-node progress marker inside an execution.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
)

// NodeState records one node's progress and outcome within an execution.
// Completed entries are skipped on resume, which is what makes replay
// idempotent.
type NodeState struct {
	Status      NodeStatus `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Execution is the durable projection of a workflow run.
//
// Context, NodeStates and Conversation are stored as JSON documents by
// the database-backed implementations, so all values must be
// JSON-serializable.
type Execution struct {
	ExecutionID  string                 `json:"executionId"`
	WorkflowID   string                 `json:"workflowId"`
	CurrentNode  string                 `json:"currentNodeId"`
	Status       Status                 `json:"status"`
	Context      map[string]any         `json:"context"`
	NodeStates   map[string]NodeState   `json:"nodeStates"`
	Conversation []agent.Message        `json:"conversation,omitempty"`
	LastError    string                 `json:"lastError,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
	CompletedAt  *time.Time             `json:"completedAt,omitempty"`
}

// Update describes a partial modification to an execution. Nil fields
// are left untouched; non-nil fields replace the stored value wholesale.
type Update struct {
	CurrentNode  *string
	Status       *Status
	Context      map[string]any
	NodeStates   map[string]NodeState
	Conversation []agent.Message
	LastError    *string
	CompletedAt  *time.Time
}

// Store persists executions and their append-only log streams.
//
// All methods are safe for concurrent use. UpdateExecution must bump
// UpdatedAt on every successful write so readers can observe progress.
type Store interface {
	// CreateExecution inserts a new execution record.
	CreateExecution(ctx context.Context, exec *Execution) error

	// GetExecution loads an execution by ID. Returns ErrNotFound if
	// no such execution exists.
	GetExecution(ctx context.Context, executionID string) (*Execution, error)

	// UpdateExecution applies a partial update to an execution.
	// Returns ErrNotFound if no such execution exists.
	UpdateExecution(ctx context.Context, executionID string, upd Update) error

	// ListExecutions returns executions with the given status, or all
	// executions when status is empty. Ordered by creation time.
	ListExecutions(ctx context.Context, status Status) ([]*Execution, error)

	// AddLog appends a log entry to an execution's log stream.
	AddLog(ctx context.Context, executionID string, entry emit.LogEntry) error

	// Logs returns an execution's log entries in append order.
	Logs(ctx context.Context, executionID string) ([]emit.LogEntry, error)
}

// Ptr returns a pointer to v. Convenience for building Update values.
func Ptr[T any](v T) *T { return &v }
