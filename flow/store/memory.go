package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iota-uz/specflow/flow/emit"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for:
//   - Testing and development
//   - Single-process workflows
//   - Short-lived workflows where persistence isn't required
//
// MemStore is thread-safe and returns deep copies, so callers can
// mutate results without corrupting stored state. Data is lost when
// the process terminates.
type MemStore struct {
	mu         sync.RWMutex
	executions map[string]*Execution
	logs       map[string][]emit.LogEntry
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		executions: make(map[string]*Execution),
		logs:       make(map[string][]emit.LogEntry),
	}
}

// CreateExecution inserts a new execution record.
//
// Returns an error if an execution with the same ID already exists.
func (m *MemStore) CreateExecution(_ context.Context, exec *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.executions[exec.ExecutionID]; exists {
		return fmt.Errorf("execution %q already exists", exec.ExecutionID)
	}

	cp, err := cloneExecution(exec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	m.executions[exec.ExecutionID] = cp
	return nil
}

// GetExecution loads an execution by ID.
func (m *MemStore) GetExecution(_ context.Context, executionID string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exec, exists := m.executions[executionID]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneExecution(exec)
}

// UpdateExecution applies a partial update to an execution.
func (m *MemStore) UpdateExecution(_ context.Context, executionID string, upd Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, exists := m.executions[executionID]
	if !exists {
		return ErrNotFound
	}

	if upd.CurrentNode != nil {
		exec.CurrentNode = *upd.CurrentNode
	}
	if upd.Status != nil {
		exec.Status = *upd.Status
	}
	if upd.Context != nil {
		cp, err := cloneJSON(upd.Context)
		if err != nil {
			return err
		}
		exec.Context = cp
	}
	if upd.NodeStates != nil {
		cp, err := cloneJSON(upd.NodeStates)
		if err != nil {
			return err
		}
		exec.NodeStates = cp
	}
	if upd.Conversation != nil {
		cp, err := cloneJSON(upd.Conversation)
		if err != nil {
			return err
		}
		exec.Conversation = cp
	}
	if upd.LastError != nil {
		exec.LastError = *upd.LastError
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		exec.CompletedAt = &t
	}
	exec.UpdatedAt = time.Now().UTC()

	return nil
}

// ListExecutions returns executions with the given status, or all
// executions when status is empty, ordered by creation time.
func (m *MemStore) ListExecutions(_ context.Context, status Status) ([]*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Execution
	for _, exec := range m.executions {
		if status != "" && exec.Status != status {
			continue
		}
		cp, err := cloneExecution(exec)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ExecutionID < out[j].ExecutionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

// AddLog appends a log entry to an execution's log stream.
func (m *MemStore) AddLog(_ context.Context, executionID string, entry emit.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.executions[executionID]; !exists {
		return ErrNotFound
	}
	m.logs[executionID] = append(m.logs[executionID], entry)
	return nil
}

// Logs returns an execution's log entries in append order.
func (m *MemStore) Logs(_ context.Context, executionID string) ([]emit.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, exists := m.executions[executionID]; !exists {
		return nil, ErrNotFound
	}
	entries := m.logs[executionID]
	out := make([]emit.LogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// cloneExecution deep-copies an execution via JSON round-trip so stored
// and returned values never share mutable maps.
func cloneExecution(exec *Execution) (*Execution, error) {
	cp, err := cloneJSON(*exec)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func cloneJSON[T any](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("failed to clone value: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to clone value: %w", err)
	}
	return out, nil
}
