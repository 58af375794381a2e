package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iota-uz/specflow/flow/agent"
	"github.com/iota-uz/specflow/flow/emit"
)

// testStoreContract exercises the Store behavior every implementation
// must provide. Called from the per-backend test files.
func testStoreContract(t *testing.T, st Store) {
	ctx := context.Background()

	t.Run("get missing returns ErrNotFound", func(t *testing.T) {
		if _, err := st.GetExecution(ctx, "exec_nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("create and get", func(t *testing.T) {
		exec := &Execution{
			ExecutionID: "exec_contract_1",
			WorkflowID:  "wf",
			CurrentNode: "A",
			Status:      StatusPending,
			Context:     map[string]any{"key": "value"},
			NodeStates: map[string]NodeState{
				"A": {Status: NodePending},
			},
			Conversation: []agent.Message{
				{Role: agent.RoleUser, Content: "hi"},
			},
		}
		if err := st.CreateExecution(ctx, exec); err != nil {
			t.Fatalf("CreateExecution: %v", err)
		}

		got, err := st.GetExecution(ctx, "exec_contract_1")
		if err != nil {
			t.Fatalf("GetExecution: %v", err)
		}
		if got.WorkflowID != "wf" || got.CurrentNode != "A" || got.Status != StatusPending {
			t.Errorf("loaded execution = %+v", got)
		}
		if got.Context["key"] != "value" {
			t.Errorf("context = %v", got.Context)
		}
		if got.NodeStates["A"].Status != NodePending {
			t.Errorf("node states = %v", got.NodeStates)
		}
		if len(got.Conversation) != 1 || got.Conversation[0].Content != "hi" {
			t.Errorf("conversation = %v", got.Conversation)
		}
		if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
			t.Error("timestamps not set")
		}
	})

	t.Run("partial update", func(t *testing.T) {
		before, err := st.GetExecution(ctx, "exec_contract_1")
		if err != nil {
			t.Fatalf("GetExecution: %v", err)
		}

		completedAt := time.Now().UTC().Truncate(time.Millisecond)
		err = st.UpdateExecution(ctx, "exec_contract_1", Update{
			CurrentNode: Ptr("B"),
			Status:      Ptr(StatusRunning),
			NodeStates: map[string]NodeState{
				"A": {Status: NodeCompleted, CompletedAt: &completedAt},
			},
		})
		if err != nil {
			t.Fatalf("UpdateExecution: %v", err)
		}

		got, err := st.GetExecution(ctx, "exec_contract_1")
		if err != nil {
			t.Fatalf("GetExecution: %v", err)
		}
		if got.CurrentNode != "B" || got.Status != StatusRunning {
			t.Errorf("after update: node=%s status=%s", got.CurrentNode, got.Status)
		}
		// Untouched fields survive.
		if got.Context["key"] != "value" {
			t.Errorf("context lost on partial update: %v", got.Context)
		}
		if got.NodeStates["A"].Status != NodeCompleted {
			t.Errorf("node states = %v", got.NodeStates)
		}
		if !got.UpdatedAt.After(before.UpdatedAt) && !got.UpdatedAt.Equal(before.UpdatedAt) {
			t.Error("UpdatedAt not bumped")
		}
	})

	t.Run("update missing returns ErrNotFound", func(t *testing.T) {
		err := st.UpdateExecution(ctx, "exec_nope", Update{Status: Ptr(StatusFailed)})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("list by status", func(t *testing.T) {
		if err := st.CreateExecution(ctx, &Execution{
			ExecutionID: "exec_contract_2",
			WorkflowID:  "wf",
			CurrentNode: "A",
			Status:      StatusPaused,
			Context:     map[string]any{},
			NodeStates:  map[string]NodeState{},
		}); err != nil {
			t.Fatalf("CreateExecution: %v", err)
		}

		paused, err := st.ListExecutions(ctx, StatusPaused)
		if err != nil {
			t.Fatalf("ListExecutions: %v", err)
		}
		if len(paused) != 1 || paused[0].ExecutionID != "exec_contract_2" {
			t.Errorf("paused = %v", paused)
		}

		all, err := st.ListExecutions(ctx, "")
		if err != nil {
			t.Fatalf("ListExecutions: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("all = %d executions, want 2", len(all))
		}
	})

	t.Run("logs append in order", func(t *testing.T) {
		for _, msg := range []string{"first", "second", "third"} {
			err := st.AddLog(ctx, "exec_contract_1", emit.LogEntry{
				Timestamp: time.Now().UTC(),
				Level:     "info",
				Message:   msg,
			})
			if err != nil {
				t.Fatalf("AddLog: %v", err)
			}
		}

		entries, err := st.Logs(ctx, "exec_contract_1")
		if err != nil {
			t.Fatalf("Logs: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("entries = %d, want 3", len(entries))
		}
		for i, want := range []string{"first", "second", "third"} {
			if entries[i].Message != want {
				t.Errorf("entry %d = %q, want %q", i, entries[i].Message, want)
			}
		}
	})

	t.Run("logs for missing execution", func(t *testing.T) {
		if err := st.AddLog(ctx, "exec_nope", emit.LogEntry{Message: "x"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("AddLog err = %v, want ErrNotFound", err)
		}
		if _, err := st.Logs(ctx, "exec_nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Logs err = %v, want ErrNotFound", err)
		}
	})
}
