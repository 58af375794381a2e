package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreContract(t *testing.T) {
	st, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer func() { _ = st.Close() }()

	testStoreContract(t, st)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "flow.db")

	st, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	err = st.CreateExecution(ctx, &Execution{
		ExecutionID: "exec_durable",
		WorkflowID:  "wf",
		CurrentNode: "B",
		Status:      StatusPaused,
		Context:     map[string]any{"progress": "halfway"},
		NodeStates: map[string]NodeState{
			"A": {Status: NodeCompleted},
		},
	})
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetExecution(ctx, "exec_durable")
	if err != nil {
		t.Fatalf("GetExecution after reopen: %v", err)
	}
	if got.Status != StatusPaused || got.CurrentNode != "B" {
		t.Errorf("reloaded = status %s node %s", got.Status, got.CurrentNode)
	}
	if got.Context["progress"] != "halfway" {
		t.Errorf("context = %v", got.Context)
	}
	if got.NodeStates["A"].Status != NodeCompleted {
		t.Errorf("node states = %v", got.NodeStates)
	}
}

func TestSQLiteStoreClosedOperations(t *testing.T) {
	st, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("double close: %v", err)
	}
	if _, err := st.GetExecution(context.Background(), "x"); err == nil {
		t.Error("expected error on closed store")
	}
}
