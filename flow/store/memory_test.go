package store

import (
	"context"
	"testing"
)

func TestMemStoreContract(t *testing.T) {
	testStoreContract(t, NewMemStore())
}

func TestMemStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()

	if err := st.CreateExecution(ctx, &Execution{
		ExecutionID: "exec_iso",
		WorkflowID:  "wf",
		CurrentNode: "A",
		Status:      StatusRunning,
		Context:     map[string]any{"k": "original"},
		NodeStates:  map[string]NodeState{},
	}); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	got, err := st.GetExecution(ctx, "exec_iso")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	got.Context["k"] = "mutated"
	got.CurrentNode = "Z"

	again, err := st.GetExecution(ctx, "exec_iso")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if again.Context["k"] != "original" {
		t.Error("stored context mutated through returned copy")
	}
	if again.CurrentNode != "A" {
		t.Error("stored record mutated through returned copy")
	}
}

func TestMemStoreDuplicateCreate(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()

	exec := &Execution{
		ExecutionID: "exec_dup",
		CurrentNode: "A",
		Status:      StatusPending,
	}
	if err := st.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if err := st.CreateExecution(ctx, exec); err == nil {
		t.Error("duplicate create should fail")
	}
}
