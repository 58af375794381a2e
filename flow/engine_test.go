package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/iota-uz/specflow/flow/agent"
	"github.com/iota-uz/specflow/flow/emit"
	"github.com/iota-uz/specflow/flow/store"
)

// evalNode builds an eval node that merges out into the context.
func evalNode(name string, then Transition, out map[string]any) NodeDef {
	return NodeDef{
		Name: name,
		Kind: KindEval,
		Then: then,
		Eval: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return out, nil
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, *store.MemStore, *emit.Recorder) {
	t.Helper()
	st := store.NewMemStore()
	rec := emit.NewRecorder()
	eng := New(st, WithBroadcaster(emit.NewBroadcaster(emit.WithEmitters(rec))))
	return eng, st, rec
}

func TestEngineRunToCompletion(t *testing.T) {
	eng, _, rec := newTestEngine(t)

	cfg := &Config{
		WorkflowID: "two-step",
		Nodes: []NodeDef{
			evalNode("A", Goto("B"), map[string]any{"a": 1}),
			evalNode("B", ToEnd(), map[string]any{"b": 2}),
		},
	}

	exec, err := eng.Start(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if exec.Status != store.StatusCompleted {
		t.Errorf("status = %s, want completed", exec.Status)
	}
	if exec.CurrentNode != End {
		t.Errorf("currentNode = %s, want END", exec.CurrentNode)
	}
	for _, name := range []string{"A", "B"} {
		ns := exec.NodeStates[name]
		if ns.Status != store.NodeCompleted {
			t.Errorf("node %s status = %s, want completed", name, ns.Status)
		}
		if ns.StartedAt == nil || ns.CompletedAt == nil {
			t.Errorf("node %s missing timestamps", name)
		}
	}
	if !exec.NodeStates["B"].StartedAt.Before(*exec.NodeStates["B"].CompletedAt) &&
		!exec.NodeStates["B"].StartedAt.Equal(*exec.NodeStates["B"].CompletedAt) {
		t.Error("node B timestamps out of order")
	}
	if exec.NodeStates["A"].CompletedAt.After(*exec.NodeStates["B"].StartedAt) {
		t.Error("node A completed after node B started")
	}
	if got := exec.Context["a"]; got != 1 {
		t.Errorf("context[a] = %v, want 1", got)
	}
	if got := exec.Context["b"]; got != 2 {
		t.Errorf("context[b] = %v, want 2", got)
	}

	completed := rec.EventsOfType(exec.ExecutionID, emit.EventWorkflowCompleted)
	if len(completed) != 1 {
		t.Errorf("workflow_completed events = %d, want 1", len(completed))
	}
	started := rec.EventsOfType(exec.ExecutionID, emit.EventNodeStarted)
	if len(started) != 2 {
		t.Errorf("node_started events = %d, want 2", len(started))
	}
}

func TestEngineNodeFailure(t *testing.T) {
	eng, _, rec := newTestEngine(t)

	cfg := &Config{
		WorkflowID: "boom",
		Nodes: []NodeDef{
			{
				Name: "A",
				Kind: KindEval,
				Then: ToEnd(),
				Eval: func(_ context.Context, _ map[string]any) (map[string]any, error) {
					return nil, errors.New("boom")
				},
			},
		},
	}

	exec, err := eng.Start(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected error from failing node")
	}
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) {
		t.Fatalf("error type = %T, want *NodeError", err)
	}
	if nodeErr.NodeID != "A" {
		t.Errorf("NodeID = %s, want A", nodeErr.NodeID)
	}

	if exec.Status != store.StatusFailed {
		t.Errorf("status = %s, want failed", exec.Status)
	}
	ns := exec.NodeStates["A"]
	if ns.Status != store.NodeFailed {
		t.Errorf("node A status = %s, want failed", ns.Status)
	}
	// The state carries the message as the node produced it, not the
	// engine's "node A:" framing.
	if ns.Error != "boom" {
		t.Errorf("node A error = %q, want %q", ns.Error, "boom")
	}
	if exec.LastError == "" {
		t.Error("lastError not recorded")
	}

	failed := rec.EventsOfType(exec.ExecutionID, emit.EventWorkflowFailed)
	if len(failed) != 1 {
		t.Errorf("workflow_failed events = %d, want 1", len(failed))
	}
	nodeFailed := rec.EventsOfType(exec.ExecutionID, emit.EventNodeFailed)
	if len(nodeFailed) != 1 {
		t.Errorf("node_failed events = %d, want 1", len(nodeFailed))
	}
}

func TestEngineErrorSentinel(t *testing.T) {
	eng, _, rec := newTestEngine(t)

	cfg := &Config{
		WorkflowID: "to-error",
		Nodes: []NodeDef{
			evalNode("A", ToError(), nil),
		},
	}

	exec, err := eng.Start(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if exec.Status != store.StatusFailed {
		t.Errorf("status = %s, want failed", exec.Status)
	}
	if exec.CurrentNode != ErrorNode {
		t.Errorf("currentNode = %s, want ERROR", exec.CurrentNode)
	}
	if exec.NodeStates["A"].Status != store.NodeCompleted {
		t.Errorf("node A status = %s, want completed", exec.NodeStates["A"].Status)
	}
	if got := len(rec.EventsOfType(exec.ExecutionID, emit.EventWorkflowFailed)); got != 1 {
		t.Errorf("workflow_failed events = %d, want 1", got)
	}
}

func TestEngineRouteFunc(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	cfg := &Config{
		WorkflowID: "branching",
		Nodes: []NodeDef{
			evalNode("classify", Route(func(exec *store.Execution) string {
				if exec.Context["score"].(int) > 5 {
					return "high"
				}
				return "low"
			}), map[string]any{"score": 9}),
			evalNode("low", ToEnd(), map[string]any{"path": "low"}),
			evalNode("high", ToEnd(), map[string]any{"path": "high"}),
		},
	}

	exec, err := eng.Start(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if exec.Context["path"] != "high" {
		t.Errorf("path = %v, want high", exec.Context["path"])
	}
	if _, ran := exec.NodeStates["low"]; ran {
		t.Error("low branch should not have executed")
	}
}

func TestEngineRouteFuncInvalidTarget(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	cfg := &Config{
		WorkflowID: "bad-route",
		Nodes: []NodeDef{
			evalNode("A", Route(func(*store.Execution) string { return "nowhere" }), nil),
		},
	}

	exec, err := eng.Start(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected config error for out-of-set route target")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error type = %T, want *ConfigError", err)
	}
	if exec.Status != store.StatusFailed {
		t.Errorf("status = %s, want failed", exec.Status)
	}
	// The node itself succeeded; only the routing failed.
	if exec.NodeStates["A"].Status != store.NodeCompleted {
		t.Errorf("node A status = %s, want completed", exec.NodeStates["A"].Status)
	}
}

func TestEngineMaxSteps(t *testing.T) {
	st := store.NewMemStore()
	eng := New(st, WithMaxSteps(5))

	// A and B complete on the first pass; after that the skip rule
	// keeps advancing around the cycle forever. Only the step limit
	// terminates the run.
	cfg := &Config{
		WorkflowID: "spin",
		Nodes: []NodeDef{
			evalNode("A", Goto("B"), nil),
			evalNode("B", Goto("A"), nil),
		},
	}

	exec, err := eng.Start(context.Background(), cfg, nil)
	if !errors.Is(err, ErrMaxStepsExceeded) {
		t.Fatalf("err = %v, want ErrMaxStepsExceeded", err)
	}
	if exec.Status != store.StatusFailed {
		t.Errorf("status = %s, want failed", exec.Status)
	}
}

func TestEngineAgentNode(t *testing.T) {
	st := store.NewMemStore()
	mock := &agent.MockModel{
		Responses: []agent.Response{{Text: "the answer", TokensUsed: 7}},
	}
	eng := New(st, WithAgent(mock))

	cfg := &Config{
		WorkflowID: "ask",
		InitialContext: map[string]any{
			"topic": "checkpoints",
		},
		Nodes: []NodeDef{
			{
				Name:  "ask",
				Kind:  KindAgent,
				Then:  ToEnd(),
				Agent: &AgentSpec{Prompt: "Explain {{topic}}", System: "Be brief"},
			},
		},
	}

	exec, err := eng.Start(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := exec.Context["ask"]; got != "the answer" {
		t.Errorf("context[ask] = %v, want the answer", got)
	}
	if len(exec.Conversation) != 2 {
		t.Fatalf("conversation length = %d, want 2", len(exec.Conversation))
	}
	if exec.Conversation[0].Role != agent.RoleUser || exec.Conversation[0].Content != "Explain checkpoints" {
		t.Errorf("user turn = %+v", exec.Conversation[0])
	}
	if exec.Conversation[1].Role != agent.RoleAssistant {
		t.Errorf("assistant turn role = %s", exec.Conversation[1].Role)
	}

	if mock.CallCount() != 1 {
		t.Fatalf("agent calls = %d, want 1", mock.CallCount())
	}
	req := mock.Calls[0]
	if req.System != "Be brief" {
		t.Errorf("system = %q", req.System)
	}
}

func TestEngineAgentErrorPropagates(t *testing.T) {
	st := store.NewMemStore()
	mock := &agent.MockModel{
		Err: &agent.Error{Code: agent.ErrCodeRateLimit, Message: "slow down", Retryable: true},
	}
	eng := New(st, WithAgent(mock))

	cfg := &Config{
		WorkflowID: "rate-limited",
		Nodes: []NodeDef{
			{Name: "ask", Kind: KindAgent, Then: ToEnd(), Agent: &AgentSpec{Prompt: "hi"}},
		},
	}

	exec, err := eng.Start(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected agent error")
	}
	var agentErr *agent.Error
	if !errors.As(err, &agentErr) {
		t.Fatalf("error type = %T, want *agent.Error", err)
	}
	if agentErr.Code != agent.ErrCodeRateLimit {
		t.Errorf("code = %s, want %s", agentErr.Code, agent.ErrCodeRateLimit)
	}
	if exec.Status != store.StatusFailed {
		t.Errorf("status = %s, want failed", exec.Status)
	}
}

func TestEnginePauseAtNodeBoundary(t *testing.T) {
	eng, _, rec := newTestEngine(t)

	var ranB bool
	var executionID string
	cfg := &Config{
		WorkflowID: "pausable",
		Nodes: []NodeDef{
			{
				Name: "A",
				Kind: KindEval,
				Then: Goto("B"),
				// The pause request lands while A is executing; it must
				// not take effect until A has finished.
				Eval: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
					if err := eng.Pause(ctx, executionID); err != nil {
						t.Errorf("Pause: %v", err)
					}
					return map[string]any{"a": "done"}, nil
				},
			},
			{
				Name: "B",
				Kind: KindEval,
				Then: ToEnd(),
				Eval: func(_ context.Context, _ map[string]any) (map[string]any, error) {
					ranB = true
					return nil, nil
				},
			},
		},
	}

	exec, err := eng.Create(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	executionID = exec.ExecutionID

	exec, err = eng.Run(context.Background(), cfg, executionID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if exec.Status != store.StatusPaused {
		t.Fatalf("status = %s, want paused", exec.Status)
	}
	if ranB {
		t.Error("node B ran despite pause at boundary")
	}
	// The checkpoint reflects A's terminal status, never "running".
	if exec.NodeStates["A"].Status != store.NodeCompleted {
		t.Errorf("node A status = %s, want completed", exec.NodeStates["A"].Status)
	}
	if got := len(rec.EventsOfType(executionID, emit.EventWorkflowPaused)); got != 1 {
		t.Errorf("workflow_paused events = %d, want 1", got)
	}

	// Resuming finishes the run without re-executing A.
	exec, err = eng.Resume(context.Background(), cfg, executionID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if exec.Status != store.StatusCompleted {
		t.Errorf("status after resume = %s, want completed", exec.Status)
	}
	if !ranB {
		t.Error("node B did not run after resume")
	}
	if got := len(rec.EventsOfType(executionID, emit.EventWorkflowResumed)); got != 1 {
		t.Errorf("workflow_resumed events = %d, want 1", got)
	}
}

func TestEngineCallerContextMergesOverInitial(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	cfg := &Config{
		WorkflowID:     "merge",
		InitialContext: map[string]any{"env": "dev", "region": "us"},
		Nodes: []NodeDef{
			evalNode("A", ToEnd(), nil),
		},
	}

	exec, err := eng.Start(context.Background(), cfg, map[string]any{"env": "prod"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if exec.Context["env"] != "prod" {
		t.Errorf("caller context should win: env = %v", exec.Context["env"])
	}
	if exec.Context["region"] != "us" {
		t.Errorf("initial context lost: region = %v", exec.Context["region"])
	}
}

func TestEngineRunRejectsTerminalExecution(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	cfg := &Config{
		WorkflowID: "once",
		Nodes:      []NodeDef{evalNode("A", ToEnd(), nil)},
	}

	exec, err := eng.Start(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := eng.Run(context.Background(), cfg, exec.ExecutionID); err == nil {
		t.Error("expected error running a completed execution")
	}
	if _, err := eng.Resume(context.Background(), cfg, exec.ExecutionID); err == nil {
		t.Error("expected error resuming a completed execution")
	}
}
