package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iota-uz/specflow/flow/emit"
	"github.com/iota-uz/specflow/flow/store"
)

// Engine drives workflow runs: it compiles a Config into a registry,
// executes nodes strictly one at a time, persists the execution record
// after every node, and broadcasts an event for every state change.
//
// Multiple runs may execute concurrently, each in its own call; they
// share no mutable engine state beyond the store and broadcaster, which
// are safe for concurrent use. The execution row for one run is written
// only by that run's own loop.
type Engine struct {
	store       store.Store
	broadcaster *emit.Broadcaster
	logger      *slog.Logger
	metrics     *Metrics
	env         Env
	maxSteps    int
}

// New creates an engine backed by the given store.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       st,
		broadcaster: emit.NewBroadcaster(),
		logger:      slog.Default(),
		maxSteps:    DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.env.Logger = e.logger
	return e
}

// Broadcaster returns the engine's event broadcaster, used to attach
// stream sinks or open typed subscriptions.
func (e *Engine) Broadcaster() *emit.Broadcaster {
	return e.broadcaster
}

// Create validates the config and inserts a pending execution record
// without running anything. The caller-supplied context is merged over
// the config's initial context.
func (e *Engine) Create(ctx context.Context, cfg *Config, callerContext map[string]any) (*store.Execution, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	execContext := make(map[string]any, len(cfg.InitialContext)+len(callerContext))
	for k, v := range cfg.InitialContext {
		execContext[k] = v
	}
	for k, v := range callerContext {
		execContext[k] = v
	}

	exec := &store.Execution{
		ExecutionID: NewExecutionID(),
		WorkflowID:  cfg.WorkflowID,
		CurrentNode: cfg.entryNode(),
		Status:      store.StatusPending,
		Context:     execContext,
		NodeStates:  make(map[string]store.NodeState),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	return exec, nil
}

// Start creates a new execution and runs it until a terminal status or
// a pause. The returned execution reflects the final persisted state;
// a non-nil error describes a node or configuration failure that the
// engine already recorded against the execution.
func (e *Engine) Start(ctx context.Context, cfg *Config, callerContext map[string]any) (*store.Execution, error) {
	exec, err := e.Create(ctx, cfg, callerContext)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, cfg, exec.ExecutionID)
}

// Run executes a pending execution until a terminal status or a pause.
func (e *Engine) Run(ctx context.Context, cfg *Config, executionID string) (*store.Execution, error) {
	reg, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return exec, fmt.Errorf("execution %s already %s", executionID, exec.Status)
	}

	exec.Status = store.StatusRunning
	e.persist(ctx, exec.ExecutionID, store.Update{Status: store.Ptr(store.StatusRunning)})

	return e.runLoop(ctx, reg, exec)
}

// Resume restarts a paused or interrupted execution from its last
// checkpoint. The graph is rebuilt from cfg and fully re-validated; a
// checkpoint whose current node no longer exists in the rebuilt graph
// is unrecoverable. A node recorded as running when the checkpoint was
// last written is reset to pending and retried from scratch; completed
// nodes are skipped by the loop, which makes resume idempotent over
// the already-finished prefix of the graph.
func (e *Engine) Resume(ctx context.Context, cfg *Config, executionID string) (*store.Execution, error) {
	reg, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return exec, fmt.Errorf("execution %s already %s", executionID, exec.Status)
	}

	if exec.CurrentNode != End && exec.CurrentNode != ErrorNode {
		if _, ok := reg.lookup(exec.CurrentNode); !ok {
			return exec, &ConfigError{
				NodeID:  exec.CurrentNode,
				Message: "checkpointed node no longer exists in the workflow",
			}
		}
	}

	// An interrupted node must be retried from the start, never from
	// partial internal state.
	if exec.NodeStates == nil {
		exec.NodeStates = make(map[string]store.NodeState)
	}
	for name, ns := range exec.NodeStates {
		if ns.Status == store.NodeRunning {
			ns.Status = store.NodePending
			ns.StartedAt = nil
			exec.NodeStates[name] = ns
		}
	}

	exec.Status = store.StatusRunning
	e.persist(ctx, exec.ExecutionID, store.Update{
		Status:     store.Ptr(store.StatusRunning),
		NodeStates: exec.NodeStates,
	})
	e.publish(emit.Event{
		ExecutionID: exec.ExecutionID,
		Type:        emit.EventWorkflowResumed,
		Status:      string(store.StatusRunning),
		CurrentNode: exec.CurrentNode,
		Context:     snapshotContext(exec.Context),
	})
	e.logger.Info("workflow resumed",
		slog.String("execution_id", exec.ExecutionID),
		slog.String("workflow_id", exec.WorkflowID),
		slog.String("current_node", exec.CurrentNode))

	return e.runLoop(ctx, reg, exec)
}

// ResumeAll resumes every paused execution of cfg's workflow, one at a
// time. Intended for process startup after a crash or deploy. Individual
// resume failures are logged and do not stop the sweep.
func (e *Engine) ResumeAll(ctx context.Context, cfg *Config) ([]*store.Execution, error) {
	paused, err := e.store.ListExecutions(ctx, store.StatusPaused)
	if err != nil {
		return nil, fmt.Errorf("failed to list paused executions: %w", err)
	}

	var resumed []*store.Execution
	for _, exec := range paused {
		if exec.WorkflowID != cfg.WorkflowID {
			continue
		}
		final, err := e.Resume(ctx, cfg, exec.ExecutionID)
		if err != nil {
			e.logger.Error("resume failed",
				slog.String("execution_id", exec.ExecutionID),
				slog.Any("error", err))
		}
		if final != nil {
			resumed = append(resumed, final)
		}
	}
	return resumed, nil
}

// Pause requests a cooperative pause. The request is recorded in the
// store and honored by the run's own loop at the next node boundary; an
// in-flight node always runs to completion or failure first.
func (e *Engine) Pause(ctx context.Context, executionID string) error {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return fmt.Errorf("execution %s already %s", executionID, exec.Status)
	}
	if exec.Status == store.StatusPaused {
		return nil
	}
	return e.store.UpdateExecution(ctx, executionID, store.Update{
		Status: store.Ptr(store.StatusPaused),
	})
}

// runLoop is the execution loop: one node per iteration until a
// terminal sentinel, a failure, or a pause. The execution record is
// persisted and an event broadcast after every step, so a crash
// between two nodes loses at most the in-flight node's work.
func (e *Engine) runLoop(ctx context.Context, reg *registry, exec *store.Execution) (*store.Execution, error) {
	e.metrics.runStarted()
	defer e.metrics.runStopped()

	steps := 0
	for exec.CurrentNode != End && exec.CurrentNode != ErrorNode {
		steps++
		if e.maxSteps > 0 && steps > e.maxSteps {
			return e.failWorkflow(ctx, exec, "", ErrMaxStepsExceeded), ErrMaxStepsExceeded
		}

		rt, ok := reg.lookup(exec.CurrentNode)
		if !ok {
			// The graph was edited and no longer defines a node the
			// checkpoint references.
			err := &ConfigError{NodeID: exec.CurrentNode, Message: "no runtime for current node"}
			return e.failWorkflow(ctx, exec, "", err), err
		}
		name := rt.Name()

		if exec.NodeStates[name].Status == store.NodeCompleted {
			next, err := rt.Next(exec, reg.validNames)
			if err != nil {
				return e.failWorkflow(ctx, exec, "", err), err
			}
			exec.CurrentNode = next
			e.persist(ctx, exec.ExecutionID, store.Update{CurrentNode: store.Ptr(next)})
			continue
		}

		startedAt := time.Now().UTC()
		exec.NodeStates[name] = store.NodeState{
			Status:    store.NodeRunning,
			StartedAt: &startedAt,
		}
		e.persist(ctx, exec.ExecutionID, store.Update{NodeStates: exec.NodeStates})
		e.publish(emit.Event{
			ExecutionID: exec.ExecutionID,
			Type:        emit.EventNodeStarted,
			NodeID:      name,
			Status:      string(store.NodeRunning),
			CurrentNode: exec.CurrentNode,
			Context:     snapshotContext(exec.Context),
		})
		e.logger.Debug("node started",
			slog.String("execution_id", exec.ExecutionID),
			slog.String("node", name))

		delta, execErr := rt.Execute(ctx, exec, &e.env)
		if execErr != nil {
			e.metrics.nodeFinished(rt.Kind(), "failed", time.Since(startedAt))
			return e.failNode(ctx, exec, rt, startedAt, execErr), execErr
		}

		applyDelta(exec, delta)

		next, err := rt.Next(exec, reg.validNames)
		if err != nil {
			// The node itself succeeded; the failure is the graph's.
			completedAt := time.Now().UTC()
			exec.NodeStates[name] = store.NodeState{
				Status:      store.NodeCompleted,
				StartedAt:   &startedAt,
				CompletedAt: &completedAt,
				Result:      delta.Result,
			}
			e.metrics.nodeFinished(rt.Kind(), "completed", time.Since(startedAt))
			return e.failWorkflow(ctx, exec, "", err), err
		}

		completedAt := time.Now().UTC()
		exec.NodeStates[name] = store.NodeState{
			Status:      store.NodeCompleted,
			StartedAt:   &startedAt,
			CompletedAt: &completedAt,
			Result:      delta.Result,
		}
		e.metrics.nodeFinished(rt.Kind(), "completed", time.Since(startedAt))
		e.persist(ctx, exec.ExecutionID, store.Update{
			Context:      exec.Context,
			NodeStates:   exec.NodeStates,
			Conversation: exec.Conversation,
		})
		e.publish(emit.Event{
			ExecutionID: exec.ExecutionID,
			Type:        emit.EventNodeCompleted,
			NodeID:      name,
			Status:      string(store.NodeCompleted),
			CurrentNode: exec.CurrentNode,
			Context:     snapshotContext(exec.Context),
		})
		e.logger.Debug("node completed",
			slog.String("execution_id", exec.ExecutionID),
			slog.String("node", name),
			slog.String("next", next),
			slog.Duration("duration", time.Since(startedAt)))

		exec.CurrentNode = next
		e.persist(ctx, exec.ExecutionID, store.Update{CurrentNode: store.Ptr(next)})

		// A pause request lands in the store as status=paused; honor it
		// here, at the node boundary, never mid-node. State is already
		// durable, so returning is all that is needed.
		if e.pauseRequested(ctx, exec.ExecutionID) {
			exec.Status = store.StatusPaused
			e.publish(emit.Event{
				ExecutionID: exec.ExecutionID,
				Type:        emit.EventWorkflowPaused,
				Status:      string(store.StatusPaused),
				CurrentNode: exec.CurrentNode,
				Context:     snapshotContext(exec.Context),
			})
			e.addLog(ctx, exec.ExecutionID, "info", "workflow paused", "")
			e.logger.Info("workflow paused",
				slog.String("execution_id", exec.ExecutionID),
				slog.String("current_node", exec.CurrentNode))
			return exec, nil
		}
	}

	return e.finishWorkflow(ctx, exec), nil
}

// finishWorkflow records the terminal status once the loop exits
// normally: Completed for End, Failed for the ErrorNode sentinel.
func (e *Engine) finishWorkflow(ctx context.Context, exec *store.Execution) *store.Execution {
	status := store.StatusCompleted
	eventType := emit.EventWorkflowCompleted
	if exec.CurrentNode == ErrorNode {
		status = store.StatusFailed
		eventType = emit.EventWorkflowFailed
	}

	completedAt := time.Now().UTC()
	exec.Status = status
	exec.CompletedAt = &completedAt
	e.persist(ctx, exec.ExecutionID, store.Update{
		Status:      store.Ptr(status),
		CurrentNode: store.Ptr(exec.CurrentNode),
		CompletedAt: &completedAt,
	})
	e.publish(emit.Event{
		ExecutionID: exec.ExecutionID,
		Type:        eventType,
		Status:      string(status),
		CurrentNode: exec.CurrentNode,
		Context:     snapshotContext(exec.Context),
	})
	e.metrics.workflowFinished(string(status))
	e.addLog(ctx, exec.ExecutionID, "info", "workflow "+string(status), "")
	e.logger.Info("workflow finished",
		slog.String("execution_id", exec.ExecutionID),
		slog.String("status", string(status)))
	return exec
}

// failNode records a node execution failure and fails the workflow.
func (e *Engine) failNode(ctx context.Context, exec *store.Execution, rt NodeRuntime, startedAt time.Time, execErr error) *store.Execution {
	name := rt.Name()
	completedAt := time.Now().UTC()
	exec.NodeStates[name] = store.NodeState{
		Status:      store.NodeFailed,
		StartedAt:   &startedAt,
		CompletedAt: &completedAt,
		Error:       failureMessage(execErr),
	}
	e.publish(emit.Event{
		ExecutionID: exec.ExecutionID,
		Type:        emit.EventNodeFailed,
		NodeID:      name,
		Status:      string(store.NodeFailed),
		CurrentNode: exec.CurrentNode,
		Error:       execErr.Error(),
	})
	e.addLog(ctx, exec.ExecutionID, "error", execErr.Error(), name)
	return e.failWorkflow(ctx, exec, name, execErr)
}

// failWorkflow persists and broadcasts the failed terminal state.
func (e *Engine) failWorkflow(ctx context.Context, exec *store.Execution, nodeID string, cause error) *store.Execution {
	completedAt := time.Now().UTC()
	exec.Status = store.StatusFailed
	exec.LastError = cause.Error()
	exec.CompletedAt = &completedAt
	e.persist(ctx, exec.ExecutionID, store.Update{
		Status:      store.Ptr(store.StatusFailed),
		NodeStates:  exec.NodeStates,
		Context:     exec.Context,
		LastError:   store.Ptr(exec.LastError),
		CompletedAt: &completedAt,
	})
	e.publish(emit.Event{
		ExecutionID: exec.ExecutionID,
		Type:        emit.EventWorkflowFailed,
		NodeID:      nodeID,
		Status:      string(store.StatusFailed),
		CurrentNode: exec.CurrentNode,
		Error:       exec.LastError,
	})
	e.metrics.workflowFinished(string(store.StatusFailed))
	e.logger.Error("workflow failed",
		slog.String("execution_id", exec.ExecutionID),
		slog.String("node", nodeID),
		slog.Any("error", cause))
	return exec
}

// pauseRequested is the read-through pause check. Store read failures
// are logged and treated as "no pause": the next boundary will check
// again.
func (e *Engine) pauseRequested(ctx context.Context, executionID string) bool {
	current, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		e.logger.Warn("pause check failed",
			slog.String("execution_id", executionID),
			slog.Any("error", err))
		return false
	}
	return current.Status == store.StatusPaused
}

// persist applies a partial update, swallowing failures: a lost write
// must never corrupt the logical state machine, and the next iteration
// persists again.
func (e *Engine) persist(ctx context.Context, executionID string, upd store.Update) {
	if err := e.store.UpdateExecution(ctx, executionID, upd); err != nil {
		e.logger.Warn("checkpoint write failed",
			slog.String("execution_id", executionID),
			slog.Any("error", err))
	}
}

// publish broadcasts an event, stamping it if the caller did not.
func (e *Engine) publish(ev emit.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	e.broadcaster.Emit(ev)
}

// addLog appends to the execution's durable log stream and mirrors the
// entry to subscribers. Fire-and-forget.
func (e *Engine) addLog(ctx context.Context, executionID, level, message, nodeID string) {
	entry := emit.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		NodeID:    nodeID,
	}
	if err := e.store.AddLog(ctx, executionID, entry); err != nil {
		e.logger.Warn("log write failed",
			slog.String("execution_id", executionID),
			slog.Any("error", err))
	}
	e.publish(emit.Event{
		ExecutionID: executionID,
		Type:        emit.EventLog,
		NodeID:      nodeID,
		Log:         &entry,
	})
}

// applyDelta merges a node's output into the live execution: context
// entries shallow-merged, conversation appended to, never replaced.
func applyDelta(exec *store.Execution, delta Delta) {
	if exec.Context == nil {
		exec.Context = make(map[string]any)
	}
	for k, v := range delta.Context {
		exec.Context[k] = v
	}
	exec.Conversation = append(exec.Conversation, delta.Messages...)
}

// snapshotContext shallow-copies the context for event payloads, since
// subscribers consume events after the loop has moved on.
func snapshotContext(context map[string]any) map[string]any {
	if context == nil {
		return nil
	}
	out := make(map[string]any, len(context))
	for k, v := range context {
		out[k] = v
	}
	return out
}
