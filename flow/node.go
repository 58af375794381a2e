package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/iota-uz/specflow/flow/agent"
	"github.com/iota-uz/specflow/flow/store"
)

// Kind discriminates the closed set of node variants.
type Kind string

const (
	// KindAgent sends a prompt to the configured agent model.
	KindAgent Kind = "agent"

	// KindCommand runs a subprocess and captures its output.
	KindCommand Kind = "command"

	// KindSlashCommand sends a "/name args" command prompt to the agent.
	KindSlashCommand Kind = "slash_command"

	// KindEval runs a pure in-process transform over the context.
	KindEval Kind = "eval"

	// KindDynamicAgent resolves an AgentSpec from the live context,
	// then behaves like KindAgent.
	KindDynamicAgent Kind = "dynamic_agent"

	// KindDynamicCommand resolves a CommandSpec from the live context,
	// then behaves like KindCommand.
	KindDynamicCommand Kind = "dynamic_command"
)

// NodeDef declares one node of a workflow: a unique name, a variant
// kind with its spec, and the transition used to pick the next node.
// Exactly one spec field matching Kind must be set.
type NodeDef struct {
	Name string
	Kind Kind
	Then Transition

	Agent          *AgentSpec
	Command        *CommandSpec
	SlashCommand   *SlashCommandSpec
	Eval           EvalFunc
	DynamicAgent   *DynamicAgentSpec
	DynamicCommand *DynamicCommandSpec
}

// AgentSpec configures an agent node. Prompt and System are templates:
// occurrences of {{key}} are replaced with the context value under that
// key before the request is sent.
type AgentSpec struct {
	Prompt string          `json:"prompt"`
	System string          `json:"system,omitempty"`
	Tools  []agent.ToolSpec `json:"tools,omitempty"`
}

// CommandSpec configures a command node. Command and Args are templates
// expanded against the context, like AgentSpec prompts.
//
// A non-zero exit code is captured in the result, not raised as a node
// failure, unless ThrowOnError is set.
type CommandSpec struct {
	Command      string            `json:"command"`
	Args         []string          `json:"args,omitempty"`
	Dir          string            `json:"dir,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Timeout      time.Duration     `json:"timeout,omitempty"`
	ThrowOnError bool              `json:"throwOnError,omitempty"`
}

// SlashCommandSpec configures a slash-command node. The agent receives
// the prompt "/Name Args" with Args expanded against the context.
type SlashCommandSpec struct {
	Name string `json:"name"`
	Args string `json:"args,omitempty"`
}

// EvalFunc is a pure transform over the workflow context. The state map
// is a copy; the returned map is shallow-merged into the context.
type EvalFunc func(ctx context.Context, state map[string]any) (map[string]any, error)

// DynamicAgentSpec defers agent configuration to execution time.
type DynamicAgentSpec struct {
	// Resolve builds the agent spec from the live context.
	Resolve func(state map[string]any) (AgentSpec, error)
}

// DynamicCommandSpec defers command configuration to execution time.
type DynamicCommandSpec struct {
	// Resolve builds the command spec from the live context.
	Resolve func(state map[string]any) (CommandSpec, error)
}

// AgentSpecFromContext returns a resolver that JSON-decodes the context
// value under key into an AgentSpec. Useful when an earlier node
// computed the spec and stored it in the context.
func AgentSpecFromContext(key string) func(state map[string]any) (AgentSpec, error) {
	return func(state map[string]any) (AgentSpec, error) {
		var spec AgentSpec
		if err := decodeContextValue(state, key, &spec); err != nil {
			return AgentSpec{}, err
		}
		return spec, nil
	}
}

// CommandSpecFromContext returns a resolver that JSON-decodes the
// context value under key into a CommandSpec.
func CommandSpecFromContext(key string) func(state map[string]any) (CommandSpec, error) {
	return func(state map[string]any) (CommandSpec, error) {
		var spec CommandSpec
		if err := decodeContextValue(state, key, &spec); err != nil {
			return CommandSpec{}, err
		}
		return spec, nil
	}
}

func decodeContextValue(state map[string]any, key string, out any) error {
	raw, ok := state[key]
	if !ok {
		return fmt.Errorf("context key %q not set", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("context key %q is not serializable: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("context key %q does not decode: %w", key, err)
	}
	return nil
}

// Delta is the output of a node execution. Context entries are
// shallow-merged into the execution context, Messages are appended to
// the conversation (never replacing it), and Result is recorded in the
// node's execution state.
type Delta struct {
	Context  map[string]any
	Messages []agent.Message
	Result   any
}

// Env bundles the collaborator capabilities injected into node
// runtimes: the agent model used by agent-flavored nodes and a logger.
type Env struct {
	Agent  agent.Model
	Logger *slog.Logger
}

// NodeRuntime is the uniform execution contract all variants satisfy.
// The engine never special-cases a kind: it calls Execute, merges the
// delta, then calls Next.
type NodeRuntime interface {
	// Name returns the node's unique name.
	Name() string

	// Kind returns the variant discriminant.
	Kind() Kind

	// Execute performs the node's side effect against a read-only view
	// of the execution and returns the resulting delta.
	Execute(ctx context.Context, exec *store.Execution, env *Env) (Delta, error)

	// Next resolves the node's declared transition against the live
	// execution state.
	Next(exec *store.Execution, validNames map[string]struct{}) (string, error)
}

// baseRuntime carries the fields shared by every variant and
// implements Next by delegating to the transition resolver.
type baseRuntime struct {
	name string
	kind Kind
	then Transition
}

func (b baseRuntime) Name() string { return b.name }

func (b baseRuntime) Kind() Kind { return b.kind }

func (b baseRuntime) Next(exec *store.Execution, validNames map[string]struct{}) (string, error) {
	return resolveTransition(b.then, exec, validNames, b.name)
}
