package flow

import (
	"context"
	"fmt"

	"github.com/iota-uz/specflow/flow/agent"
	"github.com/iota-uz/specflow/flow/store"
)

// agentRuntime sends a rendered prompt to the agent model, appends the
// exchange to the conversation, and stores the response text in the
// context under the node's name.
type agentRuntime struct {
	baseRuntime
	spec AgentSpec
}

func newAgentRuntime(def NodeDef) (NodeRuntime, error) {
	if def.Agent == nil {
		return nil, &ConfigError{NodeID: def.Name, Message: "agent node requires an Agent spec"}
	}
	if def.Agent.Prompt == "" {
		return nil, &ConfigError{NodeID: def.Name, Message: "agent node requires a prompt"}
	}
	return &agentRuntime{
		baseRuntime: baseRuntime{name: def.Name, kind: def.Kind, then: def.Then},
		spec:        *def.Agent,
	}, nil
}

func (r *agentRuntime) Execute(ctx context.Context, exec *store.Execution, env *Env) (Delta, error) {
	return completeWithAgent(ctx, exec, env, r.name, r.spec)
}

// completeWithAgent is the shared agent-call path used by the agent,
// slash-command and dynamic-agent variants. Agent errors (auth, rate
// limit, timeout) propagate unchanged; retry policy belongs to the
// model implementation, not the engine.
func completeWithAgent(ctx context.Context, exec *store.Execution, env *Env, nodeName string, spec AgentSpec) (Delta, error) {
	if env == nil || env.Agent == nil {
		return Delta{}, &NodeError{NodeID: nodeName, Message: "no agent model configured"}
	}

	prompt := interpolate(spec.Prompt, exec.Context)
	system := interpolate(spec.System, exec.Context)

	userMsg := agent.Message{Role: agent.RoleUser, Content: prompt}
	messages := make([]agent.Message, 0, len(exec.Conversation)+1)
	messages = append(messages, exec.Conversation...)
	messages = append(messages, userMsg)

	resp, err := env.Agent.Complete(ctx, agent.Request{
		System:   system,
		Messages: messages,
		Tools:    spec.Tools,
	})
	if err != nil {
		return Delta{}, err
	}

	return Delta{
		Context: map[string]any{nodeName: resp.Text},
		Messages: []agent.Message{
			userMsg,
			{Role: agent.RoleAssistant, Content: resp.Text},
		},
		Result: map[string]any{
			"text":       resp.Text,
			"tokensUsed": resp.TokensUsed,
		},
	}, nil
}

// slashCommandRuntime formats a "/name args" prompt and sends it down
// the same agent path as agentRuntime.
type slashCommandRuntime struct {
	baseRuntime
	spec SlashCommandSpec
}

func newSlashCommandRuntime(def NodeDef) (NodeRuntime, error) {
	if def.SlashCommand == nil {
		return nil, &ConfigError{NodeID: def.Name, Message: "slash_command node requires a SlashCommand spec"}
	}
	if def.SlashCommand.Name == "" {
		return nil, &ConfigError{NodeID: def.Name, Message: "slash_command node requires a command name"}
	}
	return &slashCommandRuntime{
		baseRuntime: baseRuntime{name: def.Name, kind: def.Kind, then: def.Then},
		spec:        *def.SlashCommand,
	}, nil
}

func (r *slashCommandRuntime) Execute(ctx context.Context, exec *store.Execution, env *Env) (Delta, error) {
	prompt := "/" + r.spec.Name
	if r.spec.Args != "" {
		prompt = fmt.Sprintf("/%s %s", r.spec.Name, r.spec.Args)
	}
	return completeWithAgent(ctx, exec, env, r.name, AgentSpec{Prompt: prompt})
}

// dynamicAgentRuntime resolves its spec from the live context, then
// delegates to the shared agent path. Resolution failures are node
// errors, not configuration errors: the graph itself was valid.
type dynamicAgentRuntime struct {
	baseRuntime
	spec DynamicAgentSpec
}

func newDynamicAgentRuntime(def NodeDef) (NodeRuntime, error) {
	if def.DynamicAgent == nil || def.DynamicAgent.Resolve == nil {
		return nil, &ConfigError{NodeID: def.Name, Message: "dynamic_agent node requires a Resolve function"}
	}
	return &dynamicAgentRuntime{
		baseRuntime: baseRuntime{name: def.Name, kind: def.Kind, then: def.Then},
		spec:        *def.DynamicAgent,
	}, nil
}

func (r *dynamicAgentRuntime) Execute(ctx context.Context, exec *store.Execution, env *Env) (Delta, error) {
	spec, err := r.spec.Resolve(exec.Context)
	if err != nil {
		return Delta{}, &NodeError{NodeID: r.name, Message: "failed to resolve agent spec", Cause: err}
	}
	if spec.Prompt == "" {
		return Delta{}, &NodeError{NodeID: r.name, Message: "resolved agent spec has no prompt"}
	}
	return completeWithAgent(ctx, exec, env, r.name, spec)
}
