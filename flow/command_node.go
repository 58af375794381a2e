package flow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"sort"
	"time"

	"github.com/iota-uz/specflow/flow/store"
)

// CommandResult captures the outcome of a command node's subprocess.
// It is stored both in the node's execution state and in the context
// under the node's name so later nodes can branch on it.
type CommandResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Duration int64  `json:"durationMs"`
	TimedOut bool   `json:"timedOut"`
}

// commandRuntime spawns a subprocess with an optional timeout and
// captures stdout, stderr and the exit code into the result.
type commandRuntime struct {
	baseRuntime
	spec CommandSpec
}

func newCommandRuntime(def NodeDef) (NodeRuntime, error) {
	if def.Command == nil {
		return nil, &ConfigError{NodeID: def.Name, Message: "command node requires a Command spec"}
	}
	if def.Command.Command == "" {
		return nil, &ConfigError{NodeID: def.Name, Message: "command node requires a command"}
	}
	return &commandRuntime{
		baseRuntime: baseRuntime{name: def.Name, kind: def.Kind, then: def.Then},
		spec:        *def.Command,
	}, nil
}

func (r *commandRuntime) Execute(ctx context.Context, exec *store.Execution, env *Env) (Delta, error) {
	return runCommand(ctx, exec, r.name, r.spec)
}

// runCommand is the shared subprocess path used by the command and
// dynamic-command variants. A non-zero exit code is part of the result
// unless the spec's ThrowOnError flag promotes it to a node failure.
func runCommand(ctx context.Context, exec *store.Execution, nodeName string, spec CommandSpec) (Delta, error) {
	command := interpolate(spec.Command, exec.Context)
	args := interpolateAll(spec.Args, exec.Context)

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := osexec.CommandContext(runCtx, command, args...)
	cmd.Dir = spec.Dir
	cmd.Env = buildEnv(spec.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start).Milliseconds()

	result := CommandResult{
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if runErr != nil {
		var exitErr *osexec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			result.TimedOut = true
			result.ExitCode = -1
			return Delta{}, &NodeError{
				NodeID:  nodeName,
				Message: fmt.Sprintf("command %q timed out after %s", command, spec.Timeout),
				Cause:   runCtx.Err(),
			}
		case errors.As(runErr, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			// Spawn failure: command not found, permission denied.
			return Delta{}, &NodeError{
				NodeID:  nodeName,
				Message: fmt.Sprintf("failed to run command %q", command),
				Cause:   runErr,
			}
		}
	}

	if result.ExitCode != 0 && spec.ThrowOnError {
		return Delta{}, &NodeError{
			NodeID:  nodeName,
			Message: fmt.Sprintf("command %q exited with code %d: %s", command, result.ExitCode, firstLine(result.Stderr)),
		}
	}

	return Delta{
		Context: map[string]any{nodeName: result},
		Result:  result,
	}, nil
}

// buildEnv merges extra variables over the process environment.
// Sorted for deterministic subprocess setup.
func buildEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil // inherit parent environment
	}
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}

// dynamicCommandRuntime resolves its spec from the live context, then
// delegates to the shared subprocess path.
type dynamicCommandRuntime struct {
	baseRuntime
	spec DynamicCommandSpec
}

func newDynamicCommandRuntime(def NodeDef) (NodeRuntime, error) {
	if def.DynamicCommand == nil || def.DynamicCommand.Resolve == nil {
		return nil, &ConfigError{NodeID: def.Name, Message: "dynamic_command node requires a Resolve function"}
	}
	return &dynamicCommandRuntime{
		baseRuntime: baseRuntime{name: def.Name, kind: def.Kind, then: def.Then},
		spec:        *def.DynamicCommand,
	}, nil
}

func (r *dynamicCommandRuntime) Execute(ctx context.Context, exec *store.Execution, env *Env) (Delta, error) {
	spec, err := r.spec.Resolve(exec.Context)
	if err != nil {
		return Delta{}, &NodeError{NodeID: r.name, Message: "failed to resolve command spec", Cause: err}
	}
	if spec.Command == "" {
		return Delta{}, &NodeError{NodeID: r.name, Message: "resolved command spec has no command"}
	}
	return runCommand(ctx, exec, r.name, spec)
}
