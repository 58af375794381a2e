package flow

import (
	"context"

	"github.com/iota-uz/specflow/flow/store"
)

// evalRuntime runs a pure transform over a copy of the context. It has
// no external side effects and can only fail if the user function
// returns an error.
type evalRuntime struct {
	baseRuntime
	fn EvalFunc
}

func newEvalRuntime(def NodeDef) (NodeRuntime, error) {
	if def.Eval == nil {
		return nil, &ConfigError{NodeID: def.Name, Message: "eval node requires an Eval function"}
	}
	return &evalRuntime{
		baseRuntime: baseRuntime{name: def.Name, kind: def.Kind, then: def.Then},
		fn:          def.Eval,
	}, nil
}

func (r *evalRuntime) Execute(ctx context.Context, exec *store.Execution, _ *Env) (Delta, error) {
	// The function gets a copy so a buggy transform cannot corrupt
	// engine bookkeeping by mutating the live map.
	snapshot := make(map[string]any, len(exec.Context))
	for k, v := range exec.Context {
		snapshot[k] = v
	}

	out, err := r.fn(ctx, snapshot)
	if err != nil {
		return Delta{}, &NodeError{NodeID: r.name, Message: err.Error(), Cause: err}
	}
	return Delta{Context: out, Result: out}, nil
}
