package flow

import (
	"fmt"

	"github.com/iota-uz/specflow/flow/store"
)

// Terminal sentinels. These are reserved node names with no backing
// runtime: reaching End completes the workflow, reaching ErrorNode
// fails it. Workflow definitions may not reuse them as node names.
const (
	End       = "END"
	ErrorNode = "ERROR"
)

// RouteFunc picks the next node name from a read-only view of the live
// execution. It must be pure: deterministic and without side effects.
// The returned name is validated against the graph's node set at call
// time, because a data-dependent result cannot be checked statically.
type RouteFunc func(exec *store.Execution) string

// Transition declares how the next node is chosen after one finishes:
// either a fixed target name (possibly a terminal sentinel) or a
// function of the current execution state. When Fn is set it takes
// precedence over To.
type Transition struct {
	To string
	Fn RouteFunc
}

// Goto returns a transition to a fixed node name.
func Goto(target string) Transition {
	return Transition{To: target}
}

// ToEnd returns a transition to the End sentinel.
func ToEnd() Transition {
	return Transition{To: End}
}

// ToError returns a transition to the ErrorNode sentinel.
func ToError() Transition {
	return Transition{To: ErrorNode}
}

// Route returns a data-dependent transition.
func Route(fn RouteFunc) Transition {
	return Transition{Fn: fn}
}

// resolveTransition computes the next node name for nodeName. Sentinels
// pass through unchecked; everything else must be in validNames, and a
// miss is a ConfigError rather than something retryable.
func resolveTransition(t Transition, exec *store.Execution, validNames map[string]struct{}, nodeName string) (string, error) {
	target := t.To
	if t.Fn != nil {
		target = t.Fn(exec)
	}

	if target == End || target == ErrorNode {
		return target, nil
	}
	if _, ok := validNames[target]; !ok {
		return "", &ConfigError{
			NodeID:  nodeName,
			Message: fmt.Sprintf("transition target %q is not a known node", target),
		}
	}
	return target, nil
}
