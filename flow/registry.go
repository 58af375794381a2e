package flow

import "fmt"

// runtimeConstructors maps each variant to its constructor. Built once;
// adding a node kind means adding exactly one entry here plus its
// runtime type.
var runtimeConstructors = map[Kind]func(def NodeDef) (NodeRuntime, error){
	KindAgent:          newAgentRuntime,
	KindCommand:        newCommandRuntime,
	KindSlashCommand:   newSlashCommandRuntime,
	KindEval:           newEvalRuntime,
	KindDynamicAgent:   newDynamicAgentRuntime,
	KindDynamicCommand: newDynamicCommandRuntime,
}

// registry is the compiled form of a workflow config: the name-keyed
// runnable nodes plus the set of valid transition targets. Built once
// per run; immutable thereafter.
type registry struct {
	nodes      map[string]NodeRuntime
	validNames map[string]struct{}
}

// buildRegistry compiles the node list and statically checks the graph.
// This is the only point where the whole graph is validated: every
// literal transition target must name a known node or a sentinel.
// Function-valued transitions are validated per call, since their
// output is data-dependent.
func buildRegistry(cfg *Config) (*registry, error) {
	if cfg == nil {
		return nil, &ConfigError{Message: "nil workflow config"}
	}
	if len(cfg.Nodes) == 0 {
		return nil, &ConfigError{Message: "workflow has no nodes"}
	}

	reg := &registry{
		nodes:      make(map[string]NodeRuntime, len(cfg.Nodes)),
		validNames: make(map[string]struct{}, len(cfg.Nodes)),
	}

	for _, def := range cfg.Nodes {
		if def.Name == "" {
			return nil, &ConfigError{Message: "node with empty name"}
		}
		if def.Name == End || def.Name == ErrorNode {
			return nil, &ConfigError{NodeID: def.Name, Message: "node name is a reserved sentinel"}
		}
		if _, dup := reg.validNames[def.Name]; dup {
			return nil, &ConfigError{NodeID: def.Name, Message: "duplicate node name"}
		}
		reg.validNames[def.Name] = struct{}{}
	}

	for _, def := range cfg.Nodes {
		construct, ok := runtimeConstructors[def.Kind]
		if !ok {
			return nil, &ConfigError{NodeID: def.Name, Message: fmt.Sprintf("unknown node kind %q", def.Kind)}
		}
		rt, err := construct(def)
		if err != nil {
			return nil, err
		}
		reg.nodes[def.Name] = rt

		// Literal transitions are checked here, before any node runs.
		if def.Then.Fn == nil {
			if _, err := resolveTransition(def.Then, nil, reg.validNames, def.Name); err != nil {
				return nil, err
			}
		}
	}

	return reg, nil
}

// lookup returns the runtime for a node name.
func (r *registry) lookup(name string) (NodeRuntime, bool) {
	rt, ok := r.nodes[name]
	return rt, ok
}
