// Package flow implements a resumable workflow execution engine.
//
// A workflow is a directed graph of named nodes. Each node performs one
// kind of side effect (an LLM agent call, a shell command, a slash
// command, a pure transform, or a dynamically configured variant) and
// declares how to pick the next node. The engine runs nodes strictly
// one at a time, persists a checkpoint after every node, and broadcasts
// progress events to any number of live subscribers.
//
// Because the checkpoint is written after each node, a run can be
// paused (cooperatively, at node boundaries) or killed at any point and
// later resumed from exactly where it stopped: completed nodes are
// skipped, an interrupted node is retried from scratch.
//
// A minimal workflow:
//
//	cfg := &flow.Config{
//	    WorkflowID: "greet",
//	    Nodes: []flow.NodeDef{
//	        {
//	            Name: "hello",
//	            Kind: flow.KindEval,
//	            Eval: func(ctx context.Context, state map[string]any) (map[string]any, error) {
//	                return map[string]any{"greeting": "hello"}, nil
//	            },
//	            Then: flow.ToEnd(),
//	        },
//	    },
//	}
//
//	engine := flow.New(store.NewMemStore())
//	exec, err := engine.Start(ctx, cfg, nil)
package flow
