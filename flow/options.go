package flow

import (
	"log/slog"

	"github.com/iota-uz/specflow/flow/agent"
	"github.com/iota-uz/specflow/flow/emit"
)

// DefaultMaxSteps bounds a single run. Workflow loops are supported;
// the limit exists so a loop that lost its exit condition fails instead
// of spinning forever.
const DefaultMaxSteps = 1000

// Option configures an Engine.
type Option func(*Engine)

// WithAgent sets the agent model injected into agent-flavored nodes.
// Runs without an agent model fail only if they reach an agent node.
func WithAgent(model agent.Model) Option {
	return func(e *Engine) {
		e.env.Agent = model
	}
}

// WithBroadcaster sets the event broadcaster. By default the engine
// creates its own, reachable via Engine.Broadcaster.
func WithBroadcaster(b *emit.Broadcaster) Option {
	return func(e *Engine) {
		e.broadcaster = b
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithMaxSteps overrides DefaultMaxSteps. Zero disables the limit.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		e.maxSteps = n
	}
}
