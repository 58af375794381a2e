package emit

// Emitter receives workflow execution events.
//
// Implementations must be:
//   - Non-blocking: never stall the engine on a slow consumer
//   - Thread-safe: distinct executions emit concurrently
//   - Resilient: a failing backend must not crash the workflow
//
// Emit must not panic; internal failures should be dropped or logged.
type Emitter interface {
	Emit(event Event)
}

// NullEmitter discards all events. Useful when no observability is wanted.
type NullEmitter struct{}

// NewNullEmitter creates an emitter that drops every event.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

// Emit implements Emitter.
func (n *NullEmitter) Emit(Event) {}
