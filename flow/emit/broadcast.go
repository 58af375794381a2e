package emit

// Broadcaster is the engine's single publish entry point. It fans
// every event out to the typed Hub, the push-stream registry, and any
// extra emitters (logging, tracing, metrics), all best-effort.
type Broadcaster struct {
	hub     *Hub
	streams *StreamRegistry
	extra   []Emitter
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithEmitters attaches additional emitters to the fan-out.
func WithEmitters(emitters ...Emitter) BroadcasterOption {
	return func(b *Broadcaster) {
		b.extra = append(b.extra, emitters...)
	}
}

// NewBroadcaster creates a Broadcaster with a fresh Hub and
// StreamRegistry.
func NewBroadcaster(opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		hub:     NewHub(),
		streams: NewStreamRegistry(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Hub returns the typed subscription front-end.
func (b *Broadcaster) Hub() *Hub { return b.hub }

// Streams returns the raw-sink front-end.
func (b *Broadcaster) Streams() *StreamRegistry { return b.streams }

// Emit implements Emitter. The same event object reaches every
// front-end; none of them may block or fail the caller.
func (b *Broadcaster) Emit(event Event) {
	b.streams.Emit(event)
	b.hub.Emit(event)
	for _, e := range b.extra {
		e.Emit(event)
	}
}
