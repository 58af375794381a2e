package emit

import (
	"encoding/json"
	"io"
	"sync"
)

// StreamRegistry is the push-stream front-end: raw byte sinks keyed by
// execution id. Each event is written to every attached sink as one
// JSON line.
//
// Sinks are owned by their consumers and may be closed at any time; a
// failed write silently detaches that sink and never propagates an
// error or disturbs the other sinks.
type StreamRegistry struct {
	mu    sync.Mutex
	sinks map[string][]*streamSink // executionID -> attached sinks
	next  int
}

type streamSink struct {
	id int
	w  io.Writer
}

// NewStreamRegistry creates an empty registry.
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		sinks: make(map[string][]*streamSink),
	}
}

// Attach registers a sink for the given execution id and returns a
// token for Detach.
func (r *StreamRegistry) Attach(executionID string, w io.Writer) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.sinks[executionID] = append(r.sinks[executionID], &streamSink{id: r.next, w: w})
	return r.next
}

// Detach removes a previously attached sink. Unknown tokens are ignored.
func (r *StreamRegistry) Detach(executionID string, token int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(executionID, token)
}

// SinkCount returns the number of sinks attached for an execution.
func (r *StreamRegistry) SinkCount(executionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks[executionID])
}

// Emit implements Emitter. Events are JSON-line encoded; a sink whose
// write fails is removed from the registry.
func (r *StreamRegistry) Emit(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	r.mu.Lock()
	sinks := r.sinks[event.ExecutionID]
	targets := make([]*streamSink, len(sinks))
	copy(targets, sinks)
	r.mu.Unlock()

	var dead []int
	for _, sink := range targets {
		if _, err := sink.w.Write(data); err != nil {
			dead = append(dead, sink.id)
		}
	}

	if len(dead) == 0 {
		return
	}
	r.mu.Lock()
	for _, token := range dead {
		r.removeLocked(event.ExecutionID, token)
	}
	r.mu.Unlock()
}

func (r *StreamRegistry) removeLocked(executionID string, token int) {
	sinks := r.sinks[executionID]
	for i, sink := range sinks {
		if sink.id == token {
			r.sinks[executionID] = append(sinks[:i], sinks[i+1:]...)
			break
		}
	}
	if len(r.sinks[executionID]) == 0 {
		delete(r.sinks, executionID)
	}
}
