package emit

import "sync"

// Recorder stores every event in memory, organized by execution id.
// Intended for tests, debugging, and post-run inspection; it grows
// without bound, so production deployments should prefer the Hub.
type Recorder struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		events: make(map[string][]Event),
	}
}

// Emit implements Emitter.
func (r *Recorder) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.ExecutionID] = append(r.events[event.ExecutionID], event)
}

// Events returns a copy of all events recorded for an execution, in
// emission order.
func (r *Recorder) Events(executionID string) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[executionID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// EventsOfType returns recorded events of one type for an execution.
func (r *Recorder) EventsOfType(executionID string, t EventType) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Event
	for _, event := range r.events[executionID] {
		if event.Type == t {
			out = append(out, event)
		}
	}
	return out
}

// Clear drops recorded events. An empty executionID clears everything.
func (r *Recorder) Clear(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if executionID == "" {
		r.events = make(map[string][]Event)
		return
	}
	delete(r.events, executionID)
}
