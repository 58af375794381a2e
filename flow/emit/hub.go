package emit

import (
	"sync"
)

// DefaultSubscriptionBuffer is the per-subscription event buffer used
// when Subscribe is called with a non-positive size.
const DefaultSubscriptionBuffer = 64

// Hub is a typed publish/subscribe emitter keyed by execution id.
//
// Each Subscribe call creates an independent Subscription with its own
// buffered channel. Delivery is non-blocking and at-most-once: if a
// subscription's buffer is full the event is dropped for that
// subscriber only. Publishing to an execution with no subscribers is
// not an error.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{} // executionID -> subscriptions
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscription for the given execution id.
// buffer <= 0 selects DefaultSubscriptionBuffer.
func (h *Hub) Subscribe(executionID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	sub := &Subscription{
		executionID: executionID,
		ch:          make(chan Event, buffer),
		hub:         h,
	}

	h.mu.Lock()
	set, ok := h.subs[executionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[executionID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Emit implements Emitter. The event is delivered to every live
// subscription of event.ExecutionID without blocking.
func (h *Hub) Emit(event Event) {
	h.mu.RLock()
	set := h.subs[event.ExecutionID]
	targets := make([]*Subscription, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		sub.send(event)
	}
}

// SubscriberCount returns the number of live subscriptions for an execution.
func (h *Hub) SubscriberCount(executionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[executionID])
}

// remove detaches a subscription from the hub.
func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.executionID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.executionID)
	}
}

// Subscription is one consumer's cancelable pull interface onto a Hub.
type Subscription struct {
	executionID string
	ch          chan Event
	hub         *Hub

	// mu orders sends against close: Cancel may not close the channel
	// while a send is in flight.
	mu     sync.Mutex
	closed bool
}

// C returns the read-only event channel. The channel is closed when the
// subscription is canceled.
func (s *Subscription) C() <-chan Event { return s.ch }

// ExecutionID returns the execution this subscription follows.
func (s *Subscription) ExecutionID() string { return s.executionID }

// send delivers an event without blocking. Events sent after Cancel,
// or while the buffer is full, are dropped.
func (s *Subscription) send(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

// Cancel detaches the subscription and closes its channel.
// Safe to call multiple times.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.hub.remove(s)
}
