package emit

import (
	"bytes"
	"strings"
	"testing"
)

func TestBroadcasterFansOutToAllFrontEnds(t *testing.T) {
	rec := NewRecorder()
	b := NewBroadcaster(WithEmitters(rec))

	var stream bytes.Buffer
	b.Streams().Attach("exec_1", &stream)
	sub := b.Hub().Subscribe("exec_1", 0)
	defer sub.Cancel()

	b.Emit(Event{ExecutionID: "exec_1", Type: EventNodeStarted, NodeID: "A"})

	if got := strings.Count(stream.String(), "\n"); got != 1 {
		t.Errorf("stream lines = %d, want 1", got)
	}
	select {
	case ev := <-sub.C():
		if ev.NodeID != "A" {
			t.Errorf("hub event = %+v", ev)
		}
	default:
		t.Error("hub subscriber received nothing")
	}
	if got := len(rec.Events("exec_1")); got != 1 {
		t.Errorf("recorder events = %d, want 1", got)
	}
}

func TestBroadcasterClosedSinkDoesNotAffectOthers(t *testing.T) {
	b := NewBroadcaster()

	dead := &failingWriter{}
	var live bytes.Buffer
	b.Streams().Attach("exec_1", dead)
	b.Streams().Attach("exec_1", &live)
	sub := b.Hub().Subscribe("exec_1", 0)
	defer sub.Cancel()

	// Broadcasting twice: the first write kills the dead sink, the
	// second must proceed cleanly everywhere else.
	b.Emit(Event{ExecutionID: "exec_1", Type: EventNodeStarted})
	b.Emit(Event{ExecutionID: "exec_1", Type: EventNodeCompleted})

	if got := b.Streams().SinkCount("exec_1"); got != 1 {
		t.Errorf("sinks = %d, want 1", got)
	}
	if got := strings.Count(live.String(), "\n"); got != 2 {
		t.Errorf("live sink lines = %d, want 2", got)
	}
	if got := len(sub.C()); got != 2 {
		t.Errorf("hub buffered = %d, want 2", got)
	}
}
