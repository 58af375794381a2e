package emit

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) (*OTelEmitter, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return NewOTelEmitter(provider.Tracer("test")), recorder
}

func TestOTelEmitterRecordsSpans(t *testing.T) {
	emitter, recorder := newTestTracer(t)

	emitter.Emit(Event{
		ExecutionID: "exec_1",
		Type:        EventNodeCompleted,
		NodeID:      "A",
		Status:      "completed",
	})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != string(EventNodeCompleted) {
		t.Errorf("span name = %s", span.Name())
	}

	attrs := make(map[string]string)
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["specflow.execution_id"] != "exec_1" {
		t.Errorf("execution_id attribute = %q", attrs["specflow.execution_id"])
	}
	if attrs["specflow.node_id"] != "A" {
		t.Errorf("node_id attribute = %q", attrs["specflow.node_id"])
	}
}

func TestOTelEmitterMarksFailures(t *testing.T) {
	emitter, recorder := newTestTracer(t)

	emitter.Emit(Event{
		ExecutionID: "exec_1",
		Type:        EventWorkflowFailed,
		Error:       "boom",
	})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status code = %v, want Error", spans[0].Status().Code)
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected recorded error event on span")
	}
}
