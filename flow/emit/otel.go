package emit

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each event into an OpenTelemetry span.
//
// The span name is the event type; execution id, node id, and status
// are recorded as attributes, and *_failed events set the span error
// status. Spans are ended immediately since events are points in time.
//
//	tracer := otel.Tracer("specflow")
//	emitter := emit.NewOTelEmitter(tracer)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter that records events as spans on
// the given tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit implements Emitter.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), string(event.Type))
	defer span.End()

	span.SetAttributes(
		attribute.String("specflow.execution_id", event.ExecutionID),
		attribute.String("specflow.node_id", event.NodeID),
		attribute.String("specflow.status", event.Status),
		attribute.String("specflow.current_node", event.CurrentNode),
	)
	if event.Log != nil {
		span.SetAttributes(
			attribute.String("specflow.log.level", event.Log.Level),
			attribute.String("specflow.log.message", event.Log.Message),
		)
	}
	if event.Error != "" {
		span.SetStatus(codes.Error, event.Error)
		span.RecordError(errors.New(event.Error))
	}
}

// Flush forces export of all pending spans. Call before shutdown so
// batched spans reach the backend.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
