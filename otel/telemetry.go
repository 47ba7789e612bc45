package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	traceNoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/hugolhafner/smartcity/kafka"
)

const scopeName = "github.com/hugolhafner/smartcity"

// Telemetry carries trace context from the publisher, through Kafka headers, into
// the ingestion chains. With no provider configured all spans are noops.
type Telemetry struct {
	Tracer     trace.Tracer
	Propagator propagation.TextMapPropagator
}

// NewTelemetry creates a Telemetry from the given provider and propagator.
// Both are optional and defaulted to noop / W3C trace context if nil.
func NewTelemetry(tp trace.TracerProvider, prop propagation.TextMapPropagator) *Telemetry {
	if tp == nil {
		tp = traceNoop.NewTracerProvider()
	}
	if prop == nil {
		prop = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	}

	return &Telemetry{
		Tracer:     tp.Tracer(scopeName),
		Propagator: prop,
	}
}

func Noop() *Telemetry {
	return NewTelemetry(nil, nil)
}

// StartPublish opens a producer span and injects its context into headers
func (t *Telemetry) StartPublish(
	ctx context.Context, topic string, key []byte, headers *[]kafka.Header,
) (context.Context, trace.Span) {
	ctx, span := t.Tracer.Start(
		ctx, topic+" "+OperationPublish,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			AttrMessagingSystem.String(systemKafka),
			AttrMessagingDestination.String(topic),
			AttrMessagingOperation.String(OperationPublish),
			AttrMessageKey.String(string(key)),
		),
	)

	t.Propagator.Inject(ctx, HeaderCarrier(headers))
	return ctx, span
}

// StartProcess extracts the producer's context from the record headers and opens
// a consumer span as its child
func (t *Telemetry) StartProcess(ctx context.Context, rec kafka.ConsumerRecord) (context.Context, trace.Span) {
	headers := rec.Headers
	ctx = t.Propagator.Extract(ctx, HeaderCarrier(&headers))

	return t.Tracer.Start(
		ctx, rec.Topic+" "+OperationProcess,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			AttrMessagingSystem.String(systemKafka),
			AttrMessagingDestination.String(rec.Topic),
			AttrMessagingOperation.String(OperationProcess),
			AttrPartition.Int64(int64(rec.Partition)),
			AttrOffset.Int64(rec.Offset),
			AttrBodySize.Int(rec.Size()),
		),
	)
}

func (t *Telemetry) StartCommit(ctx context.Context, topic string, size int) (context.Context, trace.Span) {
	return t.Tracer.Start(
		ctx, topic+" "+OperationCommit,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrMessagingDestination.String(topic),
			AttrBatchSize.Int(size),
		),
	)
}

// End records err on span, if any, and ends it
func End(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
