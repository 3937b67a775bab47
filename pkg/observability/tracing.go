// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for the composite and bulk engines.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/orbit"

// GetTracer returns the tracer of the installed provider. Before Initialize
// runs this is the no-op global provider.
func GetTracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Span wraps a trace span and records its duration when ended
type Span struct {
	span       trace.Span
	collector  *MetricsCollector
	operation  string
	startTime  time.Time
	attributes []attribute.KeyValue
	err        error
}

// StartSpan starts a span named component.operation
func StartSpan(ctx context.Context, component, operation string) (context.Context, *Span) {
	ctx, span := GetTracer().Start(ctx, fmt.Sprintf("%s.%s", component, operation))

	return ctx, &Span{
		span:      span,
		collector: NewMetricsCollector(component),
		operation: operation,
		startTime: time.Now(),
	}
}

// SetAttribute adds an attribute to the span (batched until End)
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// AddEvent adds an event to the span
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Fail marks the span as failed
func (s *Span) Fail(err error) {
	if err == nil {
		return
	}
	s.err = err
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End ends the span and records its duration
func (s *Span) End() {
	if len(s.attributes) > 0 {
		s.span.SetAttributes(s.attributes...)
	}
	if s.err == nil {
		s.span.SetStatus(codes.Ok, "")
	}

	s.collector.RecordDuration(s.operation, time.Since(s.startTime), s.err)
	s.span.End()
}

// Trace runs fn inside a span, failing the span when fn returns an error
func Trace(ctx context.Context, component, operation string, fn func(ctx context.Context) error) error {
	ctx, span := StartSpan(ctx, component, operation)
	defer span.End()

	err := fn(ctx)
	span.Fail(err)
	return err
}
