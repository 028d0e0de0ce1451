// Package tracing provides OpenTelemetry spans for mutations and outgoing
// API requests. It is entirely optional: a nil [TracingConfig] produces
// non-recording spans.
package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/Keksclan/dishsync/tracing"

// TracingConfig holds the OpenTelemetry configuration used for mutation and
// request spans.
type TracingConfig struct {
	// TracerProvider supplies the Tracer used to create spans. When nil the
	// global otel.GetTracerProvider() is used.
	TracerProvider trace.TracerProvider

	// Propagators injects trace context into outgoing request headers.
	// When nil the global otel.GetTextMapPropagator() is used.
	Propagators propagation.TextMapPropagator
}

// tracer returns a configured [trace.Tracer]. A nil config yields a no-op
// tracer.
func (c *TracingConfig) tracer() trace.Tracer {
	if c == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName)
}

// propagators returns the configured propagator (or global default).
func (c *TracingConfig) propagators() propagation.TextMapPropagator {
	if c != nil && c.Propagators != nil {
		return c.Propagators
	}
	return otel.GetTextMapPropagator()
}

// StartMutation starts an internal span covering one optimistic mutation
// from snapshot to settle.
func StartMutation(ctx context.Context, cfg *TracingConfig, name, resource, id string) (context.Context, trace.Span) {
	ctx, span := cfg.tracer().Start(ctx, "mutation "+name, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("dishsync.resource", resource),
		attribute.String("dishsync.entity_id", id),
	)
	return ctx, span
}

// StartRequest starts a client span for an outgoing request and injects the
// trace context into header.
func StartRequest(ctx context.Context, cfg *TracingConfig, method, path string, header http.Header) (context.Context, trace.Span) {
	ctx, span := cfg.tracer().Start(ctx, method+" "+path, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
	)
	if cfg != nil {
		cfg.propagators().Inject(ctx, propagation.HeaderCarrier(header))
	}
	return ctx, span
}

// End records err (if any) and the HTTP status on span, then ends it. A zero
// status is not recorded.
func End(span trace.Span, status int, err error) {
	if status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
