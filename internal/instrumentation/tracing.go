package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartToolSpan opens a span covering one MCP tool invocation.
func StartToolSpan(ctx context.Context, tracer trace.Tracer, tool string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "mcp.tool/"+tool,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("mcp.tool", tool)),
	)
}

// StartUpstreamSpan opens a span covering one TeamUp API round trip.
// resource is the catalog path template to keep attribute cardinality low.
func StartUpstreamSpan(ctx context.Context, tracer trace.Tracer, method, resource string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "teamup.api",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("teamup.resource", resource),
		),
	)
}

// SetSpanError marks the span failed and records the error.
func SetSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceIDFromContext returns the current trace ID for log correlation,
// or the empty string when no span is recording.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
