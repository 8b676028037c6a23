package obs

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies this module's spans in any exporter/backend.
const TracerName = "github.com/lattice-mcp/kernel"

// NewTracerProvider builds a minimal SDK tracer provider. Callers install
// their own exporter via sdktrace.WithBatcher before passing opts through;
// with none, a provider with no exporter still records spans in-process
// with no cost beyond local bookkeeping.
func NewTracerProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(opts...)
}

// StartRequestSpan opens one span per dispatched request or tool call.
// Callers must end the returned span.
func StartRequestSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, method, trace.WithAttributes(
		attribute.String("mcp.method", method),
	))
}

// EndSpan records err (if any) on span as its final status before ending
// it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AnnotateToolCall adds tool-call-specific attributes to the current span.
func AnnotateToolCall(span trace.Span, tool string, isError bool) {
	span.SetAttributes(
		attribute.String("mcp.tool", tool),
		attribute.Bool("mcp.tool.is_error", isError),
	)
}
