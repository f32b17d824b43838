// Package tracing extracts trace/span identifiers from a context.Context's
// active OpenTelemetry span, for enriching telemetry events.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// ExtractIDs returns the trace and span IDs of ctx's active span, or empty
// strings if ctx carries no recording span.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
