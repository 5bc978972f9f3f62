package mfspub

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan starts a span for a namespace operation.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer("go-mfspub").Start(ctx, fmt.Sprintf("MFSPub.%s", name), opts...)
}

func namespaceAttrs(namespace, nsRoot string) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("nsRoot", nsRoot),
	)
}
