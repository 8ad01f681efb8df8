package mongocrypt

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/mongocrypt-go/core/internal/mongocrypt")

// traceTransition opens a span covering one state-machine advance (spec
// §4.4's Op/Feed/Done sequence for a single state), closed by the returned
// function with the resulting status recorded.
func traceTransition(ctx context.Context, ctxID uint32, kind, from string) (context.Context, func(to string, failed bool)) {
	spanCtx, span := tracer.Start(ctx, "mongocrypt.state_transition",
		trace.WithAttributes(
			attribute.Int64("mongocrypt.ctx_id", int64(ctxID)),
			attribute.String("mongocrypt.kind", kind),
			attribute.String("mongocrypt.from_state", from),
		),
	)
	return spanCtx, func(to string, failed bool) {
		span.SetAttributes(attribute.String("mongocrypt.to_state", to))
		if failed {
			span.SetStatus(codes.Error, "transition failed")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// traceKMSOperation opens a span covering one KMSProvider wrap/unwrap call.
func traceKMSOperation(ctx context.Context, provider, operation string) (context.Context, func(err error)) {
	spanCtx, span := tracer.Start(ctx, "mongocrypt.kms_operation",
		trace.WithAttributes(
			attribute.String("mongocrypt.kms_provider", provider),
			attribute.String("mongocrypt.kms_operation", operation),
		),
	)
	return spanCtx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
