package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/scribely/tierq/job"
)

// tracerName is the instrumentation scope name for tierq tracing.
const tracerName = "github.com/scribely/tierq"

// Tracing returns middleware that opens an OpenTelemetry span around
// each claim execution, using the global TracerProvider. Until a
// provider is registered the spans are noops.
//
// Spans are named "tierq.claim.execute" and carry the job id, tier,
// owner and status as attributes. A failed claim records the error and
// marks the span codes.Error.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware on the given tracer, for
// callers that run more than one TracerProvider.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "tierq.claim.execute",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("tierq.job.id", j.ID.String()),
				attribute.String("tierq.job.tier", string(j.Tier)),
				attribute.String("tierq.job.owner_id", j.OwnerID),
				attribute.String("tierq.job.status", string(j.Status)),
			),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}
}
