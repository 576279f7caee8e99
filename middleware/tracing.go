package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/ripple/job"
)

// tracerName is the instrumentation scope name for job tracing.
const tracerName = "github.com/xraph/ripple"

// Tracing returns middleware that wraps job execution in an OpenTelemetry
// span using the global TracerProvider. Without a configured provider the
// noop tracer makes this a pass-through.
//
// Spans carry the job identity and attempt counters. Failed attempts also
// record ripple.outcome so retries and terminal failures can be told apart.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "ripple.job.execute",
			trace.WithAttributes(
				attribute.String("ripple.job.id", j.ID.String()),
				attribute.String("ripple.job.type", string(j.Type)),
				attribute.String("ripple.queue", j.Queue),
				attribute.Int("ripple.attempt", j.Attempts),
				attribute.Int("ripple.max_attempts", j.MaxAttempts),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return nil
		}
		span.RecordError(err)
		span.SetAttributes(attribute.String("ripple.outcome", Outcome(j, err)))
		span.SetStatus(codes.Error, err.Error())
		return err
	}
}
