package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/ripple/id"
	"github.com/xraph/ripple/job"
	mw "github.com/xraph/ripple/middleware"
)

func newTestJob() *job.Job {
	return &job.Job{
		ID:          id.NewJobID(),
		Type:        job.TypeListingApproved,
		Queue:       "notifications",
		Attempts:    2,
		MaxAttempts: 5,
	}
}

// traceOne runs a single attempt of j through the tracing middleware and
// returns the ended span.
func traceOne(t *testing.T, j *job.Job, h mw.Handler) (sdktrace.ReadOnlySpan, error) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	err := mw.TracingWithTracer(tp.Tracer("test"))(context.Background(), j, h)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	return spans[0], err
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[string]attribute.Value {
	out := make(map[string]attribute.Value)
	for _, a := range span.Attributes() {
		out[string(a.Key)] = a.Value
	}
	return out
}

func TestTracing_DeliverySpan(t *testing.T) {
	j := newTestJob()
	j.Type = job.TypeReviewReceived

	var inner trace.SpanContext
	span, err := traceOne(t, j, func(ctx context.Context) error {
		inner = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if span.Name() != "ripple.job.execute" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.SpanKind() != trace.SpanKindConsumer {
		t.Errorf("span kind = %v, want consumer", span.SpanKind())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}
	if !inner.IsValid() || inner.SpanID() != span.SpanContext().SpanID() {
		t.Error("handler context does not carry the attempt span")
	}

	attrs := spanAttrs(span)
	if got := attrs["ripple.job.id"].AsString(); got != j.ID.String() {
		t.Errorf("ripple.job.id = %q", got)
	}
	if got := attrs["ripple.job.type"].AsString(); got != "review.received" {
		t.Errorf("ripple.job.type = %q", got)
	}
	if got := attrs["ripple.queue"].AsString(); got != "notifications" {
		t.Errorf("ripple.queue = %q", got)
	}
	if got := attrs["ripple.attempt"].AsInt64(); got != 2 {
		t.Errorf("ripple.attempt = %d", got)
	}
	if got := attrs["ripple.max_attempts"].AsInt64(); got != 5 {
		t.Errorf("ripple.max_attempts = %d", got)
	}
	if _, ok := attrs["ripple.outcome"]; ok {
		t.Error("successful attempt should not carry ripple.outcome")
	}
}

func TestTracing_FailedAttempts(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		err      error
		want     string
	}{
		{"transient mail error", 2, errors.New("mail: 503 unavailable"), mw.OutcomeRetry},
		{"rejected address", 1, job.Permanent(errors.New("mail: 422 invalid recipient")), mw.OutcomeFail},
		{"last attempt", 5, errors.New("mail: timeout"), mw.OutcomeFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := newTestJob()
			j.Attempts = tt.attempts

			span, err := traceOne(t, j, func(context.Context) error { return tt.err })
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if span.Status().Code != codes.Error {
				t.Errorf("status = %v, want Error", span.Status().Code)
			}
			if span.Status().Description != tt.err.Error() {
				t.Errorf("description = %q", span.Status().Description)
			}
			if got := spanAttrs(span)["ripple.outcome"].AsString(); got != tt.want {
				t.Errorf("ripple.outcome = %q, want %q", got, tt.want)
			}

			recorded := false
			for _, ev := range span.Events() {
				recorded = recorded || ev.Name == "exception"
			}
			if !recorded {
				t.Error("error was not recorded on the span")
			}
		})
	}
}

func TestTracing_GlobalProviderPassThrough(t *testing.T) {
	called := false
	err := mw.Tracing()(context.Background(), newTestJob(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("called=%v err=%v", called, err)
	}
}
