package middleware

import (
	"context"

	"github.com/xraph/ripple/job"
)

// Handler is the terminal function that executes job logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the job being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// unless short-circuiting on error.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// The first middleware in the list is the outermost wrapper:
//
//	Chain(recover, tracing, logging) runs recover → tracing → logging → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}

// Attempt outcomes reported by the metrics and tracing middleware.
const (
	OutcomeOK    = "ok"
	OutcomeRetry = "retry"
	OutcomeFail  = "failed"
)

// Outcome classifies the result of one attempt the way the executor will
// act on it: a permanent error or the last attempt fails the job, any
// other error schedules a retry.
func Outcome(j *job.Job, err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case job.IsPermanent(err) || j.Exhausted():
		return OutcomeFail
	default:
		return OutcomeRetry
	}
}
