package middleware

import (
	"context"

	"github.com/xraph/ripple/job"
	"github.com/xraph/ripple/ratelimit"
)

// TypeLimit returns middleware that waits for the job type's token
// bucket before running the handler. If the context ends while waiting,
// the wait error is returned and the handler is not called.
func TypeLimit(l *ratelimit.Limiter) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if err := l.WaitType(ctx, j.Type); err != nil {
			return err
		}
		return next(ctx)
	}
}
