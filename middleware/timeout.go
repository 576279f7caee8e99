package middleware

import (
	"context"
	"time"

	"github.com/xraph/ripple/job"
)

// Timeout returns middleware that bounds each attempt. The job's own
// Timeout wins; fallback applies when the job has none. A zero fallback
// leaves such jobs unbounded.
func Timeout(fallback time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		d := j.Timeout
		if d <= 0 {
			d = fallback
		}
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
