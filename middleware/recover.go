package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/ripple/job"
)

// ErrPanic wraps the value a handler panicked with.
var ErrPanic = errors.New("handler panic")

// Recover turns a panic anywhere below it into an ErrPanic failure that
// counts against the job's attempts. It sits outermost so a panicking
// middleware is caught too.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("recovered panic in job handler",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", string(j.Type)),
				slog.String("queue", j.Queue),
				slog.Int("attempt", j.Attempts),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %s attempt %d: %v", ErrPanic, j.Type, j.Attempts, r)
		}()
		return next(ctx)
	}
}
