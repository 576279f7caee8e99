// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware and reports the outcome
// to the queue, a Pool that leases jobs under a concurrency and rate
// budget, and a Monitor that periodically logs queue health.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/ripple/backoff"
	"github.com/xraph/ripple/ext"
	"github.com/xraph/ripple/id"
	"github.com/xraph/ripple/job"
	"github.com/xraph/ripple/middleware"
)

// ErrInterrupted is returned by Execute when the job's context was
// cancelled by shutdown. The job has been requeued (best effort) and no
// attempt was charged.
var ErrInterrupted = errors.New("ripple: job interrupted by shutdown")

// reportTimeout bounds a single queue transition issued after a handler
// returns, including after shutdown cancelled the handler's context.
const reportTimeout = 5 * time.Second

// Executor runs a single leased job through middleware and the registered
// handler, then moves the job to its next state and emits lifecycle
// events.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor creates an Executor with the given dependencies. A nil
// strategy uses backoff.DefaultStrategy.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs a job leased by owner.
//
//   - No handler for the type: logged and completed, never left stuck.
//   - Success: completed, JobCompleted emitted.
//   - Failure with attempts left: delayed by the backoff, JobRetrying emitted.
//   - Failure on the last attempt, or a job.Permanent error: failed,
//     JobFailed emitted.
//   - Context cancelled by shutdown: requeued, ErrInterrupted returned.
func (e *Executor) Execute(ctx context.Context, j *job.Job, owner id.WorkerID) error {
	handler, ok := e.registry.Get(j.Type)
	if !ok {
		e.logger.Warn("no handler registered, acknowledging job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
		)
		return e.report(ctx, j, "complete", func(rctx context.Context) error {
			return e.store.Complete(rctx, j.ID, owner)
		})
	}

	e.extensions.EmitJobStarted(ctx, j)

	start := time.Now()
	err := e.mw(ctx, j, func(ctx context.Context) error {
		return handler(ctx, j)
	})
	elapsed := time.Since(start)

	if err != nil && ctx.Err() != nil {
		return e.handleInterrupted(ctx, j, owner, err)
	}
	if err != nil {
		return e.handleFailure(ctx, j, owner, err)
	}
	return e.handleSuccess(ctx, j, owner, elapsed)
}

// handleSuccess marks the job as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, owner id.WorkerID, elapsed time.Duration) error {
	if err := e.report(ctx, j, "complete", func(rctx context.Context) error {
		return e.store.Complete(rctx, j.ID, owner)
	}); err != nil {
		return err
	}
	j.State = job.StateCompleted
	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure schedules a retry or fails the job terminally.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, owner id.WorkerID, handlerErr error) error {
	j.LastError = handlerErr.Error()

	if job.IsPermanent(handlerErr) || j.Exhausted() {
		return e.fail(ctx, j, owner, handlerErr)
	}

	delay := e.backoff.Delay(j.Attempts)
	nextRunAt := e.now().Add(delay)
	if err := e.report(ctx, j, "retry", func(rctx context.Context) error {
		return e.store.Fail(rctx, j.ID, owner, handlerErr, delay)
	}); err != nil {
		return err
	}
	j.State = job.StateDelayed
	j.RunAt = nextRunAt

	e.extensions.EmitJobRetrying(ctx, j, j.Attempts, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", j.Type, j.Attempts, j.MaxAttempts, handlerErr)
}

// fail moves the job to failed, where it stays for operator replay.
func (e *Executor) fail(ctx context.Context, j *job.Job, owner id.WorkerID, handlerErr error) error {
	if err := e.report(ctx, j, "fail", func(rctx context.Context) error {
		return e.store.Fail(rctx, j.ID, owner, handlerErr, -1)
	}); err != nil {
		return err
	}
	j.State = job.StateFailed

	e.extensions.EmitJobFailed(ctx, j, handlerErr)

	e.logger.Warn("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempts", j.Attempts),
		slog.Bool("permanent", job.IsPermanent(handlerErr)),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}

// handleInterrupted returns a job cancelled by shutdown to waiting.
func (e *Executor) handleInterrupted(ctx context.Context, j *job.Job, owner id.WorkerID, handlerErr error) error {
	if err := e.report(ctx, j, "requeue", func(rctx context.Context) error {
		return e.store.Requeue(rctx, j.ID, owner)
	}); err != nil {
		return err
	}
	j.State = job.StateWaiting

	e.logger.Info("job requeued after shutdown interrupted it",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.String("error", handlerErr.Error()),
	)
	return ErrInterrupted
}

// report issues a queue transition detached from ctx cancellation so an
// outcome is still recorded while the pool shuts down. A lost lease means
// the job was reclaimed and another worker owns it now.
func (e *Executor) report(ctx context.Context, j *job.Job, op string, fn func(context.Context) error) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	err := fn(rctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, job.ErrLeaseLost):
		e.logger.Warn("lease lost before outcome was recorded",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("op", op),
		)
	default:
		e.logger.Error("failed to record job outcome",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("ripple: %s job %s: %w", op, j.ID, err)
}
