package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/ripple/ext"
	"github.com/xraph/ripple/id"
	"github.com/xraph/ripple/job"
)

// Result is the outcome of Enqueue. ID is id.Nil when the notification
// was not accepted.
type Result struct {
	ID id.JobID
}

// OK reports whether the queue accepted the job.
func (r Result) OK() bool { return !r.ID.IsNil() }

// Enqueuer submits notification jobs on the request path. It never
// returns an error: a queue outage is logged and the caller carries on.
type Enqueuer struct {
	store      job.Store
	registry   *job.Registry
	extensions *ext.Registry
	timeout    time.Duration
	logger     *slog.Logger
}

// EnqueuerOption configures an Enqueuer.
type EnqueuerOption func(*Enqueuer)

// WithTimeout bounds each Enqueue call. Defaults to 2s.
func WithTimeout(d time.Duration) EnqueuerOption {
	return func(e *Enqueuer) { e.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EnqueuerOption {
	return func(e *Enqueuer) { e.logger = l }
}

// WithExtensions sets the registry notified of accepted jobs.
func WithExtensions(r *ext.Registry) EnqueuerOption {
	return func(e *Enqueuer) { e.extensions = r }
}

// NewEnqueuer creates an Enqueuer. The registry supplies the payload
// codec and per-type options; types without a definition get
// job.DefaultOptions.
func NewEnqueuer(store job.Store, registry *job.Registry, opts ...EnqueuerOption) *Enqueuer {
	if registry == nil {
		registry = job.NewRegistry(nil)
	}
	e := &Enqueuer{
		store:    store,
		registry: registry,
		timeout:  2 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue pushes n as a job. It returns within the configured timeout.
func (e *Enqueuer) Enqueue(ctx context.Context, n Notification) Result {
	typ := n.Type()
	payload, err := e.registry.Codec().Marshal(n)
	if err != nil {
		e.logger.Error("notification not enqueued: encode payload",
			slog.String("job_type", string(typ)),
			slog.String("error", err.Error()),
		)
		return Result{}
	}

	opts := e.registry.Options(typ)
	j := &job.Job{
		Type:           typ,
		Queue:          opts.Queue,
		Payload:        payload,
		Priority:       opts.Priority,
		MaxAttempts:    opts.MaxAttempts,
		Timeout:        opts.Timeout,
		RunAt:          opts.RunAt,
		IdempotencyKey: n.Key(),
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.push(ctx, j); err != nil {
		e.logger.Error("notification not enqueued",
			slog.String("job_type", string(typ)),
			slog.String("idempotency_key", j.IdempotencyKey),
			slog.String("error", err.Error()),
		)
		return Result{}
	}

	e.extensions.EmitJobEnqueued(ctx, j)
	e.logger.Debug("notification enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(typ)),
	)
	return Result{ID: j.ID}
}

// push races the store call against ctx so a backend that ignores
// cancellation cannot hold the caller past the timeout.
func (e *Enqueuer) push(ctx context.Context, j *job.Job) error {
	done := make(chan error, 1)
	pushed := *j
	go func() { done <- e.store.Push(ctx, &pushed) }()

	select {
	case err := <-done:
		if err == nil {
			*j = pushed
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
