package ext

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/ripple/id"
	"github.com/xraph/ripple/job"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
// Registration is expected at startup; emits may run concurrently.
type Registry struct {
	mu         sync.RWMutex
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued           []entry[JobEnqueued]
	jobStarted            []entry[JobStarted]
	jobCompleted          []entry[JobCompleted]
	jobRetrying           []entry[JobRetrying]
	jobFailed             []entry[JobFailed]
	jobReclaimed          []entry[JobReclaimed]
	cacheInvalidated      []entry[CacheInvalidated]
	aggregateRecalculated []entry[AggregateRecalculated]
	shutdown              []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, entry[JobEnqueued]{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, entry[JobStarted]{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, entry[JobCompleted]{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, entry[JobRetrying]{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, entry[JobFailed]{name, h})
	}
	if h, ok := e.(JobReclaimed); ok {
		r.jobReclaimed = append(r.jobReclaimed, entry[JobReclaimed]{name, h})
	}
	if h, ok := e.(CacheInvalidated); ok {
		r.cacheInvalidated = append(r.cacheInvalidated, entry[CacheInvalidated]{name, h})
	}
	if h, ok := e.(AggregateRecalculated); ok {
		r.aggregateRecalculated = append(r.aggregateRecalculated, entry[AggregateRecalculated]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Extension(nil), r.extensions...)
}

// emit calls fn for every entry and logs hook errors. A nil registry is
// valid and emits nothing.
func emit[H any](r *Registry, entries func(*Registry) []entry[H], hook string, fn func(H) error) {
	if r == nil {
		return
	}
	r.mu.RLock()
	list := entries(r)
	r.mu.RUnlock()

	for _, e := range list {
		if err := fn(e.hook); err != nil {
			r.logHookError(hook, e.name, err)
		}
	}
}

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	emit(r, func(r *Registry) []entry[JobEnqueued] { return r.jobEnqueued }, "OnJobEnqueued",
		func(h JobEnqueued) error { return h.OnJobEnqueued(ctx, j) })
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	emit(r, func(r *Registry) []entry[JobStarted] { return r.jobStarted }, "OnJobStarted",
		func(h JobStarted) error { return h.OnJobStarted(ctx, j) })
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	emit(r, func(r *Registry) []entry[JobCompleted] { return r.jobCompleted }, "OnJobCompleted",
		func(h JobCompleted) error { return h.OnJobCompleted(ctx, j, elapsed) })
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	emit(r, func(r *Registry) []entry[JobRetrying] { return r.jobRetrying }, "OnJobRetrying",
		func(h JobRetrying) error { return h.OnJobRetrying(ctx, j, attempt, nextRunAt) })
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	emit(r, func(r *Registry) []entry[JobFailed] { return r.jobFailed }, "OnJobFailed",
		func(h JobFailed) error { return h.OnJobFailed(ctx, j, jobErr) })
}

// EmitJobReclaimed notifies all extensions that implement JobReclaimed.
func (r *Registry) EmitJobReclaimed(ctx context.Context, jobID id.JobID) {
	emit(r, func(r *Registry) []entry[JobReclaimed] { return r.jobReclaimed }, "OnJobReclaimed",
		func(h JobReclaimed) error { return h.OnJobReclaimed(ctx, jobID) })
}

// EmitCacheInvalidated notifies all extensions that implement CacheInvalidated.
func (r *Registry) EmitCacheInvalidated(ctx context.Context, target string, tags []string, invalidateErr error) {
	emit(r, func(r *Registry) []entry[CacheInvalidated] { return r.cacheInvalidated }, "OnCacheInvalidated",
		func(h CacheInvalidated) error { return h.OnCacheInvalidated(ctx, target, tags, invalidateErr) })
}

// EmitAggregateRecalculated notifies all extensions that implement AggregateRecalculated.
func (r *Registry) EmitAggregateRecalculated(ctx context.Context, kind, recordID string, recalcErr error) {
	emit(r, func(r *Registry) []entry[AggregateRecalculated] { return r.aggregateRecalculated }, "OnAggregateRecalculated",
		func(h AggregateRecalculated) error { return h.OnAggregateRecalculated(ctx, kind, recordID, recalcErr) })
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, func(r *Registry) []entry[Shutdown] { return r.shutdown }, "OnShutdown",
		func(h Shutdown) error { return h.OnShutdown(ctx) })
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
