// Package ext defines the extension system for the pipeline.
// Extensions are notified of lifecycle events (job enqueued, completed,
// reclaimed, cache invalidated, aggregate recalculated) and can react to
// them with logging, metrics, or audit trails.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/ripple/id"
	"github.com/xraph/ripple/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is pushed to the queue.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a job fails but has attempts left.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobReclaimed is called for each job whose lease expired and was
// returned to waiting.
type JobReclaimed interface {
	OnJobReclaimed(ctx context.Context, jobID id.JobID) error
}

// ──────────────────────────────────────────────────
// Pipeline hooks
// ──────────────────────────────────────────────────

// CacheInvalidated is called once per invalidation target after a
// propagation attempt. err is nil on success.
type CacheInvalidated interface {
	OnCacheInvalidated(ctx context.Context, target string, tags []string, err error) error
}

// AggregateRecalculated is called after a coalesced recomputation of one
// parent record. err is nil on success.
type AggregateRecalculated interface {
	OnAggregateRecalculated(ctx context.Context, kind, recordID string, err error) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
