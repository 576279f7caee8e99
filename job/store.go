package job

import (
	"context"
	"time"

	"github.com/xraph/ripple/id"
)

// LeaseRequest asks a store for up to Max ready jobs.
type LeaseRequest struct {
	// Queues are scanned in order until Max jobs are leased.
	Queues []string
	Max    int
	Owner  id.WorkerID
	TTL    time.Duration
}

// Counts is the number of jobs per state.
type Counts map[State]int64

// Store defines the persistence contract for the job queue.
//
// Every transition on an active job names the lease owner. A store must
// return ErrLeaseLost, changing nothing, when the owner does not match or
// the job is no longer active.
type Store interface {
	// Push persists a new job. The store assigns ID and CreatedAt when
	// unset. Jobs with RunAt in the future start delayed.
	Push(ctx context.Context, j *Job) error

	// Lease promotes due delayed jobs and atomically claims up to Max
	// waiting jobs for Owner. Jobs are ordered by priority (descending)
	// then RunAt (ascending). Each leased job has Attempts incremented.
	Lease(ctx context.Context, req LeaseRequest) ([]*Job, error)

	// Extend pushes the lease expiry of an active job ttl into the future.
	Extend(ctx context.Context, jobID id.JobID, owner id.WorkerID, ttl time.Duration) error

	// Complete moves an active job to completed.
	Complete(ctx context.Context, jobID id.JobID, owner id.WorkerID) error

	// Fail records cause. The job becomes delayed by delay when it has
	// attempts left, failed otherwise. A negative delay fails it outright.
	Fail(ctx context.Context, jobID id.JobID, owner id.WorkerID, cause error, delay time.Duration) error

	// Requeue returns an active job to waiting without consuming an attempt.
	Requeue(ctx context.Context, jobID id.JobID, owner id.WorkerID) error

	// Reclaim returns active jobs whose lease expired before now to
	// waiting. The interrupted attempt is not counted. It returns the
	// reclaimed job IDs.
	Reclaim(ctx context.Context, now time.Time) ([]id.JobID, error)

	// Retry moves a failed job back to waiting with its attempts reset.
	Retry(ctx context.Context, jobID id.JobID) error

	// Get retrieves a job by ID.
	Get(ctx context.Context, jobID id.JobID) (*Job, error)

	// List returns up to limit jobs in state across all queues, most
	// recent first for finished states.
	List(ctx context.Context, state State, limit int) ([]*Job, error)

	// Counts returns the number of jobs per state across all queues.
	Counts(ctx context.Context) (Counts, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases resources owned by the store.
	Close(ctx context.Context) error
}
