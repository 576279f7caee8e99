// Package memory implements job.Store in process memory. It follows the
// same state machine as the Redis store and is intended for tests and
// single-process development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/ripple"
	"github.com/xraph/ripple/id"
	"github.com/xraph/ripple/job"
)

var _ job.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the time source used for RunAt and lease expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithKeepCompleted sets how many completed jobs are archived per queue.
func WithKeepCompleted(n int) Option {
	return func(s *Store) { s.keepCompleted = n }
}

// Store is safe for concurrent access.
type Store struct {
	mu            sync.Mutex
	jobs          map[id.JobID]*job.Job
	now           func() time.Time
	keepCompleted int
	closed        bool
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:          make(map[id.JobID]*job.Job),
		now:           func() time.Time { return time.Now().UTC() },
		keepCompleted: 1000,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping always succeeds until the store is closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Close marks the store closed. Jobs are kept so tests can inspect them.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var errClosed = ripple.ErrStoreClosed

// Push persists a new job.
func (s *Store) Push(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	if err := job.Prepare(j, s.now()); err != nil {
		return err
	}
	if _, exists := s.jobs[j.ID]; exists {
		return fmt.Errorf("ripple/memory: job %s already exists", j.ID)
	}
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

// Lease claims up to req.Max ready jobs for req.Owner.
func (s *Store) Lease(_ context.Context, req job.LeaseRequest) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}

	now := s.now()
	s.promote(now)

	var leased []*job.Job
	for _, q := range req.Queues {
		remaining := req.Max - len(leased)
		if remaining <= 0 {
			break
		}
		for _, j := range s.pick(q, job.StateWaiting, remaining) {
			expires := now.Add(req.TTL)
			at := now
			j.State = job.StateActive
			j.Attempts++
			j.LastAttemptAt = &at
			j.LeaseOwner = req.Owner
			j.LeaseExpiresAt = &expires
			cp := *j
			leased = append(leased, &cp)
		}
	}
	return leased, nil
}

// promote moves due delayed jobs to waiting.
func (s *Store) promote(now time.Time) {
	for _, j := range s.jobs {
		if j.State == job.StateDelayed && !j.RunAt.After(now) {
			j.State = job.StateWaiting
		}
	}
}

// pick returns up to limit jobs of queue q in state, in lease order.
// An empty q matches every queue.
func (s *Store) pick(q string, state job.State, limit int) []*job.Job {
	var out []*job.Job
	for _, j := range s.jobs {
		if j.State == state && (q == "" || j.Queue == q) {
			out = append(out, j)
		}
	}
	job.Sort(out, state)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// owned returns the active job leased by owner or ErrLeaseLost.
func (s *Store) owned(jobID id.JobID, owner id.WorkerID) (*job.Job, error) {
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, job.ErrNotFound
	}
	if j.State != job.StateActive || j.LeaseOwner != owner {
		return nil, job.ErrLeaseLost
	}
	return j, nil
}

func clearLease(j *job.Job) {
	j.LeaseOwner = id.Nil
	j.LeaseExpiresAt = nil
}

// Extend pushes the lease expiry ttl into the future.
func (s *Store) Extend(_ context.Context, jobID id.JobID, owner id.WorkerID, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.owned(jobID, owner)
	if err != nil {
		return err
	}
	expires := s.now().Add(ttl)
	j.LeaseExpiresAt = &expires
	return nil
}

// Complete archives an active job and trims the completed archive.
func (s *Store) Complete(_ context.Context, jobID id.JobID, owner id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.owned(jobID, owner)
	if err != nil {
		return err
	}
	now := s.now()
	j.State = job.StateCompleted
	j.FinishedAt = &now
	clearLease(j)

	archived := s.pick(j.Queue, job.StateCompleted, 0)
	for _, old := range archived[min(s.keepCompleted, len(archived)):] {
		delete(s.jobs, old.ID)
	}
	return nil
}

// Fail records cause and either delays the job for another attempt or
// moves it to failed.
func (s *Store) Fail(_ context.Context, jobID id.JobID, owner id.WorkerID, cause error, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.owned(jobID, owner)
	if err != nil {
		return err
	}
	now := s.now()
	if cause != nil {
		j.LastError = cause.Error()
	}
	clearLease(j)

	if delay >= 0 && !j.Exhausted() {
		j.State = job.StateDelayed
		j.RunAt = now.Add(delay)
		return nil
	}
	j.State = job.StateFailed
	j.FinishedAt = &now
	return nil
}

// Requeue returns an active job to waiting and gives back its attempt.
func (s *Store) Requeue(_ context.Context, jobID id.JobID, owner id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.owned(jobID, owner)
	if err != nil {
		return err
	}
	j.State = job.StateWaiting
	j.Attempts = max(j.Attempts-1, 0)
	clearLease(j)
	return nil
}

// Reclaim returns jobs whose lease expired before now to waiting.
func (s *Store) Reclaim(_ context.Context, now time.Time) ([]id.JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reclaimed []id.JobID
	for _, j := range s.jobs {
		if j.State != job.StateActive || j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.Before(now) {
			continue
		}
		j.State = job.StateWaiting
		j.Attempts = max(j.Attempts-1, 0)
		j.StalledCount++
		clearLease(j)
		reclaimed = append(reclaimed, j.ID)
	}
	return reclaimed, nil
}

// Retry moves a failed job back to waiting with a fresh attempt budget.
func (s *Store) Retry(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return job.ErrNotFound
	}
	if j.State != job.StateFailed {
		return fmt.Errorf("%w: %s is %s", job.ErrInvalidState, jobID, j.State)
	}
	j.State = job.StateWaiting
	j.Attempts = 0
	j.RunAt = s.now()
	j.FinishedAt = nil
	return nil
}

// Get retrieves a job by ID.
func (s *Store) Get(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, job.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

// List returns up to limit jobs in state. A non-positive limit returns all.
func (s *Store) List(_ context.Context, state job.State, limit int) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	selected := s.pick("", state, limit)
	out := make([]*job.Job, len(selected))
	for i, j := range selected {
		cp := *j
		out[i] = &cp
	}
	return out, nil
}

// Counts returns the number of jobs per state.
func (s *Store) Counts(_ context.Context) (job.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(job.Counts, len(job.States))
	for _, st := range job.States {
		counts[st] = 0
	}
	for _, j := range s.jobs {
		counts[j.State]++
	}
	return counts, nil
}
