// Package storetest is a conformance suite for job.Store implementations.
// Every backend runs the same scenarios so the queue behaves identically
// in tests, development, and production.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/ripple/id"
	"github.com/xraph/ripple/job"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock at a fixed, millisecond-aligned instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Options are passed to the factory for each scenario.
type Options struct {
	Clock         *Clock
	KeepCompleted int
}

// Factory builds a fresh, empty store for one scenario.
type Factory func(t *testing.T, opts Options) job.Store

// Run executes the conformance suite.
func Run(t *testing.T, factory Factory) {
	scenarios := []struct {
		name string
		fn   func(t *testing.T, s job.Store, clock *Clock)
	}{
		{"PushAndGet", testPushAndGet},
		{"PushUnknownType", testPushUnknownType},
		{"LeaseOrder", testLeaseOrder},
		{"LeaseQueues", testLeaseQueues},
		{"LeaseRecordsAttempt", testLeaseRecordsAttempt},
		{"DelayedPromotion", testDelayedPromotion},
		{"Complete", testComplete},
		{"LeaseOwnership", testLeaseOwnership},
		{"RetryBound", testRetryBound},
		{"FailPermanent", testFailPermanent},
		{"Requeue", testRequeue},
		{"Reclaim", testReclaim},
		{"Extend", testExtend},
		{"Retry", testRetry},
		{"ListAndCounts", testListAndCounts},
		{"ConcurrentLease", testConcurrentLease},
	}
	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			clock := NewClock()
			s := factory(t, Options{Clock: clock, KeepCompleted: 100})
			sc.fn(t, s, clock)
		})
	}

	t.Run("KeepCompleted", func(t *testing.T) {
		clock := NewClock()
		s := factory(t, Options{Clock: clock, KeepCompleted: 2})
		testKeepCompleted(t, s, clock)
	})
}

var ctx = context.Background()

func push(t *testing.T, s job.Store, j *job.Job) *job.Job {
	t.Helper()
	if j.Type == "" {
		j.Type = job.TypeUserWelcome
	}
	if j.Queue == "" {
		j.Queue = "notifications"
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 3
	}
	if err := s.Push(ctx, j); err != nil {
		t.Fatalf("Push: %v", err)
	}
	return j
}

func lease(t *testing.T, s job.Store, owner id.WorkerID, n int, queues ...string) []*job.Job {
	t.Helper()
	if len(queues) == 0 {
		queues = []string{"notifications"}
	}
	jobs, err := s.Lease(ctx, job.LeaseRequest{Queues: queues, Max: n, Owner: owner, TTL: 10 * time.Second})
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	return jobs
}

func get(t *testing.T, s job.Store, jobID id.JobID) *job.Job {
	t.Helper()
	j, err := s.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get(%s): %v", jobID, err)
	}
	return j
}

func testPushAndGet(t *testing.T, s job.Store, clock *Clock) {
	j := push(t, s, &job.Job{
		Payload:        []byte(`{"email":"ana@example.com"}`),
		Priority:       2,
		IdempotencyKey: "user.welcome:users:u1:approved",
		Timeout:        30 * time.Second,
	})
	if j.ID.IsNil() {
		t.Fatal("Push did not assign an ID")
	}

	got := get(t, s, j.ID)
	if got.State != job.StateWaiting {
		t.Errorf("State = %q, want waiting", got.State)
	}
	if got.Type != job.TypeUserWelcome || got.Queue != "notifications" {
		t.Errorf("Type/Queue = %q/%q", got.Type, got.Queue)
	}
	if string(got.Payload) != `{"email":"ana@example.com"}` {
		t.Errorf("Payload = %s", got.Payload)
	}
	if got.Priority != 2 || got.MaxAttempts != 3 || got.Attempts != 0 {
		t.Errorf("Priority/MaxAttempts/Attempts = %d/%d/%d", got.Priority, got.MaxAttempts, got.Attempts)
	}
	if got.IdempotencyKey != "user.welcome:users:u1:approved" {
		t.Errorf("IdempotencyKey = %q", got.IdempotencyKey)
	}
	if got.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", got.Timeout)
	}
	if !got.CreatedAt.Equal(clock.Now()) || !got.RunAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt = %v, RunAt = %v, want %v", got.CreatedAt, got.RunAt, clock.Now())
	}

	if _, err := s.Get(ctx, id.NewJobID()); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("Get unknown: expected ErrNotFound, got %v", err)
	}
}

func testPushUnknownType(t *testing.T, s job.Store, _ *Clock) {
	err := s.Push(ctx, &job.Job{Type: "listing.deleted", Queue: "notifications"})
	if !errors.Is(err, job.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func testLeaseOrder(t *testing.T, s job.Store, clock *Clock) {
	low := push(t, s, &job.Job{Priority: 0})
	clock.Advance(time.Millisecond)
	high := push(t, s, &job.Job{Priority: 5})
	clock.Advance(time.Millisecond)
	lowLater := push(t, s, &job.Job{Priority: 0})

	owner := id.NewWorkerID()
	jobs := lease(t, s, owner, 2)
	if len(jobs) != 2 {
		t.Fatalf("leased %d jobs, want 2", len(jobs))
	}
	if jobs[0].ID != high.ID || jobs[1].ID != low.ID {
		t.Errorf("lease order = [%s %s], want [%s %s]", jobs[0].ID, jobs[1].ID, high.ID, low.ID)
	}

	rest := lease(t, s, owner, 5)
	if len(rest) != 1 || rest[0].ID != lowLater.ID {
		t.Fatalf("remaining lease = %v, want only %s", rest, lowLater.ID)
	}
}

func testLeaseQueues(t *testing.T, s job.Store, _ *Clock) {
	a := push(t, s, &job.Job{Queue: "reviews"})
	push(t, s, &job.Job{Queue: "notifications"})

	jobs := lease(t, s, id.NewWorkerID(), 5, "reviews")
	if len(jobs) != 1 || jobs[0].ID != a.ID {
		t.Fatalf("leased %v, want only %s", jobs, a.ID)
	}
}

func testLeaseRecordsAttempt(t *testing.T, s job.Store, clock *Clock) {
	j := push(t, s, &job.Job{})
	owner := id.NewWorkerID()

	jobs := lease(t, s, owner, 1)
	if len(jobs) != 1 {
		t.Fatalf("leased %d jobs, want 1", len(jobs))
	}
	got := jobs[0]
	if got.State != job.StateActive {
		t.Errorf("State = %q, want active", got.State)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
	if got.LeaseOwner != owner {
		t.Errorf("LeaseOwner = %s, want %s", got.LeaseOwner, owner)
	}
	if got.LeaseExpiresAt == nil || !got.LeaseExpiresAt.Equal(clock.Now().Add(10*time.Second)) {
		t.Errorf("LeaseExpiresAt = %v", got.LeaseExpiresAt)
	}
	if got.LastAttemptAt == nil || !got.LastAttemptAt.Equal(clock.Now()) {
		t.Errorf("LastAttemptAt = %v", got.LastAttemptAt)
	}

	if again := lease(t, s, id.NewWorkerID(), 1); len(again) != 0 {
		t.Errorf("active job leased twice: %v", again)
	}
	if stored := get(t, s, j.ID); stored.State != job.StateActive || stored.Attempts != 1 {
		t.Errorf("stored state = %q attempts = %d", stored.State, stored.Attempts)
	}
}

func testDelayedPromotion(t *testing.T, s job.Store, clock *Clock) {
	j := push(t, s, &job.Job{RunAt: clock.Now().Add(time.Minute)})
	if got := get(t, s, j.ID); got.State != job.StateDelayed {
		t.Fatalf("State = %q, want delayed", got.State)
	}

	owner := id.NewWorkerID()
	if jobs := lease(t, s, owner, 1); len(jobs) != 0 {
		t.Fatalf("delayed job leased early: %v", jobs)
	}

	clock.Advance(time.Minute)
	jobs := lease(t, s, owner, 1)
	if len(jobs) != 1 || jobs[0].ID != j.ID {
		t.Fatalf("due job not leased: %v", jobs)
	}
}

func testComplete(t *testing.T, s job.Store, clock *Clock) {
	j := push(t, s, &job.Job{})
	owner := id.NewWorkerID()
	lease(t, s, owner, 1)

	clock.Advance(time.Second)
	if err := s.Complete(ctx, j.ID, owner); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got := get(t, s, j.ID)
	if got.State != job.StateCompleted {
		t.Errorf("State = %q, want completed", got.State)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(clock.Now()) {
		t.Errorf("FinishedAt = %v", got.FinishedAt)
	}
	if !got.LeaseOwner.IsNil() || got.LeaseExpiresAt != nil {
		t.Errorf("lease not cleared: %s %v", got.LeaseOwner, got.LeaseExpiresAt)
	}

	if err := s.Complete(ctx, j.ID, owner); !errors.Is(err, job.ErrLeaseLost) {
		t.Errorf("second Complete: expected ErrLeaseLost, got %v", err)
	}
	if err := s.Complete(ctx, id.NewJobID(), owner); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("Complete unknown: expected ErrNotFound, got %v", err)
	}
}

func testLeaseOwnership(t *testing.T, s job.Store, _ *Clock) {
	j := push(t, s, &job.Job{})
	owner := id.NewWorkerID()
	other := id.NewWorkerID()
	lease(t, s, owner, 1)

	checks := map[string]error{
		"Complete": s.Complete(ctx, j.ID, other),
		"Fail":     s.Fail(ctx, j.ID, other, errors.New("x"), 0),
		"Requeue":  s.Requeue(ctx, j.ID, other),
		"Extend":   s.Extend(ctx, j.ID, other, time.Minute),
	}
	for op, err := range checks {
		if !errors.Is(err, job.ErrLeaseLost) {
			t.Errorf("%s by non-owner: expected ErrLeaseLost, got %v", op, err)
		}
	}

	got := get(t, s, j.ID)
	if got.State != job.StateActive || got.LeaseOwner != owner || got.Attempts != 1 {
		t.Errorf("stale reports changed the job: state=%q owner=%s attempts=%d", got.State, got.LeaseOwner, got.Attempts)
	}
}

func testRetryBound(t *testing.T, s job.Store, clock *Clock) {
	j := push(t, s, &job.Job{MaxAttempts: 3})
	owner := id.NewWorkerID()

	for attempt := 1; attempt <= 3; attempt++ {
		jobs := lease(t, s, owner, 1)
		if len(jobs) != 1 {
			t.Fatalf("attempt %d: leased %d jobs", attempt, len(jobs))
		}
		if jobs[0].Attempts != attempt {
			t.Fatalf("attempt %d: Attempts = %d", attempt, jobs[0].Attempts)
		}
		if err := s.Fail(ctx, j.ID, owner, errors.New("provider unavailable"), time.Second); err != nil {
			t.Fatalf("Fail: %v", err)
		}

		got := get(t, s, j.ID)
		if attempt < 3 {
			if got.State != job.StateDelayed {
				t.Fatalf("attempt %d: State = %q, want delayed", attempt, got.State)
			}
			if !got.RunAt.Equal(clock.Now().Add(time.Second)) {
				t.Errorf("attempt %d: RunAt = %v", attempt, got.RunAt)
			}
			clock.Advance(time.Second)
		} else if got.State != job.StateFailed {
			t.Fatalf("final State = %q, want failed", got.State)
		}
		if got.LastError != "provider unavailable" {
			t.Errorf("LastError = %q", got.LastError)
		}
	}

	clock.Advance(time.Hour)
	if jobs := lease(t, s, owner, 1); len(jobs) != 0 {
		t.Fatalf("failed job leased again: %v", jobs)
	}
	if got := get(t, s, j.ID); got.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", got.Attempts)
	}
}

func testFailPermanent(t *testing.T, s job.Store, _ *Clock) {
	j := push(t, s, &job.Job{MaxAttempts: 5})
	owner := id.NewWorkerID()
	lease(t, s, owner, 1)

	if err := s.Fail(ctx, j.ID, owner, errors.New("bad address"), -1); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got := get(t, s, j.ID)
	if got.State != job.StateFailed || got.Attempts != 1 {
		t.Errorf("State = %q, Attempts = %d; want failed after 1", got.State, got.Attempts)
	}
}

func testRequeue(t *testing.T, s job.Store, _ *Clock) {
	j := push(t, s, &job.Job{})
	owner := id.NewWorkerID()
	lease(t, s, owner, 1)

	if err := s.Requeue(ctx, j.ID, owner); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	got := get(t, s, j.ID)
	if got.State != job.StateWaiting || got.Attempts != 0 {
		t.Errorf("State = %q, Attempts = %d; want waiting with 0", got.State, got.Attempts)
	}
	if !got.LeaseOwner.IsNil() {
		t.Errorf("LeaseOwner = %s, want nil", got.LeaseOwner)
	}

	if jobs := lease(t, s, id.NewWorkerID(), 1); len(jobs) != 1 || jobs[0].Attempts != 1 {
		t.Fatalf("requeued job not leasable: %v", jobs)
	}
}

func testReclaim(t *testing.T, s job.Store, clock *Clock) {
	j := push(t, s, &job.Job{})
	owner := id.NewWorkerID()
	lease(t, s, owner, 1)

	clock.Advance(5 * time.Second)
	if ids, err := s.Reclaim(ctx, clock.Now()); err != nil || len(ids) != 0 {
		t.Fatalf("Reclaim before expiry = %v, %v", ids, err)
	}

	clock.Advance(6 * time.Second)
	ids, err := s.Reclaim(ctx, clock.Now())
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if len(ids) != 1 || ids[0] != j.ID {
		t.Fatalf("Reclaim = %v, want [%s]", ids, j.ID)
	}

	got := get(t, s, j.ID)
	if got.State != job.StateWaiting {
		t.Errorf("State = %q, want waiting", got.State)
	}
	if got.Attempts != 0 || got.StalledCount != 1 {
		t.Errorf("Attempts = %d, StalledCount = %d; want 0 and 1", got.Attempts, got.StalledCount)
	}

	if err := s.Complete(ctx, j.ID, owner); !errors.Is(err, job.ErrLeaseLost) {
		t.Errorf("Complete after reclaim: expected ErrLeaseLost, got %v", err)
	}
}

func testExtend(t *testing.T, s job.Store, clock *Clock) {
	j := push(t, s, &job.Job{})
	owner := id.NewWorkerID()
	lease(t, s, owner, 1)

	clock.Advance(8 * time.Second)
	if err := s.Extend(ctx, j.ID, owner, 10*time.Second); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	clock.Advance(8 * time.Second)
	if ids, err := s.Reclaim(ctx, clock.Now()); err != nil || len(ids) != 0 {
		t.Fatalf("extended lease reclaimed: %v, %v", ids, err)
	}
	if got := get(t, s, j.ID); !got.LeaseExpiresAt.Equal(clock.Now().Add(2 * time.Second)) {
		t.Errorf("LeaseExpiresAt = %v", got.LeaseExpiresAt)
	}
}

func testRetry(t *testing.T, s job.Store, _ *Clock) {
	j := push(t, s, &job.Job{MaxAttempts: 1})
	owner := id.NewWorkerID()

	if err := s.Retry(ctx, j.ID); !errors.Is(err, job.ErrInvalidState) {
		t.Errorf("Retry waiting job: expected ErrInvalidState, got %v", err)
	}
	if err := s.Retry(ctx, id.NewJobID()); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("Retry unknown job: expected ErrNotFound, got %v", err)
	}

	lease(t, s, owner, 1)
	if err := s.Fail(ctx, j.ID, owner, errors.New("boom"), time.Second); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if got := get(t, s, j.ID); got.State != job.StateFailed {
		t.Fatalf("State = %q, want failed", got.State)
	}

	if err := s.Retry(ctx, j.ID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	got := get(t, s, j.ID)
	if got.State != job.StateWaiting || got.Attempts != 0 || got.FinishedAt != nil {
		t.Errorf("after Retry: state=%q attempts=%d finished=%v", got.State, got.Attempts, got.FinishedAt)
	}
	if jobs := lease(t, s, owner, 1); len(jobs) != 1 {
		t.Fatalf("retried job not leasable")
	}
}

func testListAndCounts(t *testing.T, s job.Store, clock *Clock) {
	owner := id.NewWorkerID()
	a := push(t, s, &job.Job{})
	clock.Advance(time.Millisecond)
	b := push(t, s, &job.Job{Priority: 1})
	push(t, s, &job.Job{RunAt: clock.Now().Add(time.Hour)})
	push(t, s, &job.Job{})

	lease(t, s, owner, 2) // b, a
	if err := s.Complete(ctx, b.ID, owner); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	clock.Advance(time.Second)
	if err := s.Fail(ctx, a.ID, owner, errors.New("x"), -1); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	want := job.Counts{
		job.StateWaiting:   1,
		job.StateActive:    0,
		job.StateDelayed:   1,
		job.StateCompleted: 1,
		job.StateFailed:    1,
	}
	for st, n := range want {
		if counts[st] != n {
			t.Errorf("Counts[%s] = %d, want %d", st, counts[st], n)
		}
	}

	failed, err := s.List(ctx, job.StateFailed, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != a.ID {
		t.Errorf("List(failed) = %v, want [%s]", failed, a.ID)
	}

	waiting, err := s.List(ctx, job.StateWaiting, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(waiting) != 1 {
		t.Errorf("List(waiting) returned %d jobs, want 1", len(waiting))
	}
}

func testKeepCompleted(t *testing.T, s job.Store, clock *Clock) {
	owner := id.NewWorkerID()
	var ids []id.JobID
	for range 3 {
		j := push(t, s, &job.Job{})
		ids = append(ids, j.ID)
		lease(t, s, owner, 1)
		clock.Advance(time.Second)
		if err := s.Complete(ctx, j.ID, owner); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[job.StateCompleted] != 2 {
		t.Errorf("completed = %d, want 2", counts[job.StateCompleted])
	}
	if _, err := s.Get(ctx, ids[0]); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("oldest completed job not trimmed: %v", err)
	}
	completed, err := s.List(ctx, job.StateCompleted, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(completed) != 2 || completed[0].ID != ids[2] {
		t.Errorf("List(completed) should be newest first, got %v", completed)
	}
}

func testConcurrentLease(t *testing.T, s job.Store, _ *Clock) {
	const total = 20
	for range total {
		push(t, s, &job.Job{})
	}

	var (
		mu   sync.Mutex
		seen = make(map[id.JobID]int)
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			owner := id.NewWorkerID()
			for {
				jobs, err := s.Lease(ctx, job.LeaseRequest{
					Queues: []string{"notifications"}, Max: 3, Owner: owner, TTL: time.Minute,
				})
				if err != nil {
					t.Errorf("Lease: %v", err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Errorf("leased %d distinct jobs, want %d", len(seen), total)
	}
	for jobID, n := range seen {
		if n != 1 {
			t.Errorf("job %s leased %d times", jobID, n)
		}
	}
}
