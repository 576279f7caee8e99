package worker_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/ripple/id"
	"github.com/xraph/ripple/job"
	"github.com/xraph/ripple/ratelimit"
	"github.com/xraph/ripple/worker"
)

func newTestPool(h *harness, opts ...worker.PoolOption) *worker.Pool {
	base := []worker.PoolOption{
		worker.WithPoolConcurrency(2),
		worker.WithPollInterval(10 * time.Millisecond),
		worker.WithPoolQueues("notifications"),
	}
	return worker.NewPool(h.store, h.executor, h.exts, slog.Default(), append(base, opts...)...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) counts(t *testing.T) job.Counts {
	t.Helper()
	c, err := h.store.Counts(context.Background())
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	return c
}

func TestPool_StartStop(t *testing.T) {
	h := newHarness(t)
	pool := newTestPool(h)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
	if h.tracker.shutdown.Load() != 1 {
		t.Errorf("shutdown events = %d, want 1", h.tracker.shutdown.Load())
	}
	if err := h.store.Ping(context.Background()); err == nil {
		t.Error("store should be closed after Stop")
	}
}

func TestPool_ProcessesJobs(t *testing.T) {
	h := newHarness(t)
	pool := newTestPool(h)

	var processed atomic.Int32
	job.RegisterDefinition(h.registry, job.NewDefinition(job.TypeListingApproved,
		func(context.Context, *job.Job, approvedPayload) error {
			processed.Add(1)
			return nil
		}))

	for range 5 {
		h.push(t, job.TypeListingApproved, 3)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer pool.Stop(context.Background()) //nolint:errcheck // test cleanup

	waitFor(t, 5*time.Second, func() bool { return h.counts(t)[job.StateCompleted] == 5 })
	if processed.Load() != 5 {
		t.Errorf("processed = %d, want 5", processed.Load())
	}
}

func TestPool_RespectsConcurrency(t *testing.T) {
	h := newHarness(t)
	pool := newTestPool(h, worker.WithPoolConcurrency(3))

	var running, peak atomic.Int32
	job.RegisterDefinition(h.registry, job.NewDefinition(job.TypeUserWelcome,
		func(context.Context, *job.Job, approvedPayload) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return nil
		}))

	for range 10 {
		h.push(t, job.TypeUserWelcome, 1)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer pool.Stop(context.Background()) //nolint:errcheck // test cleanup

	waitFor(t, 5*time.Second, func() bool { return h.counts(t)[job.StateCompleted] == 10 })
	if peak.Load() > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak.Load())
	}
}

func TestPool_RateLimited(t *testing.T) {
	h := newHarness(t)
	pool := newTestPool(h,
		worker.WithPoolConcurrency(5),
		worker.WithLimiter(ratelimit.New(ratelimit.Config{Rate: 20, Burst: 1})),
	)

	job.RegisterDefinition(h.registry, job.NewDefinition(job.TypeUserWelcome,
		func(context.Context, *job.Job, approvedPayload) error { return nil }))

	for range 5 {
		h.push(t, job.TypeUserWelcome, 1)
	}

	start := time.Now()
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer pool.Stop(context.Background()) //nolint:errcheck // test cleanup

	waitFor(t, 5*time.Second, func() bool { return h.counts(t)[job.StateCompleted] == 5 })

	// One token up front, then one every 50ms.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("5 jobs at 20/s finished in %v", elapsed)
	}
}

func TestPool_IdlePollsKeepRateTokens(t *testing.T) {
	h := newHarness(t)
	pool := newTestPool(h,
		worker.WithPoolConcurrency(3),
		worker.WithLimiter(ratelimit.New(ratelimit.Config{Rate: 0.5, Burst: 3})),
	)

	job.RegisterDefinition(h.registry, job.NewDefinition(job.TypeUserWelcome,
		func(context.Context, *job.Job, approvedPayload) error { return nil }))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer pool.Stop(context.Background()) //nolint:errcheck // test cleanup

	// Several empty polls at a 10ms interval.
	time.Sleep(100 * time.Millisecond)

	for range 3 {
		h.push(t, job.TypeUserWelcome, 1)
	}
	// The full burst is still there; a drained bucket would need 2s per job.
	waitFor(t, time.Second, func() bool { return h.counts(t)[job.StateCompleted] == 3 })
}

func TestPool_ReclaimsStalledJob(t *testing.T) {
	h := newHarness(t)

	job.RegisterDefinition(h.registry, job.NewDefinition(job.TypeReviewReceived,
		func(context.Context, *job.Job, approvedPayload) error { return nil }))

	pushed := h.push(t, job.TypeReviewReceived, 3)

	// A worker that leased the job and died.
	if _, err := h.store.Lease(context.Background(), job.LeaseRequest{
		Queues: []string{"notifications"}, Max: 1, Owner: id.NewWorkerID(), TTL: time.Millisecond,
	}); err != nil {
		t.Fatalf("lease: %v", err)
	}

	pool := newTestPool(h, worker.WithReclaimInterval(20*time.Millisecond))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer pool.Stop(context.Background()) //nolint:errcheck // test cleanup

	waitFor(t, 5*time.Second, func() bool { return h.get(t, pushed.ID).State == job.StateCompleted })

	got := h.get(t, pushed.ID)
	if got.StalledCount != 1 {
		t.Errorf("stalled count = %d, want 1", got.StalledCount)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (the stalled attempt is not counted)", got.Attempts)
	}
	if h.tracker.reclaimed.Load() != 1 {
		t.Errorf("reclaimed events = %d, want 1", h.tracker.reclaimed.Load())
	}
}

// blockingHandler registers a handler that blocks until release is closed
// or its context ends.
func blockingHandler(h *harness, release <-chan struct{}) {
	job.RegisterDefinition(h.registry, job.NewDefinition(job.TypeListingApproved,
		func(ctx context.Context, _ *job.Job, _ approvedPayload) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}))
}

func TestPool_DrainCompletesActiveJobs(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	blockingHandler(h, release)

	for range 7 {
		h.push(t, job.TypeListingApproved, 3)
	}

	pool := newTestPool(h, worker.WithDrainTimeout(5*time.Second))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return pool.Active() == 2 })

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	c := h.counts(t)
	if c[job.StateCompleted] != 2 || c[job.StateWaiting] != 5 || c[job.StateActive] != 0 {
		t.Fatalf("counts = %v, want 2 completed and 5 waiting", c)
	}
}

func TestPool_DrainTimeoutRequeuesActiveJobs(t *testing.T) {
	h := newHarness(t)
	blockingHandler(h, make(chan struct{}))

	for range 7 {
		h.push(t, job.TypeListingApproved, 3)
	}

	drain := 100 * time.Millisecond
	pool := newTestPool(h, worker.WithDrainTimeout(drain))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return pool.Active() == 2 })

	start := time.Now()
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("stop error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < drain {
		t.Errorf("Stop returned after %v, before the drain timeout", elapsed)
	}

	c := h.counts(t)
	if c[job.StateWaiting] != 7 || c[job.StateActive] != 0 {
		t.Fatalf("counts = %v, want all 7 waiting", c)
	}
	waiting, err := h.store.List(context.Background(), job.StateWaiting, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, j := range waiting {
		if j.Attempts != 0 {
			t.Errorf("job %s attempts = %d, want 0 after requeue", j.ID, j.Attempts)
		}
	}
}
