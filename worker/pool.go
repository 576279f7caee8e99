package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xraph/ripple/ext"
	"github.com/xraph/ripple/id"
	"github.com/xraph/ripple/job"
	"github.com/xraph/ripple/ratelimit"
)

// Pool leases jobs from the store and runs them through the Executor.
// At most concurrency jobs run at once, and the pool-wide rate limiter
// is consulted before every lease.
type Pool struct {
	store      job.Store
	executor   *Executor
	extensions *ext.Registry
	limiter    *ratelimit.Limiter
	slots      *semaphore.Weighted
	workerID   id.WorkerID
	logger     *slog.Logger

	concurrency       int
	queues            []string
	pollInterval      time.Duration
	leaseTTL          time.Duration
	heartbeatInterval time.Duration
	reclaimInterval   time.Duration
	drainTimeout      time.Duration
	abandonGrace      time.Duration

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	cancel   context.CancelFunc
	loops    sync.WaitGroup
	inflight sync.WaitGroup
	beatStop chan struct{}
	beatDone chan struct{}

	activeMu sync.Mutex
	active   map[id.JobID]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the maximum number of jobs running at once.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool leases from, in priority order.
func WithPoolQueues(queues ...string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithLimiter sets the pool-wide rate limiter.
func WithLimiter(l *ratelimit.Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// WithPollInterval sets how long the pool sleeps when no job is ready.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLeaseTTL sets how long a lease lasts without a heartbeat.
func WithLeaseTTL(d time.Duration) PoolOption {
	return func(p *Pool) { p.leaseTTL = d }
}

// WithHeartbeatInterval sets how often leases of running jobs are
// extended. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithReclaimInterval sets how often expired leases are reclaimed. A zero
// value disables the reclaim loop.
func WithReclaimInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.reclaimInterval = d }
}

// WithDrainTimeout bounds how long Stop waits for running jobs before
// cancelling them.
func WithDrainTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.drainTimeout = d }
}

// WithAbandonGrace bounds how long Stop waits for cancelled jobs to
// return and requeue themselves. Jobs still running after that are
// abandoned to lease expiry.
func WithAbandonGrace(d time.Duration) PoolOption {
	return func(p *Pool) { p.abandonGrace = d }
}

// WithWorkerID overrides the generated worker identity.
func WithWorkerID(wid id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = wid }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:             store,
		executor:          executor,
		extensions:        extensions,
		workerID:          id.NewWorkerID(),
		logger:            logger,
		concurrency:       2,
		queues:            []string{job.DefaultOptions().Queue},
		pollInterval:      time.Second,
		leaseTTL:          30 * time.Second,
		heartbeatInterval: 10 * time.Second,
		reclaimInterval:   15 * time.Second,
		drainTimeout:      25 * time.Second,
		abandonGrace:      2 * time.Second,
		active:            make(map[id.JobID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	p.slots = semaphore.NewWeighted(int64(p.concurrency))
	return p
}

// WorkerID returns the pool's lease owner identity.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Active returns the number of jobs currently running.
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

// Start launches the lease, heartbeat and reclaim loops. It returns
// immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.beatStop = make(chan struct{})
	p.beatDone = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Float64("rate", p.limiter.Rate()),
		slog.Any("queues", p.queues),
	)

	p.loops.Add(1)
	go p.leaseLoop(ctx)

	if p.reclaimInterval > 0 {
		p.loops.Add(1)
		go p.reclaimLoop(ctx)
	}

	// Heartbeats outlive the lease loop so draining jobs keep their leases.
	go p.heartbeatLoop()

	return nil
}

// Stop drains the pool. It stops leasing, waits for running jobs up to
// the drain timeout (or until ctx ends), cancels and requeues whatever is
// still running, then closes the store.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("active", p.Active()),
	)

	close(p.stopCh)
	p.cancel()
	p.loops.Wait()

	drainCtx, cancel := context.WithTimeout(ctx, p.drainTimeout)
	defer cancel()

	if waitGroup(drainCtx, &p.inflight) {
		p.logger.Info("worker pool drained")
	} else {
		p.logger.Warn("drain timed out, cancelling running jobs",
			slog.Int("active", p.Active()),
		)
		p.cancelActive()

		graceCtx, cancelGrace := context.WithTimeout(context.WithoutCancel(ctx), p.abandonGrace)
		defer cancelGrace()
		if !waitGroup(graceCtx, &p.inflight) {
			p.logger.Warn("abandoning jobs to lease expiry", slog.Int("active", p.Active()))
		}
	}

	close(p.beatStop)
	<-p.beatDone

	p.extensions.EmitShutdown(ctx)

	if err := p.store.Close(context.WithoutCancel(ctx)); err != nil {
		p.logger.Error("failed to close job store", slog.String("error", err.Error()))
		return err
	}
	p.logger.Info("worker pool stopped")
	return nil
}

// leaseLoop waits for free slots and rate tokens, then leases that many
// jobs and runs each in its own goroutine. Only leased jobs spend tokens.
func (p *Pool) leaseLoop(ctx context.Context) {
	defer p.loops.Done()

	for {
		if err := p.slots.Acquire(ctx, 1); err != nil {
			return
		}
		free := 1
		for free < p.concurrency && p.slots.TryAcquire(1) {
			free++
		}

		n, err := p.limiter.Wait(ctx, free)
		if err != nil {
			p.slots.Release(int64(free))
			return
		}
		if n < free {
			p.slots.Release(int64(free - n))
		}

		jobs, err := p.store.Lease(ctx, job.LeaseRequest{
			Queues: p.queues,
			Max:    n,
			Owner:  p.workerID,
			TTL:    p.leaseTTL,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("lease error", slog.String("error", err.Error()))
		}
		p.limiter.Spend(len(jobs))
		if unused := n - len(jobs); unused > 0 {
			p.slots.Release(int64(unused))
		}

		for _, j := range jobs {
			p.run(j)
		}

		if len(jobs) == 0 && !p.sleep() {
			return
		}
	}
}

// run executes one leased job. The job's context is cancelled only by a
// drain timeout.
func (p *Pool) run(j *job.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	p.track(j.ID, cancel)
	p.inflight.Add(1)

	go func() {
		defer p.inflight.Done()
		defer p.slots.Release(1)
		defer p.untrack(j.ID)
		defer cancel()

		if err := p.executor.Execute(ctx, j, p.workerID); err != nil {
			p.logger.Debug("job execution failed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", string(j.Type)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// heartbeatLoop periodically extends the leases of running jobs.
func (p *Pool) heartbeatLoop() {
	defer close(p.beatDone)
	if p.heartbeatInterval <= 0 {
		<-p.beatStop
		return
	}

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.beatStop:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]id.JobID, 0, len(p.active))
	for jobID := range p.active {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, jobID := range jobIDs {
		if err := p.store.Extend(context.Background(), jobID, p.workerID, p.leaseTTL); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reclaimLoop periodically returns jobs with expired leases to waiting.
// Any worker may reclaim any job; the store makes it atomic.
func (p *Pool) reclaimLoop(ctx context.Context) {
	defer p.loops.Done()

	ticker := time.NewTicker(p.reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reclaim(ctx)
		}
	}
}

func (p *Pool) reclaim(ctx context.Context) {
	ids, err := p.store.Reclaim(ctx, time.Now().UTC())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Error("reclaim error", slog.String("error", err.Error()))
		}
		return
	}
	for _, jobID := range ids {
		p.logger.Warn("reclaimed stalled job", slog.String("job_id", jobID.String()))
		p.extensions.EmitJobReclaimed(ctx, jobID)
	}
}

// sleep waits for the poll interval. It returns false when the pool is
// stopping.
func (p *Pool) sleep() bool {
	t := time.NewTimer(p.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.stopCh:
		return false
	}
}

func (p *Pool) track(jobID id.JobID, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(jobID id.JobID) {
	p.activeMu.Lock()
	delete(p.active, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.active {
		p.logger.Warn("cancelling running job", slog.String("job_id", jobID.String()))
		cancel()
	}
}

// waitGroup waits for wg or ctx. It reports whether wg finished.
func waitGroup(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
