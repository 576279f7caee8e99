package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/ripple"
	"github.com/xraph/ripple/backoff"
	"github.com/xraph/ripple/ext"
	"github.com/xraph/ripple/job"
	mw "github.com/xraph/ripple/middleware"
	"github.com/xraph/ripple/ratelimit"
	"github.com/xraph/ripple/worker"
)

// defaultAttemptTimeout bounds an attempt of a job without its own timeout.
const defaultAttemptTimeout = time.Minute

// Worker is the worker side: a pool delivering notification jobs and a
// monitor logging queue health.
type Worker struct {
	Pool       *worker.Pool
	Monitor    *worker.Monitor
	Registry   *job.Registry
	Extensions *ext.Registry
	Limiter    *ratelimit.Limiter

	store job.Store
	opts  *options
}

// NewWorker builds the worker side over store.
func NewWorker(cfg ripple.Config, store job.Store, opts ...Option) (*Worker, error) {
	if store == nil {
		return nil, ripple.ErrNoStore
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := worker.ParseSchedule(cfg.Worker.MonitorSchedule); err != nil {
		return nil, fmt.Errorf("%w: monitor schedule %q: %v", ripple.ErrInvalidConfig, cfg.Worker.MonitorSchedule, err)
	}

	o := newOptions(opts)
	logger := o.logger

	registry, err := NewRegistry(cfg, o.mailSender(cfg.Mail))
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{Rate: cfg.Worker.RateLimit, Burst: cfg.Worker.RateBurst})
	for _, typ := range registry.Types() {
		if perSecond := registry.Options(typ).RateLimit; perSecond > 0 {
			limiter.SetTypeLimit(typ, ratelimit.Config{Rate: perSecond})
		}
	}

	bo := o.bo
	if bo == nil {
		bo = backoff.NewExponentialWithJitter(cfg.Worker.BackoffInitial, cfg.Worker.BackoffMax)
	}

	tracing, metrics := mw.Tracing(), mw.Metrics()
	if o.tracerProvider != nil {
		tracing = mw.TracingWithTracer(o.tracerProvider.Tracer(instrumentationName))
	}
	if o.meterProvider != nil {
		metrics = mw.MetricsWithMeter(o.meterProvider.Meter(instrumentationName))
	}

	// recover → type limit → tracing → metrics → logging → timeout
	chain := []mw.Middleware{
		mw.Recover(logger),
		mw.TypeLimit(limiter),
		tracing,
		metrics,
		mw.Logging(logger),
		mw.Timeout(defaultAttemptTimeout),
	}
	chain = append(chain, o.mws...)

	extensions := o.extensionRegistry()
	executor := worker.NewExecutor(registry, extensions, store, bo, logger, chain...)

	pool := worker.NewPool(store, executor, extensions, logger,
		worker.WithPoolConcurrency(cfg.Worker.Concurrency),
		worker.WithPoolQueues(registry.Queues()...),
		worker.WithLimiter(limiter),
		worker.WithPollInterval(cfg.Worker.PollInterval),
		worker.WithLeaseTTL(cfg.Worker.LeaseTTL),
		worker.WithHeartbeatInterval(cfg.Worker.HeartbeatInterval),
		worker.WithReclaimInterval(cfg.Worker.ReclaimInterval),
		worker.WithDrainTimeout(cfg.Worker.DrainTimeout),
	)

	monitor := worker.NewMonitor(store, logger,
		worker.WithMonitorSchedule(cfg.Worker.MonitorSchedule),
	)

	return &Worker{
		Pool:       pool,
		Monitor:    monitor,
		Registry:   registry,
		Extensions: extensions,
		Limiter:    limiter,
		store:      store,
		opts:       o,
	}, nil
}

// Store returns the job store the pool leases from.
func (w *Worker) Store() job.Store { return w.store }

// Start launches the pool and the monitor. It returns immediately.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Pool.Start(ctx); err != nil {
		return fmt.Errorf("start pool: %w", err)
	}
	if err := w.Monitor.Start(ctx); err != nil {
		_ = w.Pool.Stop(ctx) //nolint:errcheck // reporting the start error
		return fmt.Errorf("start monitor: %w", err)
	}
	return nil
}

// Stop halts the monitor, drains the pool (which closes the store) and
// then releases resources registered with WithCloser.
func (w *Worker) Stop(ctx context.Context) error {
	var errs []error
	if err := w.Monitor.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop monitor: %w", err))
	}
	if err := w.Pool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop pool: %w", err))
	}
	if err := closeAll(w.opts.logger, w.opts.closers); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
