package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/ripple"
	"github.com/xraph/ripple/aggregate"
	"github.com/xraph/ripple/cache"
	"github.com/xraph/ripple/coalesce"
	"github.com/xraph/ripple/content"
	"github.com/xraph/ripple/ext"
	"github.com/xraph/ripple/hook"
	"github.com/xraph/ripple/job"
	"github.com/xraph/ripple/notify"
)

// Pipeline is the hook side: it turns content mutations into cache
// invalidations, aggregate recalculations and notification jobs.
type Pipeline struct {
	Dispatcher   *hook.Dispatcher
	Propagator   *cache.Propagator
	Coalescer    *coalesce.Coalescer
	Recalculator *aggregate.Recalculator
	Enqueuer     *notify.Enqueuer
	Registry     *job.Registry
	Extensions   *ext.Registry

	store job.Store
	opts  *options
}

// NewPipeline builds the hook side over a job store and the content
// store aggregates are read from and written to.
func NewPipeline(cfg ripple.Config, store job.Store, contents content.Store, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, ripple.ErrNoStore
	}
	if contents == nil {
		return nil, fmt.Errorf("%w: no content store", ripple.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := newOptions(opts)
	logger := o.logger

	// The pipeline only produces jobs; the sender is never called here.
	registry, err := NewRegistry(cfg, o.mailSender(cfg.Mail))
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Registry:   registry,
		Extensions: o.extensionRegistry(),
		store:      store,
		opts:       o,
	}

	p.Propagator = cache.NewPropagator(o.cacheTargets(cfg.Cache),
		cache.WithTimeout(cfg.Cache.Timeout),
		cache.WithLogger(logger),
		cache.WithExtensions(p.Extensions),
	)

	p.Recalculator = aggregate.New(contents,
		aggregate.WithLogger(logger),
		aggregate.WithOnUpdated(func(ctx context.Context, key coalesce.Key, _ aggregate.Stats) {
			p.Propagator.Propagate(ctx, cache.NewTags(cache.Reviews(key.ID)))
		}),
	)

	p.Coalescer = coalesce.New(p.Recalculator.Recompute,
		coalesce.WithWindow(cfg.Coalesce.Window),
		coalesce.WithLogger(logger),
		coalesce.WithExtensions(p.Extensions),
	)

	p.Enqueuer = notify.NewEnqueuer(store, registry,
		notify.WithTimeout(cfg.Enqueue.Timeout),
		notify.WithLogger(logger),
		notify.WithExtensions(p.Extensions),
	)

	p.Dispatcher = hook.NewDispatcher(p.Propagator, p.Coalescer, p.Enqueuer,
		hook.WithContacts(contents),
		hook.WithLogger(logger),
	)

	logger.Info("hook pipeline ready",
		slog.String("tier", string(cfg.Tier)),
		slog.Duration("coalesce_window", cfg.Coalesce.Window),
		slog.String("queue", cfg.Queue.Name),
	)
	return p, nil
}

// Store returns the job store notifications are pushed to.
func (p *Pipeline) Store() job.Store { return p.store }

// Stop runs pending recalculations, waits for in-flight invalidations and
// releases resources registered with WithCloser. The job store itself is
// not closed; it belongs to the caller.
func (p *Pipeline) Stop(ctx context.Context) error {
	var errs []error
	if err := p.Coalescer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop coalescer: %w", err))
	}
	if err := p.Propagator.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for cache invalidations: %w", err))
	}
	if err := closeAll(p.opts.logger, p.opts.closers); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
