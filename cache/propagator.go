// Package cache propagates cache-tag invalidations to the rendering layer
// and the edge network without blocking the caller.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/ripple/ext"
)

// Target is one destination for invalidations, such as the site's
// revalidation endpoint or an edge purge API.
type Target interface {
	Name() string
	Invalidate(ctx context.Context, tags Tags) error
}

// Propagator fans a tag set out to every target. Each target call runs
// in its own goroutine with its own timeout; failures are logged and
// never returned to the caller.
type Propagator struct {
	targets    []Target
	timeout    time.Duration
	logger     *slog.Logger
	extensions *ext.Registry

	wg sync.WaitGroup
}

// Option configures a Propagator.
type Option func(*Propagator)

// WithTimeout bounds each target call. Defaults to 5s.
func WithTimeout(d time.Duration) Option {
	return func(p *Propagator) { p.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Propagator) { p.logger = l }
}

// WithExtensions sets the registry notified after each target call.
func WithExtensions(r *ext.Registry) Option {
	return func(p *Propagator) { p.extensions = r }
}

// NewPropagator creates a Propagator over targets.
func NewPropagator(targets []Target, opts ...Option) *Propagator {
	p := &Propagator{
		targets: targets,
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Propagate starts one invalidation per target and returns immediately.
// The calls outlive ctx's cancellation but keep its values.
func (p *Propagator) Propagate(ctx context.Context, tags Tags) {
	if tags.Empty() {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, target := range p.targets {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			tctx, cancel := context.WithTimeout(base, p.timeout)
			defer cancel()
			p.complete(tctx, target.Name(), tags, p.invalidate(tctx, target, tags))
		}()
	}
}

func (p *Propagator) invalidate(ctx context.Context, target Target, tags Tags) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in cache target %s: %v", target.Name(), r)
		}
	}()
	return target.Invalidate(ctx, tags)
}

// complete is the per-call completion callback.
func (p *Propagator) complete(ctx context.Context, target string, tags Tags, err error) {
	if err != nil {
		p.logger.Warn("cache invalidation failed",
			slog.String("target", target),
			slog.Any("tags", []string(tags)),
			slog.String("error", err.Error()),
		)
	} else {
		p.logger.Debug("cache invalidated",
			slog.String("target", target),
			slog.Int("tags", len(tags)),
		)
	}
	p.extensions.EmitCacheInvalidated(ctx, target, tags, err)
}

// Wait blocks until every started call finishes or ctx ends.
func (p *Propagator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
