// Package ripple runs the side effects of content mutations for a listings
// marketplace: cache invalidation, debounced aggregate recalculation, and
// durable notification jobs.
//
// The content store calls a [hook.Dispatcher] after every committed write.
// The dispatcher diffs the document, decides which side effects apply, and
// hands them off without blocking the write:
//
//	mutation → hook.Dispatcher
//	         ├─ cache.Propagator   (fire-and-forget tag invalidation)
//	         ├─ coalesce.Coalescer (debounced aggregate recompute)
//	         └─ notify.Enqueuer    → job.Store → worker.Pool
//
// # Quick Start
//
//	cfg, err := ripple.LoadFromEnv()
//	backend, err := engine.OpenBackend(ctx, cfg, logger)
//	pipe, err := engine.NewPipeline(cfg, backend.Store, contents)
//	pipe.Dispatcher.Handle(ctx, hook.Mutation{...})
//
// The worker side runs separately:
//
//	w, err := engine.NewWorker(cfg, backend.Store, engine.WithCloser(backend))
//	w.Start(ctx)
//	defer w.Stop(drainCtx)
//
// Job IDs are prefixed, K-sortable identifiers (see package id).
package ripple
