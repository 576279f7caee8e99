// Package engine wires the ripple subsystems together from a
// [ripple.Config]. It sits above every subsystem package and below the
// binaries.
//
// The hook side runs inside the process that receives content mutations:
//
//	backend, err := engine.OpenBackend(ctx, cfg, logger)
//	pipe, err := engine.NewPipeline(cfg, backend.Store, contentStore,
//	    engine.WithLogger(logger),
//	    engine.WithRedis(backend.Redis),
//	)
//	pipe.Dispatcher.Handle(ctx, mutation)
//	defer pipe.Stop(ctx)
//
// The worker side leases and delivers notification jobs:
//
//	w, err := engine.NewWorker(cfg, backend.Store,
//	    engine.WithLogger(logger),
//	    engine.WithCloser(backend),
//	)
//	w.Start(ctx)
//	defer w.Stop(drainCtx)
//
// # Options
//
//   - [WithLogger]: structured logger for every component
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: append middleware to the execution chain
//   - [WithBackoff]: override the retry backoff strategy
//   - [WithSender]: override the mail sender derived from config
//   - [WithTargets]: add cache invalidation targets
//   - [WithRedis]: enable pub/sub revalidation on a Redis client
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
//   - [WithCloser]: resources released after shutdown
package engine
