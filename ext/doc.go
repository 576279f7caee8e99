// Package ext defines the extension system.
//
// Extensions are notified of lifecycle events and can react to them by
// recording metrics or writing audit logs. Each lifecycle hook is a
// separate interface so extensions opt in only to the events they care
// about.
//
// # Implementing an Extension
//
//	type SlowJobs struct{ log *slog.Logger }
//
//	func (e *SlowJobs) Name() string { return "slow-jobs" }
//
//	func (e *SlowJobs) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    if elapsed > 5*time.Second {
//	        e.log.Warn("slow job", slog.String("job_id", j.ID.String()))
//	    }
//	    return nil
//	}
//
// # Hooks
//
//   - [JobEnqueued], [JobStarted], [JobCompleted], [JobRetrying],
//     [JobFailed], [JobReclaimed]: job queue lifecycle
//   - [CacheInvalidated]: one invalidation target finished
//   - [AggregateRecalculated]: one coalesced recomputation finished
//   - [Shutdown]: the worker is draining
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never interrupt the pipeline.
package ext
