// Package observability provides an OpenTelemetry metrics extension for
// the pipeline. MetricsExtension implements the ext lifecycle hooks and
// records counters for job enqueue, completion, retry, failure and
// reclaim, plus cache invalidation and aggregate recalculation outcomes.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
