// Package middleware provides composable middleware for job execution.
//
// A [Middleware] wraps a job handler. Middleware are composed with [Chain]
// and applied around every attempt; the first middleware in the list is
// the outermost wrapper. The worker uses:
//
//	middleware.Chain(
//	    middleware.Recover(logger),
//	    middleware.TypeLimit(limiter),
//	    middleware.Tracing(),
//	    middleware.Metrics(),
//	    middleware.Logging(logger),
//	    middleware.Timeout(time.Minute),
//	)
//
// # Built-in Middleware
//
//   - [Recover]: converts panics into retryable errors
//   - [TypeLimit]: waits on the per-type token bucket
//   - [Tracing]: wraps the attempt in an OpenTelemetry span
//   - [Metrics]: records attempt duration and outcome
//   - [Logging]: logs job type, attempt, duration, and outcome
//   - [Timeout]: cancels the attempt context after a deadline
package middleware
