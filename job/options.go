package job

import "time"

// Options configures per-type behavior such as attempts, queue, and priority.
type Options struct {
	// MaxAttempts bounds executions before the job moves to failed.
	MaxAttempts int

	// Queue is the queue name jobs of this type are pushed to.
	Queue string

	// Priority determines lease ordering. Higher values are leased first.
	Priority int

	// Timeout is the maximum duration a single attempt may run.
	Timeout time.Duration

	// RunAt schedules the job for future execution. Zero means immediate.
	RunAt time.Time

	// RateLimit caps executions of this type per second across the pool.
	// Zero means only the pool-wide limit applies.
	RateLimit float64
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Queue:       "notifications",
		Timeout:     time.Minute,
	}
}

// Option is a functional option for configuring a job definition.
type Option func(*Options)

// WithMaxAttempts sets the maximum number of executions.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithPriority sets the job priority. Higher values are processed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the maximum execution duration for one attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithRateLimit caps how many jobs of this type run per second.
func WithRateLimit(perSecond float64) Option {
	return func(o *Options) {
		o.RateLimit = perSecond
	}
}
