package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type; it must be encodable by the registry's Codec.
type Definition[T any] struct {
	Type Type

	// Handler processes the decoded payload. The *Job carries attempt
	// counters and the idempotency key.
	Handler func(ctx context.Context, j *Job, payload T) error

	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](typ Type, handler func(ctx context.Context, j *Job, payload T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Type:    typ,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
