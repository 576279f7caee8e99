package job

import (
	"context"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased job handler that accepts the encoded payload.
// The typed Definition[T] is converted to a HandlerFunc at registration
// time by closing over the codec and the typed handler.
type HandlerFunc func(ctx context.Context, j *Job) error

type entry struct {
	handler HandlerFunc
	opts    Options
}

// Registry maps job types to handlers and per-type options.
// It is safe for concurrent use.
type Registry struct {
	codec Codec

	mu      sync.RWMutex
	entries map[Type]entry
}

// NewRegistry creates an empty registry using codec for payloads. A nil
// codec means JSON.
func NewRegistry(codec Codec) *Registry {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Registry{
		codec:   codec,
		entries: make(map[Type]entry),
	}
}

// Codec returns the payload codec shared by producers and handlers.
func (r *Registry) Codec() Codec { return r.codec }

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that decodes the payload into T before calling
// the typed handler. A payload that cannot be decoded will never succeed,
// so the decode error is permanent.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	codec := r.codec
	handler := func(ctx context.Context, j *Job) error {
		var t T
		if len(j.Payload) > 0 {
			if err := codec.Unmarshal(j.Payload, &t); err != nil {
				return Permanent(fmt.Errorf("decode payload for job %q: %w", def.Type, err))
			}
		}
		return def.Handler(ctx, j, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Type] = entry{handler: handler, opts: def.Opts}
}

// Get returns the handler for the given job type.
func (r *Registry) Get(typ Type) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[typ]
	return e.handler, ok
}

// Options returns the options registered for typ, or DefaultOptions when
// the type has no definition.
func (r *Registry) Options(typ Type) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[typ]; ok {
		return e.opts
	}
	return DefaultOptions()
}

// Types returns all registered job types.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	return types
}

// Queues returns the distinct queues registered definitions push to.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var queues []string
	for _, e := range r.entries {
		if _, ok := seen[e.opts.Queue]; ok {
			continue
		}
		seen[e.opts.Queue] = struct{}{}
		queues = append(queues, e.opts.Queue)
	}
	return queues
}
