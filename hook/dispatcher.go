package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/ripple/cache"
	"github.com/xraph/ripple/coalesce"
	"github.com/xraph/ripple/notify"
)

// Propagator receives cache tags. Propagate must not block.
type Propagator interface {
	Propagate(ctx context.Context, tags cache.Tags)
}

// Scheduler receives aggregate recompute keys. Schedule must not block.
type Scheduler interface {
	Schedule(key coalesce.Key)
}

// Enqueuer receives notifications. Enqueue returns within its own
// timeout and reports failure through an empty Result.
type Enqueuer interface {
	Enqueue(ctx context.Context, n notify.Notification) notify.Result
}

// Dispatcher is the content store's after-change hook. Any of its
// collaborators may be nil, which drops that kind of side effect.
type Dispatcher struct {
	rules      Rules
	propagator Propagator
	scheduler  Scheduler
	enqueuer   Enqueuer
	logger     *slog.Logger

	contacts      Contacts
	lookupTimeout time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRules overrides DefaultRules.
func WithRules(r Rules) Option {
	return func(d *Dispatcher) { d.rules = r }
}

// WithLookupTimeout bounds the owner lookups of one notification.
// Defaults to 2s.
func WithLookupTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.lookupTimeout = timeout }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(p Propagator, s Scheduler, e Enqueuer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		rules:      DefaultRules(),
		propagator: p,
		scheduler:  s,
		enqueuer:   e,
		logger:     slog.Default(),

		lookupTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle decides and dispatches the side effects of m and returns the
// decision. It never fails: a decision error is logged and treated as no
// side effects. Notifications whose recipient cannot be resolved are
// left out of the returned decision.
func (d *Dispatcher) Handle(ctx context.Context, m Mutation) Decision {
	decision, err := d.rules.Decide(m)
	if err != nil {
		d.logger.Error("hook decision failed, no side effects",
			slog.String("collection", m.Collection),
			slog.String("operation", string(m.Operation)),
			slog.String("doc_id", docID(m)),
			slog.Bool("recalculating", m.Recalculating),
			slog.String("error", err.Error()),
		)
		return Decision{}
	}

	if decision.Skip {
		d.logger.Debug("hook skipped, counter fields only",
			slog.String("collection", m.Collection),
			slog.String("doc_id", docID(m)),
			slog.Any("changed", decision.Changed),
		)
		return decision
	}

	if !decision.Tags.Empty() && d.propagator != nil {
		d.propagator.Propagate(ctx, decision.Tags)
	}
	if d.scheduler != nil {
		for _, key := range decision.Recompute {
			d.scheduler.Schedule(key)
		}
	}
	decision.Notifications = d.recipients(ctx, decision.Notifications)
	if d.enqueuer != nil {
		for _, n := range decision.Notifications {
			// Failures are logged by the enqueuer; each notification
			// stands alone.
			d.enqueuer.Enqueue(ctx, n)
		}
	}

	if !decision.Empty() {
		d.logger.Debug("hook dispatched",
			slog.String("collection", m.Collection),
			slog.String("operation", string(m.Operation)),
			slog.String("doc_id", docID(m)),
			slog.Int("tags", len(decision.Tags)),
			slog.Int("recompute", len(decision.Recompute)),
			slog.Int("notifications", len(decision.Notifications)),
		)
	}
	return decision
}

func docID(m Mutation) string {
	if id := m.Doc.ID(); id != "" {
		return id
	}
	return m.Previous.ID()
}
