// Package aggregate recomputes the review statistics of a listing from
// fresh reads of the content store.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/xraph/ripple/coalesce"
	"github.com/xraph/ripple/content"
)

// Stats are the derived statistics of one listing.
type Stats struct {
	Count   int
	Average float64
}

// Compute returns the count and mean of ratings. The mean is rounded to
// two decimals and is 0 when there are no ratings.
func Compute(ratings []float64) Stats {
	if len(ratings) == 0 {
		return Stats{}
	}
	var sum float64
	for _, r := range ratings {
		sum += r
	}
	return Stats{
		Count:   len(ratings),
		Average: math.Round(sum/float64(len(ratings))*100) / 100,
	}
}

// UpdatedFunc is called after a successful write-back.
type UpdatedFunc func(ctx context.Context, key coalesce.Key, stats Stats)

// Recalculator recomputes aggregates for coalesced keys.
type Recalculator struct {
	store     content.Store
	onUpdated UpdatedFunc
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Recalculator.
type Option func(*Recalculator)

// WithOnUpdated sets the callback run after each successful write, used
// to invalidate cache tags of the listing.
func WithOnUpdated(fn UpdatedFunc) Option {
	return func(r *Recalculator) { r.onUpdated = fn }
}

// WithClock overrides the time source for the ratingsUpdatedAt stamp.
func WithClock(now func() time.Time) Option {
	return func(r *Recalculator) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recalculator) { r.logger = l }
}

// New creates a Recalculator over store.
func New(store content.Store, opts ...Option) *Recalculator {
	r := &Recalculator{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recompute reads every approved review of key, computes Stats and
// writes them back as a recalculation. It matches coalesce.RecomputeFunc.
func (r *Recalculator) Recompute(ctx context.Context, key coalesce.Key) error {
	if key.ID == "" {
		return fmt.Errorf("ripple/aggregate: empty id for %s", key.Kind)
	}

	ratings, err := r.store.ApprovedRatings(ctx, key.Kind, key.ID)
	if err != nil {
		return fmt.Errorf("ripple/aggregate: read %s: %w", key, err)
	}

	stats := Compute(ratings)
	agg := content.Aggregate{Count: stats.Count, Average: stats.Average, UpdatedAt: r.now()}
	if err := r.store.WriteAggregate(ctx, key.Kind, key.ID, agg); err != nil {
		return fmt.Errorf("ripple/aggregate: write %s: %w", key, err)
	}

	r.logger.Info("aggregate recalculated",
		slog.String("kind", key.Kind),
		slog.String("id", key.ID),
		slog.Int("count", stats.Count),
		slog.Float64("average", stats.Average),
	)

	if r.onUpdated != nil {
		r.onUpdated(ctx, key, stats)
	}
	return nil
}
