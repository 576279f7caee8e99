package redis

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/ripple/job"
)

var _ job.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source for RunAt and lease expiry. All
// workers sharing a Redis should use the same clock source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithKeepCompleted sets how many completed jobs are archived per queue.
func WithKeepCompleted(n int) Option {
	return func(s *Store) { s.keepCompleted = n }
}

// Store implements job.Store backed by Redis.
type Store struct {
	client        goredis.UniversalClient
	logger        *slog.Logger
	now           func() time.Time
	keepCompleted int
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:        client,
		logger:        slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
		keepCompleted: 1000,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close(_ context.Context) error { return nil }
