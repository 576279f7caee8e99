// Package ratelimit throttles how fast the worker pool starts jobs. A
// pool-wide token bucket gates leasing; optional per-type buckets gate
// execution of individual job types.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/ripple/job"
)

// Config defines a token bucket. A zero Rate disables the bucket.
type Config struct {
	// Rate is the sustained number of jobs per second.
	Rate float64

	// Burst is the bucket size. Defaults to 1 when Rate is set.
	Burst int
}

func (c Config) limiter() *rate.Limiter {
	if c.Rate <= 0 {
		return nil
	}
	burst := c.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.Rate), burst)
}

// Limiter is safe for concurrent use. The zero value and a nil *Limiter
// allow everything.
type Limiter struct {
	pool *rate.Limiter

	mu    sync.Mutex
	types map[job.Type]*rate.Limiter
}

// New creates a limiter with the given pool-wide bucket.
func New(pool Config) *Limiter {
	return &Limiter{
		pool:  pool.limiter(),
		types: make(map[job.Type]*rate.Limiter),
	}
}

// SetTypeLimit configures (or replaces) the bucket for one job type.
func (l *Limiter) SetTypeLimit(typ job.Type, cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.types == nil {
		l.types = make(map[job.Type]*rate.Limiter)
	}
	if lim := cfg.limiter(); lim != nil {
		l.types[typ] = lim
	} else {
		delete(l.types, typ)
	}
}

// Wait blocks until the pool bucket holds at least one token and returns
// how many whole tokens are available, up to limit. Nothing is consumed:
// the caller reports what it actually started through Spend, so a poll
// that finds no work costs no tokens.
func (l *Limiter) Wait(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	if l == nil || l.pool == nil {
		return limit, nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		tokens := l.pool.Tokens()
		if tokens >= 1 {
			return min(int(tokens), limit), nil
		}

		delay := time.Duration((1 - tokens) / float64(l.pool.Limit()) * float64(time.Second))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
}

// Spend takes n tokens from the pool bucket. The bucket may go into debt
// when another caller spent concurrently; the next Wait then blocks until
// it is repaid.
func (l *Limiter) Spend(n int) {
	if n <= 0 || l == nil || l.pool == nil {
		return
	}
	now := time.Now()
	for n > 0 {
		k := min(n, l.pool.Burst())
		l.pool.ReserveN(now, k)
		n -= k
	}
}

// WaitType blocks until the bucket for typ has a token. Types without a
// bucket pass immediately.
func (l *Limiter) WaitType(ctx context.Context, typ job.Type) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	lim := l.types[typ]
	l.mu.Unlock()
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

// Rate returns the pool-wide rate in jobs per second, or zero when
// unlimited.
func (l *Limiter) Rate() float64 {
	if l == nil || l.pool == nil {
		return 0
	}
	return float64(l.pool.Limit())
}
