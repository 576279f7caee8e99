// Package coalesce batches repeated "recompute this record" signals into
// one recomputation per record per debounce window.
//
// A Coalescer owns a pending-key set and at most one armed timer. The
// first Schedule after a quiet period arms the timer; later calls in the
// same window only add their key. When the timer fires the pending set is
// swapped out under the mutex and every key is recomputed concurrently.
// A key is never recomputed twice at once: scheduled while its run is in
// flight, it stays pending and gets a fresh window when that run ends.
//
// Batches live only in memory. A crash between swap and write loses that
// batch; the next mutation of the same record schedules it again.
package coalesce

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/ripple/ext"
)

// Key identifies one coalescing unit, a parent record.
type Key struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (k Key) String() string { return k.Kind + "/" + k.ID }

// RecomputeFunc recomputes one key. It runs after the window closes.
type RecomputeFunc func(ctx context.Context, key Key) error

// Stats describes the coalescer state.
type Stats struct {
	Pending int
	Armed   bool
	// Arms counts timers armed since creation.
	Arms int64
	// Batches counts non-empty batches run since creation.
	Batches int64
}

// Coalescer is safe for concurrent use.
type Coalescer struct {
	recompute   RecomputeFunc
	window      time.Duration
	parallelism int
	timeout     time.Duration
	logger      *slog.Logger
	extensions  *ext.Registry

	mu       sync.Mutex
	pending  map[Key]struct{}
	running  map[Key]struct{}
	timer    *time.Timer
	gen      uint64
	stopped  bool
	arms     int64
	batches  int64
	inflight sync.WaitGroup
}

// Option configures a Coalescer.
type Option func(*Coalescer)

// WithWindow sets the debounce window. Defaults to 100ms.
func WithWindow(d time.Duration) Option {
	return func(c *Coalescer) { c.window = d }
}

// WithParallelism bounds concurrent recomputations within one batch.
// Defaults to 8.
func WithParallelism(n int) Option {
	return func(c *Coalescer) { c.parallelism = n }
}

// WithTimeout bounds each key's recomputation. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *Coalescer) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coalescer) { c.logger = l }
}

// WithExtensions sets the registry notified after each recomputation.
func WithExtensions(r *ext.Registry) Option {
	return func(c *Coalescer) { c.extensions = r }
}

// New creates a Coalescer that calls recompute for each key.
func New(recompute RecomputeFunc, opts ...Option) *Coalescer {
	c := &Coalescer{
		recompute:   recompute,
		window:      100 * time.Millisecond,
		parallelism: 8,
		timeout:     10 * time.Second,
		logger:      slog.Default(),
		pending:     make(map[Key]struct{}),
		running:     make(map[Key]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Schedule adds key to the pending set and arms the timer if it is not
// armed. It never blocks on recomputation.
func (c *Coalescer) Schedule(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		c.logger.Warn("recompute dropped, coalescer stopped", slog.String("key", key.String()))
		return
	}
	c.pending[key] = struct{}{}
	c.arm()
}

// arm starts a window unless one is open. Callers hold c.mu.
func (c *Coalescer) arm() {
	if c.timer != nil {
		return
	}
	c.gen++
	gen := c.gen
	c.arms++
	c.timer = time.AfterFunc(c.window, func() { c.fire(gen) })
}

// fire runs the batch of the timer armed as generation gen. A timer
// stopped by Flush or Stop after it already fired finds a newer
// generation and does nothing.
func (c *Coalescer) fire(gen uint64) {
	c.mu.Lock()
	if c.timer == nil || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	batch := c.swap()
	c.mu.Unlock()

	defer c.inflight.Done()
	c.run(context.Background(), batch)
}

// swap takes the pending keys that are not running and registers the
// batch as in flight. Running keys stay pending until their run ends.
// Callers hold c.mu.
func (c *Coalescer) swap() []Key {
	batch := make([]Key, 0, len(c.pending))
	for k := range c.pending {
		if _, busy := c.running[k]; busy {
			continue
		}
		batch = append(batch, k)
		c.running[k] = struct{}{}
		delete(c.pending, k)
	}
	if len(batch) > 0 {
		c.batches++
	}
	c.inflight.Add(1)
	return batch
}

// disarm stops the armed timer. Callers hold c.mu.
func (c *Coalescer) disarm() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Flush recomputes every pending key now and waits for the batch. Keys
// whose recomputation is already running are left to the next window.
func (c *Coalescer) Flush(ctx context.Context) {
	c.mu.Lock()
	c.disarm()
	batch := c.swap()
	c.mu.Unlock()

	defer c.inflight.Done()
	c.run(ctx, batch)
}

// Stop disarms the timer, recomputes what is still pending, and waits for
// in-flight batches or ctx. Schedule calls after Stop are dropped.
func (c *Coalescer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.disarm()
	batch := c.swap()
	c.mu.Unlock()

	go func() {
		defer c.inflight.Done()
		c.run(context.WithoutCancel(ctx), batch)
	}()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the pending keys, sorted.
func (c *Coalescer) Pending() []Key {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.pending))
	for k := range c.pending {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Stats returns a snapshot of the coalescer state.
func (c *Coalescer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Pending: len(c.pending),
		Armed:   c.timer != nil,
		Arms:    c.arms,
		Batches: c.batches,
	}
}

// run recomputes each key of batch concurrently. One key's failure never
// stops the others.
func (c *Coalescer) run(ctx context.Context, batch []Key) {
	if len(batch) == 0 {
		return
	}
	c.logger.Debug("recomputing batch", slog.Int("keys", len(batch)))

	var g errgroup.Group
	g.SetLimit(c.parallelism)
	for _, key := range batch {
		g.Go(func() error {
			for {
				c.recomputeKey(ctx, key)
				if !c.finish(key) {
					return nil
				}
			}
		})
	}
	_ = g.Wait() //nolint:errcheck // every goroutine returns nil
}

// finish releases key after its run. A key scheduled again meanwhile gets
// a new window, or, once stopped, reports true so the caller reruns it.
func (c *Coalescer) finish(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.running, key)
	if _, again := c.pending[key]; !again {
		return false
	}
	if c.stopped {
		delete(c.pending, key)
		c.running[key] = struct{}{}
		return true
	}
	c.arm()
	return false
}

func (c *Coalescer) recomputeKey(ctx context.Context, key Key) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.safeRecompute(ctx, key)
	if err != nil {
		c.logger.Error("recompute failed",
			slog.String("kind", key.Kind),
			slog.String("id", key.ID),
			slog.String("error", err.Error()),
		)
	} else {
		c.logger.Debug("recomputed",
			slog.String("kind", key.Kind),
			slog.String("id", key.ID),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
	c.extensions.EmitAggregateRecalculated(ctx, key.Kind, key.ID, err)
}

func (c *Coalescer) safeRecompute(ctx context.Context, key Key) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recomputing %s: %v", key, r)
		}
	}()
	return c.recompute(ctx, key)
}
