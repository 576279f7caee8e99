package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/xraph/ripple"
	"github.com/xraph/ripple/content"
	contentmem "github.com/xraph/ripple/content/memory"
	"github.com/xraph/ripple/engine"
	"github.com/xraph/ripple/hook"
	"github.com/xraph/ripple/job"
	"github.com/xraph/ripple/mail"
	"github.com/xraph/ripple/store/memory"
	redisstore "github.com/xraph/ripple/store/redis"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (s *recordingSender) Send(_ context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) messages() []mail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

type closer struct{ closed atomic.Int32 }

func (c *closer) Close() error {
	c.closed.Add(1)
	return nil
}

func testConfig() ripple.Config {
	cfg := ripple.DefaultConfig()
	cfg.Worker.RateLimit = 0
	cfg.Worker.PollInterval = 10 * time.Millisecond
	cfg.Worker.DrainTimeout = time.Second
	cfg.Worker.MonitorSchedule = "@every 1h"
	cfg.Coalesce.Window = 20 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngine_UserApprovalSendsWelcomeEmail(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	store := memory.New()
	sender := &recordingSender{}

	pipe, err := engine.NewPipeline(cfg, store, contentmem.New())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	w, err := engine.NewWorker(cfg, store, engine.WithSender(sender))
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	decision := pipe.Dispatcher.Handle(ctx, hook.Mutation{
		Collection: content.CollectionUsers,
		Operation:  hook.OpUpdate,
		Previous:   content.Doc{"id": "u1", "email": "ana@example.com", "status": "pending"},
		Doc:        content.Doc{"id": "u1", "email": "ana@example.com", "status": "approved", "name": "Ana"},
	})
	if len(decision.Notifications) != 1 {
		t.Fatalf("notifications = %d, want 1", len(decision.Notifications))
	}

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return len(sender.messages()) == 1 })

	msg := sender.messages()[0]
	if msg.To != "ana@example.com" || msg.Template != "user-welcome" {
		t.Fatalf("message = %+v", msg)
	}
	if msg.IdempotencyKey != "user.welcome:users:u1:approved" {
		t.Fatalf("idempotency key = %q", msg.IdempotencyKey)
	}

	waitFor(t, func() bool {
		counts, err := store.Counts(ctx)
		return err == nil && counts[job.StateCompleted] == 1
	})

	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := pipe.Stop(ctx); err != nil {
		t.Fatalf("pipeline Stop: %v", err)
	}
}

func TestEngine_ReviewRecalculatesAndInvalidates(t *testing.T) {
	ctx := context.Background()

	var (
		mu   sync.Mutex
		tags []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Tags []string `json:"tags"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // asserted through tags
		mu.Lock()
		tags = append(tags, body.Tags...)
		mu.Unlock()
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Cache.RevalidateURL = srv.URL

	contents := contentmem.New()
	contents.Put(ctx, content.CollectionLocations, content.Doc{"id": "loc-1", "status": "approved", "slug": "loft"})
	contents.Put(ctx, content.CollectionReviews, content.Doc{"id": "r1", "status": "approved", "rating": 2, "entity": "loc-1"})

	pipe, err := engine.NewPipeline(cfg, memory.New(), contents)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	contents.Observe(func(ctx context.Context, c contentmem.Change) {
		pipe.Dispatcher.Handle(ctx, hook.Mutation{
			Collection:    c.Collection,
			Operation:     hook.Operation(c.Operation),
			Doc:           c.Doc,
			Previous:      c.Previous,
			Recalculating: c.Recalculating,
		})
	})

	contents.Put(ctx, content.CollectionReviews, content.Doc{"id": "r2", "status": "approved", "rating": 4, "entity": "loc-1"})

	// Stop runs the pending recalculation and waits for invalidations.
	if err := pipe.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	doc, err := contents.Get(ctx, content.CollectionLocations, "loc-1")
	if err != nil {
		t.Fatal(err)
	}
	if doc[content.FieldReviewCount] != 2 || doc[content.FieldAverageRating] != 3.0 {
		t.Fatalf("aggregate = %v / %v, want 2 / 3", doc[content.FieldReviewCount], doc[content.FieldAverageRating])
	}

	mu.Lock()
	defer mu.Unlock()
	n := 0
	for _, tag := range tags {
		if tag == "reviews:loc-1" {
			n++
		}
	}
	if n != 2 {
		t.Fatalf("reviews:loc-1 invalidated %d times, want 2 (hook and write-back): %v", n, tags)
	}
}

func TestNewPipeline_Errors(t *testing.T) {
	cfg := testConfig()

	if _, err := engine.NewPipeline(cfg, nil, contentmem.New()); !errors.Is(err, ripple.ErrNoStore) {
		t.Fatalf("nil store: err = %v", err)
	}
	if _, err := engine.NewPipeline(cfg, memory.New(), nil); !errors.Is(err, ripple.ErrInvalidConfig) {
		t.Fatalf("nil content store: err = %v", err)
	}

	bad := cfg
	bad.Queue.Codec = "xml"
	if _, err := engine.NewPipeline(bad, memory.New(), contentmem.New()); !errors.Is(err, ripple.ErrInvalidConfig) {
		t.Fatalf("bad codec: err = %v", err)
	}
}

func TestNewWorker_Errors(t *testing.T) {
	cfg := testConfig()
	if _, err := engine.NewWorker(cfg, nil); !errors.Is(err, ripple.ErrNoStore) {
		t.Fatalf("nil store: err = %v", err)
	}

	cfg.Worker.MonitorSchedule = "every now and then"
	if _, err := engine.NewWorker(cfg, memory.New()); !errors.Is(err, ripple.ErrInvalidConfig) {
		t.Fatalf("bad schedule: err = %v", err)
	}
}

func TestWorker_StopClosesResources(t *testing.T) {
	ctx := context.Background()
	c := &closer{}
	w, err := engine.NewWorker(testConfig(), memory.New(), engine.WithCloser(c))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.closed.Load() != 1 {
		t.Fatalf("closer called %d times, want 1", c.closed.Load())
	}
	if err := w.Store().Ping(ctx); err == nil {
		t.Fatal("store still open after Stop")
	}
}

func TestNewRegistry_UsesConfiguredQueueAndAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.Queue.Name = "mail"
	cfg.Queue.MaxAttempts = 7
	cfg.Queue.Codec = "msgpack"

	reg, err := engine.NewRegistry(cfg, &recordingSender{})
	if err != nil {
		t.Fatal(err)
	}
	if reg.Codec().Name() != "msgpack" {
		t.Fatalf("codec = %s", reg.Codec().Name())
	}
	for _, typ := range []job.Type{job.TypeUserWelcome, job.TypeListingApproved, job.TypeReviewReceived} {
		opts := reg.Options(typ)
		if opts.Queue != "mail" || opts.MaxAttempts != 7 {
			t.Errorf("%s options = %+v", typ, opts)
		}
	}
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := testConfig()
		cfg.Redis.URL = "memory://"
		b, err := engine.OpenBackend(ctx, cfg, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := b.Store.(*memory.Store); !ok || b.Redis != nil {
			t.Fatalf("backend = %T redis=%v", b.Store, b.Redis)
		}
		if err := b.Close(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig()
		cfg.Redis.URL = "redis://" + mr.Addr() + "/0"
		b, err := engine.OpenBackend(ctx, cfg, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer b.Close()
		if _, ok := b.Store.(*redisstore.Store); !ok {
			t.Fatalf("store = %T", b.Store)
		}
		if err := b.Store.Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		cfg := testConfig()
		cfg.Redis.URL = "redis://127.0.0.1:1/0"
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if _, err := engine.OpenBackend(ctx, cfg, nil); err == nil {
			t.Fatal("expected connection error")
		}
	})

	t.Run("bad url", func(t *testing.T) {
		cfg := testConfig()
		cfg.Redis.URL = "tcp://nowhere"
		if _, err := engine.OpenBackend(ctx, cfg, nil); !errors.Is(err, ripple.ErrInvalidConfig) {
			t.Fatalf("err = %v", err)
		}
	})
}
