package notify_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/ripple/ext"
	"github.com/xraph/ripple/job"
	"github.com/xraph/ripple/notify"
	"github.com/xraph/ripple/store/memory"
	redisstore "github.com/xraph/ripple/store/redis"
)

// hangingStore never answers Push.
type hangingStore struct {
	*memory.Store
}

func (hangingStore) Push(context.Context, *job.Job) error {
	select {}
}

// brokenStore fails every Push.
type brokenStore struct {
	*memory.Store
}

func (brokenStore) Push(context.Context, *job.Job) error {
	return errors.New("dial tcp 10.0.0.5:6379: connect: connection refused")
}

type enqueuedCounter struct{ n atomic.Int32 }

func (c *enqueuedCounter) Name() string { return "counter" }

func (c *enqueuedCounter) OnJobEnqueued(context.Context, *job.Job) error {
	c.n.Add(1)
	return nil
}

func TestEnqueue_PushesJob(t *testing.T) {
	store := memory.New()
	reg := job.NewRegistry(nil)
	job.RegisterDefinition(reg, job.NewDefinition(job.TypeListingApproved,
		func(context.Context, *job.Job, notify.ListingApproved) error { return nil },
		job.WithMaxAttempts(5), job.WithPriority(3), job.WithQueue("mail")))

	counter := &enqueuedCounter{}
	exts := ext.NewRegistry(slog.Default())
	exts.Register(counter)

	e := notify.NewEnqueuer(store, reg, notify.WithExtensions(exts))
	n := notify.ListingApproved{
		Collection:     "locations",
		ListingID:      "loc-1",
		OwnerEmail:     "owner@example.com",
		IdempotencyKey: "listing.approved:locations:loc-1:approved",
	}

	res := e.Enqueue(context.Background(), n)
	if !res.OK() {
		t.Fatal("expected job to be accepted")
	}

	got, err := store.Get(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Type != job.TypeListingApproved || got.Queue != "mail" || got.MaxAttempts != 5 || got.Priority != 3 {
		t.Errorf("job = %+v", got)
	}
	if got.IdempotencyKey != n.IdempotencyKey {
		t.Errorf("idempotency key = %q", got.IdempotencyKey)
	}

	var decoded notify.ListingApproved
	if err := reg.Codec().Unmarshal(got.Payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded != n {
		t.Errorf("payload = %+v, want %+v", decoded, n)
	}
	if counter.n.Load() != 1 {
		t.Errorf("enqueued events = %d, want 1", counter.n.Load())
	}
}

func TestEnqueue_UnregisteredTypeUsesDefaults(t *testing.T) {
	store := memory.New()
	e := notify.NewEnqueuer(store, nil)

	res := e.Enqueue(context.Background(), notify.UserWelcome{UserID: "u1", Email: "ada@example.com"})
	if !res.OK() {
		t.Fatal("expected job to be accepted")
	}
	got, err := store.Get(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	def := job.DefaultOptions()
	if got.Queue != def.Queue || got.MaxAttempts != def.MaxAttempts {
		t.Errorf("queue = %q, max attempts = %d", got.Queue, got.MaxAttempts)
	}
}

func TestEnqueue_BackendUnavailable(t *testing.T) {
	unreachable := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer unreachable.Close()

	stores := map[string]job.Store{
		"hanging": hangingStore{memory.New()},
		"broken":  brokenStore{memory.New()},
		"redis":   redisstore.New(unreachable),
	}

	timeout := 100 * time.Millisecond
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			e := notify.NewEnqueuer(store, nil, notify.WithTimeout(timeout))

			start := time.Now()
			res := e.Enqueue(context.Background(), notify.ReviewReceived{ReviewID: "r1"})
			elapsed := time.Since(start)

			if res.OK() {
				t.Fatalf("expected empty result, got %v", res.ID)
			}
			if elapsed > timeout+200*time.Millisecond {
				t.Errorf("Enqueue took %v with a %v timeout", elapsed, timeout)
			}
		})
	}
}
