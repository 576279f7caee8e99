package job_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xraph/ripple/job"
)

func TestPermanent(t *testing.T) {
	base := errors.New("mailbox does not exist")

	if job.Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}

	err := fmt.Errorf("send: %w", job.Permanent(base))
	if !job.IsPermanent(err) {
		t.Error("wrapped permanent error not detected")
	}
	if !errors.Is(err, base) {
		t.Error("permanent error should unwrap to its cause")
	}
	if job.IsPermanent(base) {
		t.Error("plain error reported as permanent")
	}
}

func TestPrepare(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("ready", func(t *testing.T) {
		j := &job.Job{Type: job.TypeUserWelcome, Attempts: 4}
		if err := job.Prepare(j, now); err != nil {
			t.Fatalf("Prepare: %v", err)
		}
		if j.ID.IsNil() {
			t.Error("ID not assigned")
		}
		if j.State != job.StateWaiting {
			t.Errorf("State = %q, want waiting", j.State)
		}
		if j.Attempts != 0 || j.MaxAttempts != 1 {
			t.Errorf("Attempts = %d, MaxAttempts = %d", j.Attempts, j.MaxAttempts)
		}
		if !j.RunAt.Equal(now) || !j.CreatedAt.Equal(now) {
			t.Errorf("RunAt = %v, CreatedAt = %v", j.RunAt, j.CreatedAt)
		}
		if j.Queue != "notifications" {
			t.Errorf("Queue = %q", j.Queue)
		}
	})

	t.Run("future run", func(t *testing.T) {
		j := &job.Job{Type: job.TypeUserWelcome, RunAt: now.Add(time.Minute)}
		if err := job.Prepare(j, now); err != nil {
			t.Fatalf("Prepare: %v", err)
		}
		if j.State != job.StateDelayed {
			t.Errorf("State = %q, want delayed", j.State)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		err := job.Prepare(&job.Job{Type: "user.farewell"}, now)
		if !errors.Is(err, job.ErrUnknownType) {
			t.Errorf("expected ErrUnknownType, got %v", err)
		}
	})
}

func TestCodecByName(t *testing.T) {
	for _, name := range []string{"", "json", "msgpack"} {
		if _, err := job.CodecByName(name); err != nil {
			t.Errorf("CodecByName(%q): %v", name, err)
		}
	}
	if _, err := job.CodecByName("gob"); err == nil {
		t.Error("expected error for unknown codec")
	}
}
