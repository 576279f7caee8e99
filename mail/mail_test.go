package mail_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xraph/ripple/job"
	"github.com/xraph/ripple/mail"
)

func TestClient_Send(t *testing.T) {
	var got map[string]any
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := mail.NewClient(srv.URL, "key-123", "hello@example.com")
	err := c.Send(context.Background(), mail.Message{
		To:             "ada@example.com",
		Subject:        "Welcome",
		Template:       "user-welcome",
		Data:           map[string]any{"name": "Ada"},
		IdempotencyKey: "user.welcome:users:u1:approved",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if headers.Get("Authorization") != "Bearer key-123" {
		t.Errorf("Authorization = %q", headers.Get("Authorization"))
	}
	if headers.Get("Idempotency-Key") != "user.welcome:users:u1:approved" {
		t.Errorf("Idempotency-Key = %q", headers.Get("Idempotency-Key"))
	}
	if got["from"] != "hello@example.com" || got["to"] != "ada@example.com" || got["template"] != "user-welcome" {
		t.Errorf("body = %v", got)
	}
	if _, leaked := got["IdempotencyKey"]; leaked {
		t.Error("idempotency key should not be in the body")
	}
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		code      int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnprocessableEntity, true},
		{http.StatusTooManyRequests, false},
		{http.StatusRequestTimeout, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", tt.code)
		}))

		err := mail.NewClient(srv.URL, "", "hello@example.com").
			Send(context.Background(), mail.Message{To: "ada@example.com"})
		srv.Close()

		var statusErr *mail.StatusError
		if !errors.As(err, &statusErr) || statusErr.Code != tt.code {
			t.Fatalf("%d: expected StatusError, got %v", tt.code, err)
		}
		if job.IsPermanent(err) != tt.permanent {
			t.Errorf("%d: permanent = %v, want %v", tt.code, job.IsPermanent(err), tt.permanent)
		}
	}
}

func TestClient_NoRecipient(t *testing.T) {
	err := mail.NewClient("http://unused.invalid", "", "").Send(context.Background(), mail.Message{})
	if !errors.Is(err, mail.ErrNoRecipient) || !job.IsPermanent(err) {
		t.Fatalf("expected permanent ErrNoRecipient, got %v", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := mail.NewClient(url, "", "").Send(context.Background(), mail.Message{To: "ada@example.com"})
	if err == nil {
		t.Fatal("expected error for unreachable api")
	}
	if job.IsPermanent(err) {
		t.Error("connection errors should be retryable")
	}
}

func TestLogSender(t *testing.T) {
	if err := (mail.LogSender{}).Send(context.Background(), mail.Message{To: "ada@example.com"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
