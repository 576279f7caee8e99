package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/ripple/api"
	"github.com/xraph/ripple/hook"
	"github.com/xraph/ripple/id"
	"github.com/xraph/ripple/job"
	"github.com/xraph/ripple/store/memory"
)

func do(t *testing.T, h http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// failedJob pushes a job and fails it outright.
func failedJob(t *testing.T, store *memory.Store) id.JobID {
	t.Helper()
	ctx := context.Background()
	j := &job.Job{Type: job.TypeUserWelcome, Queue: "notifications", MaxAttempts: 3, Payload: []byte(`{}`)}
	if err := store.Push(ctx, j); err != nil {
		t.Fatal(err)
	}
	owner := id.NewWorkerID()
	leased, err := store.Lease(ctx, job.LeaseRequest{Queues: []string{"notifications"}, Max: 1, Owner: owner, TTL: time.Minute})
	if err != nil || len(leased) != 1 {
		t.Fatalf("lease: %v (%d jobs)", err, len(leased))
	}
	if err := store.Fail(ctx, j.ID, owner, errors.New("smtp down"), -1); err != nil {
		t.Fatal(err)
	}
	return j.ID
}

func TestHealth(t *testing.T) {
	store := memory.New()
	h := api.New(store).Handler()

	if rec := do(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}

	_ = store.Close(context.Background())
	if rec := do(t, h, http.MethodGet, "/readyz", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz after close = %d, want 503", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	h := api.New(memory.New()).Handler()

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	if got := rec.Header().Get(api.RequestIDHeader); len(got) != 36 {
		t.Errorf("generated request id = %q, want a uuid", got)
	}

	rec = do(t, h, http.MethodGet, "/healthz", nil, api.RequestIDHeader, "req-42")
	if got := rec.Header().Get(api.RequestIDHeader); got != "req-42" {
		t.Errorf("request id = %q, want the caller's req-42", got)
	}
}

func TestJobCountsAndList(t *testing.T) {
	store := memory.New()
	failed := failedJob(t, store)
	if err := store.Push(context.Background(), &job.Job{Type: job.TypeReviewReceived, Queue: "notifications", MaxAttempts: 3}); err != nil {
		t.Fatal(err)
	}
	h := api.New(store).Handler()

	rec := do(t, h, http.MethodGet, "/v1/jobs/counts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("counts = %d", rec.Code)
	}
	var counts api.CountsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &counts); err != nil {
		t.Fatal(err)
	}
	if counts.Total != 2 || counts.Counts[job.StateFailed] != 1 || counts.Counts[job.StateWaiting] != 1 {
		t.Fatalf("counts = %+v", counts)
	}

	rec = do(t, h, http.MethodGet, "/v1/jobs", nil)
	var jobs []job.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != failed || jobs[0].LastError != "smtp down" {
		t.Fatalf("failed jobs = %+v", jobs)
	}

	if rec := do(t, h, http.MethodGet, "/v1/jobs?state=bogus", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus state = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/jobs?limit=0", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("zero limit = %d", rec.Code)
	}
}

func TestGetJob(t *testing.T) {
	store := memory.New()
	jobID := failedJob(t, store)
	h := api.New(store).Handler()

	if rec := do(t, h, http.MethodGet, "/v1/jobs/"+jobID.String(), nil); rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/jobs/"+id.NewJobID().String(), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/jobs/not-an-id", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", rec.Code)
	}
}

func TestRetryJob(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	jobID := failedJob(t, store)
	h := api.New(store).Handler()

	if rec := do(t, h, http.MethodPost, "/v1/jobs/"+jobID.String()+"/retry", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("retry = %d: %s", rec.Code, rec.Body)
	}
	j, err := store.Get(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	if j.State != job.StateWaiting || j.Attempts != 0 {
		t.Fatalf("after retry: state=%s attempts=%d", j.State, j.Attempts)
	}

	// The job is no longer failed.
	if rec := do(t, h, http.MethodPost, "/v1/jobs/"+jobID.String()+"/retry", nil); rec.Code != http.StatusConflict {
		t.Fatalf("second retry = %d, want 409", rec.Code)
	}
}

type recordingHooks struct {
	got []hook.Mutation
}

func (r *recordingHooks) Handle(_ context.Context, m hook.Mutation) hook.Decision {
	r.got = append(r.got, m)
	d, _ := hook.Decide(m) //nolint:errcheck // decision errors surface as an empty decision
	return d
}

func TestHookIngress(t *testing.T) {
	hooks := &recordingHooks{}
	h := api.New(memory.New(), api.WithHooks(hooks), api.WithHookSecret("s3cret")).Handler()

	body := map[string]any{
		"collection":  "locations",
		"operation":   "update",
		"previousDoc": map[string]any{"id": "loc-1", "status": "pending", "slug": "loft"},
		"doc":         map[string]any{"id": "loc-1", "status": "approved", "slug": "loft"},
	}

	if rec := do(t, h, http.MethodPost, "/v1/hooks", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret = %d, want 401", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/v1/hooks", body, api.HookSecretHeader, "s3cret")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("hook = %d: %s", rec.Code, rec.Body)
	}
	var resp api.HookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Skip || len(resp.Tags) == 0 || resp.Notifications != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if len(hooks.got) != 1 || hooks.got[0].Previous.String("status") != "pending" {
		t.Fatalf("mutations = %+v", hooks.got)
	}

	rec = do(t, h, http.MethodPost, "/v1/hooks", map[string]any{"doc": map[string]any{}}, api.HookSecretHeader, "s3cret")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("incomplete mutation = %d, want 400", rec.Code)
	}
}

func TestHookIngress_DisabledWithoutHooks(t *testing.T) {
	h := api.New(memory.New()).Handler()
	if rec := do(t, h, http.MethodPost, "/v1/hooks", map[string]any{}); rec.Code != http.StatusNotFound {
		t.Fatalf("hooks route = %d, want 404", rec.Code)
	}
}
