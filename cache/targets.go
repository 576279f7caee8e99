package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// SecretHeader carries the shared secret on revalidation requests.
const SecretHeader = "X-Revalidate-Secret"

// DefaultMaxTagsPerRequest is the edge purge API's tag limit per call.
const DefaultMaxTagsPerRequest = 30

type tagsBody struct {
	Tags []string `json:"tags"`
}

// HTTPRevalidator asks the site's rendering layer to drop cached pages
// by POSTing the tags to its revalidate endpoint.
type HTTPRevalidator struct {
	URL    string
	Secret string
	Client *http.Client
}

// Name implements Target.
func (r *HTTPRevalidator) Name() string { return "revalidate" }

// Invalidate implements Target.
func (r *HTTPRevalidator) Invalidate(ctx context.Context, tags Tags) error {
	header := http.Header{}
	if r.Secret != "" {
		header.Set(SecretHeader, r.Secret)
	}
	return post(ctx, r.Client, r.URL, header, tags)
}

// RedisRevalidator publishes the tags on a Redis channel that render
// nodes subscribe to.
type RedisRevalidator struct {
	Client  redis.UniversalClient
	Channel string
}

// Name implements Target.
func (r *RedisRevalidator) Name() string { return "revalidate-pubsub" }

// Invalidate implements Target.
func (r *RedisRevalidator) Invalidate(ctx context.Context, tags Tags) error {
	msg, err := json.Marshal(tagsBody{Tags: tags})
	if err != nil {
		return fmt.Errorf("ripple/cache: encode tags: %w", err)
	}
	if err := r.Client.Publish(ctx, r.Channel, msg).Err(); err != nil {
		return fmt.Errorf("ripple/cache: publish %s: %w", r.Channel, err)
	}
	return nil
}

// EdgePurger purges tagged objects from the edge network. Tags are sent
// in chunks of at most MaxTagsPerRequest; every chunk is attempted even
// when an earlier one fails.
type EdgePurger struct {
	URL               string
	Token             string
	MaxTagsPerRequest int
	Client            *http.Client
}

// Name implements Target.
func (p *EdgePurger) Name() string { return "edge-purge" }

// Invalidate implements Target.
func (p *EdgePurger) Invalidate(ctx context.Context, tags Tags) error {
	limit := p.MaxTagsPerRequest
	if limit <= 0 {
		limit = DefaultMaxTagsPerRequest
	}
	header := http.Header{}
	if p.Token != "" {
		header.Set("Authorization", "Bearer "+p.Token)
	}

	var errs []error
	for _, chunk := range tags.Chunks(limit) {
		if err := post(ctx, p.Client, p.URL, header, chunk); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func post(ctx context.Context, hc *http.Client, url string, header http.Header, tags Tags) error {
	if hc == nil {
		hc = http.DefaultClient
	}
	body, err := json.Marshal(tagsBody{Tags: tags})
	if err != nil {
		return fmt.Errorf("ripple/cache: encode tags: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ripple/cache: build request: %w", err)
	}
	req.Header = header.Clone()
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("ripple/cache: post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort error body
		return fmt.Errorf("ripple/cache: %s returned %d: %s", url, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
	return nil
}
