// Package mail sends transactional email through an HTTP mail API.
//
// Every message carries an idempotency key. The mail API uses it to drop
// duplicates, so a job that is retried after the API accepted its message
// does not send a second email.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/ripple/job"
)

// Message is one transactional email.
type Message struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`

	// IdempotencyKey is sent as the Idempotency-Key header.
	IdempotencyKey string `json:"-"`
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ErrNoRecipient is returned for a message without a To address.
var ErrNoRecipient = errors.New("ripple/mail: message has no recipient")

// StatusError is returned when the mail API answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ripple/mail: api returned %d: %s", e.Code, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// Client is a Sender backed by the mail API.
type Client struct {
	url    string
	apiKey string
	from   string
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

// NewClient creates a client that posts messages to url.
func NewClient(url, apiKey, from string, opts ...Option) *Client {
	c := &Client{
		url:    url,
		apiKey: apiKey,
		from:   from,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	From string `json:"from"`
	Message
}

// Send posts msg. Client errors other than 408 and 429 are wrapped with
// job.Permanent since repeating the request cannot fix them.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return job.Permanent(ErrNoRecipient)
	}

	body, err := json.Marshal(request{From: c.from, Message: msg})
	if err != nil {
		return job.Permanent(fmt.Errorf("ripple/mail: encode message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return job.Permanent(fmt.Errorf("ripple/mail: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if msg.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", msg.IdempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ripple/mail: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		c.logger.Debug("mail sent",
			slog.String("template", msg.Template),
			slog.String("idempotency_key", msg.IdempotencyKey),
		)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort error body
	statusErr := &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	if statusErr.Retryable() {
		return statusErr
	}
	return job.Permanent(statusErr)
}

// LogSender logs messages instead of sending them. It is used when no
// mail API is configured.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs msg.
func (s LogSender) Send(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail not sent, no mail api configured",
		slog.String("to", msg.To),
		slog.String("template", msg.Template),
		slog.String("idempotency_key", msg.IdempotencyKey),
	)
	return nil
}
