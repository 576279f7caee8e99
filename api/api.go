// Package api serves the operational HTTP surface: liveness and
// readiness, hook ingress for the content store, queue counts and
// failed-job inspection and replay.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xraph/ripple/hook"
	"github.com/xraph/ripple/job"
)

// HookSecretHeader carries the shared secret on hook ingress requests.
const HookSecretHeader = "X-Hook-Secret"

// RequestIDHeader is echoed back on every response, generated when absent.
const RequestIDHeader = "X-Request-ID"

// Hooks receives content mutations.
type Hooks interface {
	Handle(ctx context.Context, m hook.Mutation) hook.Decision
}

// API wires the HTTP handlers together.
type API struct {
	store      job.Store
	hooks      Hooks
	hookSecret string
	logger     *slog.Logger
	started    time.Time
}

// Option configures an API.
type Option func(*API)

// WithHooks enables hook ingress at POST /v1/hooks.
func WithHooks(h Hooks) Option {
	return func(a *API) { a.hooks = h }
}

// WithHookSecret requires HookSecretHeader on hook ingress requests.
func WithHookSecret(secret string) Option {
	return func(a *API) { a.hookSecret = secret }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API over the job store.
func New(store job.Store, opts ...Option) *API {
	a := &API{
		store:   store,
		logger:  slog.Default(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns a gin engine with every route registered.
func (a *API) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), a.requestLogger())
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers every route on r.
func (a *API) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", a.liveness)
	r.GET("/readyz", a.readiness)

	v1 := r.Group("/v1")
	if a.hooks != nil {
		v1.POST("/hooks", a.handleHook)
	}

	jobs := v1.Group("/jobs")
	jobs.GET("", a.listJobs)
	jobs.GET("/counts", a.jobCounts)
	jobs.GET("/:jobId", a.getJob)
	jobs.POST("/:jobId/retry", a.retryJob)
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(RequestIDHeader, reqID)
		c.Next()
		a.logger.Debug("http request",
			slog.String("request_id", reqID),
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
