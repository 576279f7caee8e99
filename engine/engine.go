package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/ripple"
	"github.com/xraph/ripple/backoff"
	"github.com/xraph/ripple/cache"
	"github.com/xraph/ripple/ext"
	"github.com/xraph/ripple/job"
	"github.com/xraph/ripple/mail"
	mw "github.com/xraph/ripple/middleware"
	"github.com/xraph/ripple/notify"
	"github.com/xraph/ripple/observability"
	"github.com/xraph/ripple/store/memory"
	redisstore "github.com/xraph/ripple/store/redis"
)

const instrumentationName = "github.com/xraph/ripple"

// Option configures NewPipeline and NewWorker.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	extensions     []ext.Extension
	mws            []mw.Middleware
	bo             backoff.Strategy
	sender         mail.Sender
	targets        []cache.Target
	redis          goredis.UniversalClient
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	closers        []io.Closer
}

// WithLogger sets the logger for every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithExtension registers an extension.
func WithExtension(e ext.Extension) Option {
	return func(o *options) { o.extensions = append(o.extensions, e) }
}

// WithMiddleware appends middleware after the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(o *options) { o.mws = append(o.mws, m) }
}

// WithBackoff sets the retry backoff strategy. Without it the worker uses
// exponential backoff with jitter shaped by the worker config.
func WithBackoff(b backoff.Strategy) Option {
	return func(o *options) { o.bo = b }
}

// WithSender overrides the mail sender built from the mail config.
func WithSender(s mail.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithTargets adds cache invalidation targets to those built from the
// cache config.
func WithTargets(targets ...cache.Target) Option {
	return func(o *options) { o.targets = append(o.targets, targets...) }
}

// WithRedis enables publishing revalidation tags on the configured
// channel.
func WithRedis(client goredis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// WithTracerProvider sets the OTel TracerProvider used by the tracing
// middleware. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider sets the OTel MeterProvider used by the metrics
// middleware and the observability extension.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithCloser registers a resource to close after shutdown, such as the
// Redis connection behind the job store.
func WithCloser(c io.Closer) Option {
	return func(o *options) { o.closers = append(o.closers, c) }
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// extensionRegistry creates the registry with the metrics extension and
// every extension passed as an option.
func (o *options) extensionRegistry() *ext.Registry {
	reg := ext.NewRegistry(o.logger)
	if o.meterProvider != nil {
		reg.Register(observability.NewMetricsExtensionWithMeter(
			o.meterProvider.Meter(instrumentationName + "/observability")))
	} else {
		reg.Register(observability.NewMetricsExtension())
	}
	for _, e := range o.extensions {
		reg.Register(e)
	}
	return reg
}

func (o *options) mailSender(cfg ripple.MailConfig) mail.Sender {
	if o.sender != nil {
		return o.sender
	}
	if cfg.APIURL == "" {
		return mail.LogSender{Logger: o.logger}
	}
	return mail.NewClient(cfg.APIURL, cfg.APIKey, cfg.From,
		mail.WithTimeout(cfg.Timeout),
		mail.WithLogger(o.logger),
	)
}

func (o *options) cacheTargets(cfg ripple.CacheConfig) []cache.Target {
	hc := &http.Client{Timeout: cfg.Timeout}

	var targets []cache.Target
	if cfg.RevalidateURL != "" {
		targets = append(targets, &cache.HTTPRevalidator{
			URL:    cfg.RevalidateURL,
			Secret: cfg.RevalidateSecret,
			Client: hc,
		})
	}
	if o.redis != nil && cfg.RevalidateChannel != "" {
		targets = append(targets, &cache.RedisRevalidator{
			Client:  o.redis,
			Channel: cfg.RevalidateChannel,
		})
	}
	if cfg.PurgeURL != "" {
		targets = append(targets, &cache.EdgePurger{
			URL:               cfg.PurgeURL,
			Token:             cfg.PurgeToken,
			MaxTagsPerRequest: cfg.MaxTagsPerRequest,
			Client:            hc,
		})
	}
	return append(targets, o.targets...)
}

// NewRegistry builds the job registry for cfg with a handler for every
// notification type. Producers and workers must agree on its codec and
// per-type options.
func NewRegistry(cfg ripple.Config, sender mail.Sender) (*job.Registry, error) {
	codec, err := job.CodecByName(cfg.Queue.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ripple.ErrInvalidConfig, err)
	}
	reg := job.NewRegistry(codec)
	h := &notify.Handlers{Sender: sender, SiteURL: cfg.Mail.SiteURL}
	h.Register(reg,
		job.WithQueue(cfg.Queue.Name),
		job.WithMaxAttempts(cfg.Queue.MaxAttempts),
	)
	return reg, nil
}

// Backend is an open job store and, for Redis, the connection behind it.
type Backend struct {
	Store job.Store
	// Redis is nil for the in-memory backend.
	Redis *goredis.Client
}

// OpenBackend connects to the queue backend named by cfg.Redis.URL. The
// URL "memory://" selects an in-process store for development.
func OpenBackend(ctx context.Context, cfg ripple.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.HasPrefix(cfg.Redis.URL, "memory://") {
		logger.Warn("using in-memory job store, jobs do not survive restarts")
		return &Backend{Store: memory.New(memory.WithKeepCompleted(cfg.Queue.KeepCompleted))}, nil
	}

	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: redis url: %v", ripple.ErrInvalidConfig, err)
	}
	client := goredis.NewClient(redisOpts)
	store := redisstore.New(client,
		redisstore.WithLogger(logger),
		redisstore.WithKeepCompleted(cfg.Queue.KeepCompleted),
	)
	if err := store.Ping(ctx); err != nil {
		_ = client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("ripple: connect to redis: %w", err)
	}
	return &Backend{Store: store, Redis: client}, nil
}

// Close releases the Redis connection, if any.
func (b *Backend) Close() error {
	if b.Redis == nil {
		return nil
	}
	return b.Redis.Close()
}

func closeAll(logger *slog.Logger, closers []io.Closer) error {
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Error("close failed", slog.String("error", err.Error()))
			if first == nil {
				first = err
			}
		}
	}
	return first
}
