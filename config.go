package ripple

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Tier names a deployment environment. Each tier has its own defaults for
// concurrency, rate limits, and retry counts.
type Tier string

const (
	TierDevelopment Tier = "development"
	TierStaging     Tier = "staging"
	TierProduction  Tier = "production"
)

// Config holds configuration for the hook pipeline and the worker pool.
type Config struct {
	// Tier selects the profile the remaining defaults came from.
	Tier Tier

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	Queue    QueueConfig
	Worker   WorkerConfig
	Coalesce CoalesceConfig
	Enqueue  EnqueueConfig
	Cache    CacheConfig
	Mail     MailConfig
	HTTP     HTTPConfig
	Redis    RedisConfig
	Postgres PostgresConfig
}

// QueueConfig controls how jobs are stored.
type QueueConfig struct {
	// Name is the queue notification jobs are pushed to.
	Name string

	// MaxAttempts bounds how many times a job is executed before it is
	// moved to the failed state.
	MaxAttempts int

	// KeepCompleted is how many completed jobs are archived per queue.
	// Older ones are removed. Zero removes jobs as soon as they complete.
	KeepCompleted int

	// Codec is the payload encoding: "json" or "msgpack".
	Codec string
}

// WorkerConfig controls the worker pool.
type WorkerConfig struct {
	// Concurrency is the maximum number of jobs executing at once.
	Concurrency int

	// RateLimit is the sustained number of jobs per second the whole pool
	// may lease. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst size.
	RateBurst int

	// PollInterval is how long an idle pool waits before leasing again.
	PollInterval time.Duration

	// LeaseTTL is how long a leased job stays owned without a heartbeat.
	LeaseTTL time.Duration

	// HeartbeatInterval is how often leases of in-flight jobs are extended.
	HeartbeatInterval time.Duration

	// ReclaimInterval is how often expired leases are returned to waiting.
	ReclaimInterval time.Duration

	// DrainTimeout bounds how long Stop waits for in-flight jobs.
	DrainTimeout time.Duration

	// MonitorSchedule is a cron expression for the queue self-check.
	MonitorSchedule string

	// BackoffInitial and BackoffMax shape the exponential retry delay.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// CoalesceConfig controls aggregate recalculation batching.
type CoalesceConfig struct {
	// Window is the debounce window.
	Window time.Duration
}

// EnqueueConfig controls the notification producer.
type EnqueueConfig struct {
	// Timeout bounds a single push to the queue backend.
	Timeout time.Duration
}

// CacheConfig controls cache invalidation targets. Empty URLs disable
// the corresponding target.
type CacheConfig struct {
	RevalidateURL     string
	RevalidateSecret  string
	RevalidateChannel string
	PurgeURL          string
	PurgeToken        string
	MaxTagsPerRequest int
	Timeout           time.Duration
}

// MailConfig configures the transactional email API.
type MailConfig struct {
	APIURL  string
	APIKey  string
	From    string
	SiteURL string
	Timeout time.Duration
}

// HTTPConfig configures the operational HTTP surface.
type HTTPConfig struct {
	Addr string

	// HookSecret, when set, must accompany hook ingress requests.
	HookSecret string

	// ShutdownTimeout bounds how long in-flight requests may finish.
	ShutdownTimeout time.Duration
}

// RedisConfig configures the queue backend connection.
type RedisConfig struct {
	URL string
}

// PostgresConfig configures the content database connection.
type PostgresConfig struct {
	DSN string
}

// DefaultConfig returns the development profile.
func DefaultConfig() Config {
	cfg, _ := Profile(TierDevelopment) //nolint:errcheck // development is always known
	return cfg
}

// Profile returns the defaults for a deployment tier.
func Profile(tier Tier) (Config, error) {
	cfg := Config{
		Tier:     tier,
		LogLevel: "info",
		Queue: QueueConfig{
			Name:          "notifications",
			MaxAttempts:   3,
			KeepCompleted: 1000,
			Codec:         "json",
		},
		Worker: WorkerConfig{
			Concurrency:       2,
			RateLimit:         2,
			RateBurst:         2,
			PollInterval:      time.Second,
			LeaseTTL:          30 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			ReclaimInterval:   15 * time.Second,
			DrainTimeout:      25 * time.Second,
			MonitorSchedule:   "@every 30s",
			BackoffInitial:    time.Second,
			BackoffMax:        time.Minute,
		},
		Coalesce: CoalesceConfig{Window: 100 * time.Millisecond},
		Enqueue:  EnqueueConfig{Timeout: 2 * time.Second},
		Cache: CacheConfig{
			RevalidateChannel: "ripple:revalidate",
			MaxTagsPerRequest: 30,
			Timeout:           5 * time.Second,
		},
		Mail:     MailConfig{Timeout: 10 * time.Second},
		HTTP:     HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Redis:    RedisConfig{URL: "redis://localhost:6379/0"},
		Postgres: PostgresConfig{DSN: "postgres://localhost:5432/marketplace?sslmode=disable"},
	}

	switch tier {
	case TierDevelopment:
		cfg.LogLevel = "debug"
	case TierStaging:
		cfg.Worker.Concurrency = 5
		cfg.Worker.RateLimit = 5
		cfg.Worker.RateBurst = 5
	case TierProduction:
		cfg.Queue.MaxAttempts = 5
		cfg.Queue.KeepCompleted = 5000
		cfg.Worker.Concurrency = 10
		cfg.Worker.RateLimit = 10
		cfg.Worker.RateBurst = 10
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return cfg, nil
}

// LoadFromEnv builds a Config from the tier named by RIPPLE_ENV
// (default development) and applies RIPPLE_* overrides.
func LoadFromEnv() (Config, error) {
	return loadFrom(os.Getenv)
}

func loadFrom(getenv func(string) string) (Config, error) {
	tier := Tier(getenv("RIPPLE_ENV"))
	if tier == "" {
		tier = TierDevelopment
	}
	cfg, err := Profile(tier)
	if err != nil {
		return Config{}, err
	}

	e := envReader{getenv: getenv}
	cfg.LogLevel = e.str("RIPPLE_LOG_LEVEL", cfg.LogLevel)

	cfg.Queue.Name = e.str("RIPPLE_QUEUE_NAME", cfg.Queue.Name)
	cfg.Queue.MaxAttempts = e.int("RIPPLE_MAX_ATTEMPTS", cfg.Queue.MaxAttempts)
	cfg.Queue.KeepCompleted = e.int("RIPPLE_KEEP_COMPLETED", cfg.Queue.KeepCompleted)
	cfg.Queue.Codec = e.str("RIPPLE_PAYLOAD_CODEC", cfg.Queue.Codec)

	cfg.Worker.Concurrency = e.int("RIPPLE_CONCURRENCY", cfg.Worker.Concurrency)
	cfg.Worker.RateLimit = e.float("RIPPLE_RATE_LIMIT", cfg.Worker.RateLimit)
	cfg.Worker.RateBurst = e.int("RIPPLE_RATE_BURST", cfg.Worker.RateBurst)
	cfg.Worker.PollInterval = e.duration("RIPPLE_POLL_INTERVAL", cfg.Worker.PollInterval)
	cfg.Worker.LeaseTTL = e.duration("RIPPLE_LEASE_TTL", cfg.Worker.LeaseTTL)
	cfg.Worker.HeartbeatInterval = e.duration("RIPPLE_HEARTBEAT_INTERVAL", cfg.Worker.HeartbeatInterval)
	cfg.Worker.ReclaimInterval = e.duration("RIPPLE_RECLAIM_INTERVAL", cfg.Worker.ReclaimInterval)
	cfg.Worker.DrainTimeout = e.duration("RIPPLE_DRAIN_TIMEOUT", cfg.Worker.DrainTimeout)
	cfg.Worker.MonitorSchedule = e.str("RIPPLE_MONITOR_SCHEDULE", cfg.Worker.MonitorSchedule)
	cfg.Worker.BackoffInitial = e.duration("RIPPLE_BACKOFF_INITIAL", cfg.Worker.BackoffInitial)
	cfg.Worker.BackoffMax = e.duration("RIPPLE_BACKOFF_MAX", cfg.Worker.BackoffMax)

	cfg.Coalesce.Window = e.duration("RIPPLE_COALESCE_WINDOW", cfg.Coalesce.Window)
	cfg.Enqueue.Timeout = e.duration("RIPPLE_ENQUEUE_TIMEOUT", cfg.Enqueue.Timeout)

	cfg.Cache.RevalidateURL = e.str("RIPPLE_REVALIDATE_URL", cfg.Cache.RevalidateURL)
	cfg.Cache.RevalidateSecret = e.str("RIPPLE_REVALIDATE_SECRET", cfg.Cache.RevalidateSecret)
	cfg.Cache.RevalidateChannel = e.str("RIPPLE_REVALIDATE_CHANNEL", cfg.Cache.RevalidateChannel)
	cfg.Cache.PurgeURL = e.str("RIPPLE_PURGE_URL", cfg.Cache.PurgeURL)
	cfg.Cache.PurgeToken = e.str("RIPPLE_PURGE_TOKEN", cfg.Cache.PurgeToken)
	cfg.Cache.MaxTagsPerRequest = e.int("RIPPLE_PURGE_BATCH", cfg.Cache.MaxTagsPerRequest)
	cfg.Cache.Timeout = e.duration("RIPPLE_CACHE_TIMEOUT", cfg.Cache.Timeout)

	cfg.Mail.APIURL = e.str("RIPPLE_MAIL_API_URL", cfg.Mail.APIURL)
	cfg.Mail.APIKey = e.str("RIPPLE_MAIL_API_KEY", cfg.Mail.APIKey)
	cfg.Mail.From = e.str("RIPPLE_MAIL_FROM", cfg.Mail.From)
	cfg.Mail.SiteURL = e.str("RIPPLE_SITE_URL", cfg.Mail.SiteURL)
	cfg.Mail.Timeout = e.duration("RIPPLE_MAIL_TIMEOUT", cfg.Mail.Timeout)

	cfg.HTTP.Addr = e.str("RIPPLE_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.HookSecret = e.str("RIPPLE_HOOK_SECRET", cfg.HTTP.HookSecret)
	cfg.HTTP.ShutdownTimeout = e.duration("RIPPLE_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout)
	cfg.Redis.URL = e.str("REDIS_URL", cfg.Redis.URL)
	cfg.Postgres.DSN = e.str("DATABASE_URL", cfg.Postgres.DSN)

	if e.err != nil {
		return Config{}, e.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Queue.Name == "":
		return fmt.Errorf("%w: queue name is required", ErrInvalidConfig)
	case c.Queue.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be >= 1", ErrInvalidConfig)
	case c.Queue.KeepCompleted < 0:
		return fmt.Errorf("%w: keep completed must be >= 0", ErrInvalidConfig)
	case c.Queue.Codec != "json" && c.Queue.Codec != "msgpack":
		return fmt.Errorf("%w: unknown payload codec %q", ErrInvalidConfig, c.Queue.Codec)
	case c.Worker.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be >= 1", ErrInvalidConfig)
	case c.Worker.RateLimit < 0:
		return fmt.Errorf("%w: rate limit must be >= 0", ErrInvalidConfig)
	case c.Worker.LeaseTTL <= c.Worker.HeartbeatInterval:
		return fmt.Errorf("%w: lease ttl must exceed heartbeat interval", ErrInvalidConfig)
	case c.Coalesce.Window <= 0:
		return fmt.Errorf("%w: coalesce window must be positive", ErrInvalidConfig)
	case c.Enqueue.Timeout <= 0:
		return fmt.Errorf("%w: enqueue timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// envReader reads typed overrides and remembers the first parse error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key, def string) string {
	if v := e.getenv(key); v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return f
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, value, err)
	}
}
