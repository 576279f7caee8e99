package ripple

import (
	"errors"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestProfile_Tiers(t *testing.T) {
	tests := []struct {
		tier        Tier
		concurrency int
		rate        float64
		attempts    int
	}{
		{TierDevelopment, 2, 2, 3},
		{TierStaging, 5, 5, 3},
		{TierProduction, 10, 10, 5},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			cfg, err := Profile(tt.tier)
			if err != nil {
				t.Fatalf("Profile: %v", err)
			}
			if cfg.Worker.Concurrency != tt.concurrency {
				t.Errorf("Concurrency = %d, want %d", cfg.Worker.Concurrency, tt.concurrency)
			}
			if cfg.Worker.RateLimit != tt.rate {
				t.Errorf("RateLimit = %v, want %v", cfg.Worker.RateLimit, tt.rate)
			}
			if cfg.Queue.MaxAttempts != tt.attempts {
				t.Errorf("MaxAttempts = %d, want %d", cfg.Queue.MaxAttempts, tt.attempts)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestProfile_Unknown(t *testing.T) {
	_, err := Profile("qa")
	if !errors.Is(err, ErrUnknownTier) {
		t.Fatalf("expected ErrUnknownTier, got %v", err)
	}
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := loadFrom(envMap(map[string]string{
		"RIPPLE_ENV":             "production",
		"RIPPLE_CONCURRENCY":     "3",
		"RIPPLE_RATE_LIMIT":      "0.5",
		"RIPPLE_MAX_ATTEMPTS":    "7",
		"RIPPLE_COALESCE_WINDOW": "250ms",
		"RIPPLE_PAYLOAD_CODEC":   "msgpack",
		"REDIS_URL":              "redis://cache:6379/2",
		"RIPPLE_HOOK_SECRET":     "s3cret",
	}))
	if err != nil {
		t.Fatalf("loadFrom: %v", err)
	}
	if cfg.Tier != TierProduction {
		t.Errorf("Tier = %q", cfg.Tier)
	}
	if cfg.Worker.Concurrency != 3 {
		t.Errorf("Concurrency = %d, want 3", cfg.Worker.Concurrency)
	}
	if cfg.Worker.RateLimit != 0.5 {
		t.Errorf("RateLimit = %v, want 0.5", cfg.Worker.RateLimit)
	}
	if cfg.Queue.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7", cfg.Queue.MaxAttempts)
	}
	if cfg.Coalesce.Window != 250*time.Millisecond {
		t.Errorf("Window = %v", cfg.Coalesce.Window)
	}
	if cfg.Queue.Codec != "msgpack" {
		t.Errorf("Codec = %q", cfg.Queue.Codec)
	}
	if cfg.Redis.URL != "redis://cache:6379/2" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
	if cfg.HTTP.HookSecret != "s3cret" {
		t.Errorf("HookSecret = %q", cfg.HTTP.HookSecret)
	}
	// Untouched values keep the production profile.
	if cfg.HTTP.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.HTTP.ShutdownTimeout)
	}
	if cfg.Queue.KeepCompleted != 5000 {
		t.Errorf("KeepCompleted = %d, want 5000", cfg.Queue.KeepCompleted)
	}
}

func TestLoadFrom_DefaultsToDevelopment(t *testing.T) {
	cfg, err := loadFrom(envMap(nil))
	if err != nil {
		t.Fatalf("loadFrom: %v", err)
	}
	if cfg.Tier != TierDevelopment || cfg.LogLevel != "debug" {
		t.Errorf("got tier %q level %q", cfg.Tier, cfg.LogLevel)
	}
}

func TestLoadFrom_BadValue(t *testing.T) {
	_, err := loadFrom(envMap(map[string]string{"RIPPLE_CONCURRENCY": "many"}))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no queue", func(c *Config) { c.Queue.Name = "" }},
		{"zero attempts", func(c *Config) { c.Queue.MaxAttempts = 0 }},
		{"bad codec", func(c *Config) { c.Queue.Codec = "xml" }},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"negative rate", func(c *Config) { c.Worker.RateLimit = -1 }},
		{"lease shorter than heartbeat", func(c *Config) { c.Worker.LeaseTTL = c.Worker.HeartbeatInterval }},
		{"zero window", func(c *Config) { c.Coalesce.Window = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
