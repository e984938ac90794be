package config

import (
	"fmt"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string `validate:"required"`
	Port        string
	DatabaseURL string `validate:"required"`
	RedisURL    string `validate:"required"`

	// StripeSigningSecret is the deployment-level override for the webhook
	// signing secret. When empty the secret is read from the settings store.
	StripeSigningSecret string
	// SignatureTolerance bounds how old a webhook signature timestamp may be.
	SignatureTolerance time.Duration
	// WebhookMaxBodyBytes caps the accepted webhook payload size.
	WebhookMaxBodyBytes int64
	// FingerprintTTL controls how long the secret fingerprint health key lives.
	FingerprintTTL time.Duration

	RateLimitEnabled bool
	RateLimitWindow  time.Duration
	RateLimitMax     int

	DeferredRedisPrefix  string
	DeferredPollInterval time.Duration
	DeferredLockTTL      time.Duration
	DeferredBatchSize    int

	StoreTimeout     time.Duration
	LockRetryBackoff time.Duration
	MigrationsPath   string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:               valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                 valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:          k.String("DATABASE_URL"),
		RedisURL:             k.String("REDIS_URL"),
		StripeSigningSecret:  strings.TrimSpace(k.String("STRIPE_SIGNING_SECRET")),
		SignatureTolerance:   parseDuration(k.String("STRIPE_SIGNATURE_TOLERANCE"), "5m"),
		WebhookMaxBodyBytes:  parseInt64(k.String("WEBHOOK_MAX_BODY_BYTES"), 1<<20),
		FingerprintTTL:       parseDuration(k.String("WEBHOOK_FINGERPRINT_TTL"), "24h"),
		RateLimitEnabled:     parseBool(valueOrDefault(k.String("WEBHOOK_RATE_LIMIT_ENABLED"), "true")),
		RateLimitWindow:      parseDuration(k.String("WEBHOOK_RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:         parseInt(k.String("WEBHOOK_RATE_LIMIT_MAX"), 600),
		DeferredRedisPrefix:  valueOrDefault(k.String("DEFERRED_REDIS_PREFIX"), "gw:deferred"),
		DeferredPollInterval: parseDuration(k.String("DEFERRED_POLL_INTERVAL"), "2s"),
		DeferredLockTTL:      parseDuration(k.String("DEFERRED_LOCK_TTL"), "30s"),
		DeferredBatchSize:    parseInt(k.String("DEFERRED_BATCH_SIZE"), 50),
		StoreTimeout:         parseDuration(k.String("STORE_TIMEOUT"), "3s"),
		LockRetryBackoff:     parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		MigrationsPath:       valueOrDefault(k.String("MIGRATIONS_PATH"), "migrations"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var parsed int
	if _, err := fmt.Sscanf(trimmed, "%d", &parsed); err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseInt64(value string, fallback int64) int64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var parsed int64
	if _, err := fmt.Sscanf(trimmed, "%d", &parsed); err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
