package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Database
	DatabaseURL string
	DBMaxConns  int32
	AutoMigrate bool

	// Redis (optional; shares idempotent outcomes across instances)
	RedisURL string

	// Auth0
	Auth0Domain   string
	Auth0Audience string

	// Server
	Port        string
	CORSOrigins []string
	Env         string

	// Rate limiting per authenticated user
	RateLimitPerMinute int
	RateLimitBurst     int

	// Telemetry
	OTELEnabled bool

	Saga        SagaConfig
	Idempotency IdempotencyConfig
}

// SagaConfig tunes the workflow engine
type SagaConfig struct {
	StepTimeout       time.Duration
	CompensationTries uint
	RetryInterval     time.Duration
}

// IdempotencyConfig tunes how long request outcomes are remembered
type IdempotencyConfig struct {
	Retention        time.Duration
	FailureRetention time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	p := &parser{}
	cfg := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		DBMaxConns:         int32(p.int("DB_MAX_CONNS", 20)),
		AutoMigrate:        p.bool("AUTO_MIGRATE", false),
		RedisURL:           getEnv("REDIS_URL", ""),
		Auth0Domain:        getEnv("AUTH0_DOMAIN", ""),
		Auth0Audience:      getEnv("AUTH0_AUDIENCE", ""),
		Port:               getEnv("PORT", "8080"),
		CORSOrigins:        splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		Env:                getEnv("ENV", "development"),
		RateLimitPerMinute: p.int("RATE_LIMIT_PER_MINUTE", 100),
		RateLimitBurst:     p.int("RATE_LIMIT_BURST", 10),
		OTELEnabled:        p.bool("OTEL_ENABLED", false),
		Saga: SagaConfig{
			StepTimeout:       p.duration("SAGA_STEP_TIMEOUT", 10*time.Second),
			CompensationTries: uint(p.int("SAGA_COMPENSATION_TRIES", 5)),
			RetryInterval:     p.duration("SAGA_RETRY_INTERVAL", 200*time.Millisecond),
		},
		Idempotency: IdempotencyConfig{
			Retention:        p.duration("IDEMPOTENCY_RETENTION", 15*time.Minute),
			FailureRetention: p.duration("IDEMPOTENCY_FAILURE_RETENTION", time.Minute),
		},
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Auth0Domain == "" {
		return fmt.Errorf("AUTH0_DOMAIN is required")
	}
	if c.Auth0Audience == "" {
		return fmt.Errorf("AUTH0_AUDIENCE is required")
	}
	if c.RateLimitPerMinute <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE and RATE_LIMIT_BURST must be positive")
	}
	if c.Saga.CompensationTries == 0 {
		return fmt.Errorf("SAGA_COMPENSATION_TRIES must be at least 1")
	}
	if c.Idempotency.FailureRetention > c.Idempotency.Retention {
		return fmt.Errorf("IDEMPOTENCY_FAILURE_RETENTION must not exceed IDEMPOTENCY_RETENTION")
	}
	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parser keeps the first conversion error so Load can report it once
type parser struct {
	err error
}

func (p *parser) int(key string, defaultValue int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v
}

func (p *parser) bool(key string, defaultValue bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return v
}

func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return v
}
