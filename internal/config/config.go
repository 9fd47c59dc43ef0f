// Package config loads the gateway service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Gateway modes.
const (
	ModeTest = "test"
	ModeLive = "live"
)

// Config holds the service settings.
type Config struct {
	HTTPAddr string
	// GatewayID names this gateway instance; together with Mode it scopes
	// remote customer ids.
	GatewayID string
	Mode      string

	StripeSecretKey      string
	StripePublishableKey string
	StripeAPIURL         string
	StripeTimeout        time.Duration

	// DatabaseURL selects the PostgreSQL store; empty keeps records in memory.
	DatabaseURL string
	LogLevel    string

	BreakerFailureThreshold  int
	BreakerOpenTimeout       time.Duration
	BreakerHalfOpenSuccesses int

	TracingEnabled bool
}

// Load reads the configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		GatewayID:            getenv("GATEWAY_ID", "stripe"),
		Mode:                 strings.ToLower(getenv("GATEWAY_MODE", ModeTest)),
		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		StripePublishableKey: os.Getenv("STRIPE_PUBLISHABLE_KEY"),
		StripeAPIURL:         os.Getenv("STRIPE_API_URL"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		LogLevel:             getenv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.StripeTimeout, err = durationEnv("STRIPE_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.BreakerFailureThreshold, err = intEnv("BREAKER_FAILURE_THRESHOLD", 5); err != nil {
		return Config{}, err
	}
	if cfg.BreakerOpenTimeout, err = durationEnv("BREAKER_OPEN_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.BreakerHalfOpenSuccesses, err = intEnv("BREAKER_HALF_OPEN_SUCCESSES", 2); err != nil {
		return Config{}, err
	}
	if cfg.TracingEnabled, err = boolEnv("TRACING_ENABLED", false); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings for consistency.
func (c Config) Validate() error {
	var errs []error
	if c.Mode != ModeTest && c.Mode != ModeLive {
		errs = append(errs, fmt.Errorf("config: unknown gateway mode %q", c.Mode))
	}
	if c.GatewayID == "" {
		errs = append(errs, errors.New("config: GATEWAY_ID is required"))
	}
	if c.Mode == ModeLive && c.StripeSecretKey == "" {
		errs = append(errs, errors.New("config: STRIPE_SECRET_KEY is required in live mode"))
	}
	if c.StripeSecretKey != "" && !strings.HasPrefix(c.StripeSecretKey, "sk_") && !strings.HasPrefix(c.StripeSecretKey, "rk_") {
		errs = append(errs, errors.New("config: STRIPE_SECRET_KEY must be a secret or restricted key"))
	}
	if c.StripeTimeout <= 0 {
		errs = append(errs, errors.New("config: STRIPE_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// UseMockProcessor reports whether no credentials are configured and the
// in-memory processor should serve requests.
func (c Config) UseMockProcessor() bool {
	return c.StripeSecretKey == ""
}

// ProviderKey scopes remote customer ids to this gateway and mode.
func (c Config) ProviderKey() string {
	return c.GatewayID + "|" + c.Mode
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}
