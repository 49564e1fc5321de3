package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string `env:"HOST" envDefault:"localhost"`
	Port int    `env:"PORT" envDefault:"4201"`

	// Database configuration
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data.db"`

	// Garmin API configuration
	GarminClientID     string `env:"GARMIN_CLIENT_ID"`
	GarminClientSecret string `env:"GARMIN_CLIENT_SECRET"`
	GarminAPIBaseURL   string `env:"GARMIN_API_BASE_URL" envDefault:"https://apis.garmin.com"`
	GarminTokenURL     string `env:"GARMIN_TOKEN_URL" envDefault:"https://diauth.garmin.com/di-oauth2-service/oauth/token"`
	GarminAuthorizeURL string `env:"GARMIN_AUTHORIZE_URL" envDefault:"https://connect.garmin.com/oauth2Confirm"`
	OAuthRedirectURL   string `env:"OAUTH_REDIRECT_URL"`

	// Webhook configuration. An empty secret disables the webhook
	// endpoint (503) rather than accepting unauthenticated pushes.
	WebhookSecret string `env:"WEBHOOK_SECRET"`

	// Token encryption key: base64-encoded 32 bytes
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`

	// Internal API configuration
	InternalAPIKey string `env:"INTERNAL_API_KEY"`

	// Outbound HTTP timeout for device API and ping/pull callbacks
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	// Derive worker configuration
	WorkerConcurrency int `env:"WORKER_CONCURRENCY" envDefault:"2"`

	// NATS configuration for the downstream insights handoff.
	// An empty URL disables publishing (best-effort anyway).
	NATSURL             string `env:"NATS_URL"`
	NATSInsightsSubject string `env:"NATS_SUBJECT_INSIGHTS" envDefault:"insights.derive"`

	// Metrics configuration
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	MetricsHost    string `env:"METRICS_HOST" envDefault:"localhost"`
	MetricsPort    int    `env:"METRICS_PORT" envDefault:"9201"`

	// Logging configuration
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from the environment (and a local .env if
// present). It fails fast if required variables are missing.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	var missingVars []string
	if cfg.GarminClientID == "" {
		missingVars = append(missingVars, "GARMIN_CLIENT_ID")
	}
	if cfg.GarminClientSecret == "" {
		missingVars = append(missingVars, "GARMIN_CLIENT_SECRET")
	}
	if cfg.TokenEncryptionKey == "" {
		missingVars = append(missingVars, "TOKEN_ENCRYPTION_KEY")
	}
	if cfg.InternalAPIKey == "" {
		missingVars = append(missingVars, "INTERNAL_API_KEY")
	}

	if len(missingVars) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	return cfg, nil
}
