// Package config defines the global configuration for the PostPilot backend.
// Configuration is loaded once at process initialization and is immutable
// thereafter, following 12-Factor principles: values come from the OS
// environment, with a .env file as a development convenience.
//
// Any missing required value or invalid format causes startup to fail
// immediately (fail fast).
package config

import (
	"time"

	"postpilot/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server    ServerConfig
	Database  DatabaseConfig
	Anthropic AnthropicConfig
	Stripe    StripeConfig
	Coinbase  CoinbaseConfig
	Quota     QuotaConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// FrontendURL is the public dashboard URL used for checkout redirects
	// and as the default CORS origin (no trailing slash).
	FrontendURL        string        `envconfig:"FRONTEND_URL" default:"http://localhost:5173" validate:"required,url"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
// URL is optional: when empty the process runs on the volatile in-memory
// entitlement store (single instance, no persistence across restarts).
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// Enabled reports whether a durable database backend is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.URL.Unmask() != ""
}

// AnthropicConfig holds the generative model provider credentials and tuning.
type AnthropicConfig struct {
	APIKey    SecretString  `envconfig:"ANTHROPIC_API_KEY" validate:"required"`
	Model     string        `envconfig:"ANTHROPIC_MODEL" default:"claude-sonnet-4-20250514"`
	MaxTokens int           `envconfig:"ANTHROPIC_MAX_TOKENS" default:"1024"`
	Timeout   time.Duration `envconfig:"ANTHROPIC_TIMEOUT" default:"60s"`
}

// StripeConfig holds Stripe payment integration credentials and the price ID
// mapping for each paid tier.
type StripeConfig struct {
	SecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	WebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`

	StarterPriceID   string `envconfig:"STRIPE_STARTER_PRICE_ID" validate:"required"`
	ProPriceID       string `envconfig:"STRIPE_PRO_PRICE_ID" validate:"required"`
	UnlimitedPriceID string `envconfig:"STRIPE_UNLIMITED_PRICE_ID" validate:"required"`
	YearlyPriceID    string `envconfig:"STRIPE_YEARLY_PRICE_ID"`
}

// CoinbaseConfig holds the Coinbase Commerce webhook shared secret for the
// crypto payment rail. Optional: when empty the crypto webhook endpoint
// rejects all deliveries.
type CoinbaseConfig struct {
	WebhookSecret SecretString `envconfig:"COINBASE_WEBHOOK_SECRET"`
}

// QuotaConfig holds the rolling window lengths for usage metering.
// Windows are fixed-length and relative, never calendar-aligned.
type QuotaConfig struct {
	DailyWindow   time.Duration `envconfig:"QUOTA_DAILY_WINDOW" default:"24h"`
	MonthlyWindow time.Duration `envconfig:"QUOTA_MONTHLY_WINDOW" default:"720h"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
