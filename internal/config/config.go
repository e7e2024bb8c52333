package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string  `mapstructure:"PORT"`
	Env                string  `mapstructure:"ENV"`
	DatabaseURL        string  `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32   `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32   `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant      string  `mapstructure:"DEFAULT_TENANT"`
	PHIEncryptionKey   string  `mapstructure:"PHI_ENCRYPTION_KEY"`
	RequestTimeoutSec  int     `mapstructure:"REQUEST_TIMEOUT_SEC"`
	WebhookSecret      string  `mapstructure:"INVOICE_WEBHOOK_SECRET"`
	WebhookNameMatch   bool    `mapstructure:"WEBHOOK_NAME_MATCH"`
	WebhookRefills     bool    `mapstructure:"WEBHOOK_QUEUE_REFILLS"`
	WebhookNotes       bool    `mapstructure:"WEBHOOK_NOTE_ASSURANCE"`
	CentsThreshold     int64   `mapstructure:"WEBHOOK_CENTS_THRESHOLD"`
	DefaultAmountCents int64   `mapstructure:"WEBHOOK_DEFAULT_AMOUNT_CENTS"`
	RefillServiceURL   string  `mapstructure:"REFILL_SERVICE_URL"`
	NoteServiceURL     string  `mapstructure:"NOTE_SERVICE_URL"`
	RateLimitRPS       float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int     `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("REQUEST_TIMEOUT_SEC", 30)
	v.SetDefault("WEBHOOK_NAME_MATCH", true)
	v.SetDefault("WEBHOOK_QUEUE_REFILLS", true)
	v.SetDefault("WEBHOOK_NOTE_ASSURANCE", true)
	v.SetDefault("WEBHOOK_CENTS_THRESHOLD", 100)
	v.SetDefault("WEBHOOK_DEFAULT_AMOUNT_CENTS", 29700)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DEFAULT_TENANT")
	v.BindEnv("PHI_ENCRYPTION_KEY")
	v.BindEnv("REQUEST_TIMEOUT_SEC")
	v.BindEnv("INVOICE_WEBHOOK_SECRET")
	v.BindEnv("WEBHOOK_NAME_MATCH")
	v.BindEnv("WEBHOOK_QUEUE_REFILLS")
	v.BindEnv("WEBHOOK_NOTE_ASSURANCE")
	v.BindEnv("WEBHOOK_CENTS_THRESHOLD")
	v.BindEnv("WEBHOOK_DEFAULT_AMOUNT_CENTS")
	v.BindEnv("REFILL_SERVICE_URL")
	v.BindEnv("NOTE_SERVICE_URL")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. In production the
// invoice webhook secret must be set, and PHI_ENCRYPTION_KEY is required and
// must be a valid 64-character hex string (32 bytes when decoded).
func (c *Config) Validate() error {
	if c.IsProduction() && c.WebhookSecret == "" {
		return fmt.Errorf("INVOICE_WEBHOOK_SECRET is required in production; " +
			"refusing to accept unauthenticated payment events")
	}

	if c.IsProduction() && c.PHIEncryptionKey == "" {
		return fmt.Errorf("PHI_ENCRYPTION_KEY is required in production")
	}
	if c.PHIEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.PHIEncryptionKey)
		if err != nil {
			return fmt.Errorf("PHI_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("PHI_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	if c.CentsThreshold < 0 {
		return fmt.Errorf("WEBHOOK_CENTS_THRESHOLD must not be negative, got %d", c.CentsThreshold)
	}
	if c.DefaultAmountCents < 0 {
		return fmt.Errorf("WEBHOOK_DEFAULT_AMOUNT_CENTS must not be negative, got %d", c.DefaultAmountCents)
	}

	if c.RefillServiceURL != "" && !strings.HasPrefix(c.RefillServiceURL, "http") {
		return fmt.Errorf("REFILL_SERVICE_URL must be an http(s) URL, got %q", c.RefillServiceURL)
	}
	if c.NoteServiceURL != "" && !strings.HasPrefix(c.NoteServiceURL, "http") {
		return fmt.Errorf("NOTE_SERVICE_URL must be an http(s) URL, got %q", c.NoteServiceURL)
	}

	return nil
}
