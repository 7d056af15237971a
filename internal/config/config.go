// Package config loads the storefront's settings from environment variables.
//
// Every setting the shop used to read from a global settings object
// (currency symbol, reset-token lifetime, social OAuth client, posting switch)
// lives here as a typed field, and each component receives only the slice of
// it that it needs at construction time.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the storefront server.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	Port         int    `env:"PORT" envDefault:"8080"`
	BaseURL      string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	SiteName     string `env:"SITE_NAME" envDefault:"eCommerce"`
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"false"`

	// Storage
	DBPath string `env:"DB_PATH" envDefault:"data/storefront.db"`

	// Redis backs the visitor sessions (basket, flash messages, OAuth handshake).
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"336h"`

	// JWTSecret signs the login cookie. Required outside development.
	JWTSecret string `env:"JWT_SECRET"`

	CurrencySymbol string        `env:"CURRENCY_SYMBOL" envDefault:"$"`
	ResetTokenTTL  time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`

	// HTTPTimeout bounds every outbound call to the social provider.
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`

	Mail     MailConfig     `envPrefix:"MAIL_"`
	Social   SocialConfig   `envPrefix:"SOCIAL_"`
	Announce AnnounceConfig `envPrefix:"ANNOUNCE_"`
}

// MailConfig selects the outgoing mail transport. An empty Host means
// messages are written to the log instead of being sent.
type MailConfig struct {
	From     string `env:"FROM" envDefault:"no-reply@localhost"`
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`

	// Timeout bounds the whole SMTP conversation, dial included.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// SocialConfig configures the OAuth2 (PKCE) client used to announce new
// stores and products on the social platform.
type SocialConfig struct {
	PostingEnabled bool     `env:"POSTING_ENABLED" envDefault:"false"`
	ClientID       string   `env:"CLIENT_ID"`
	ClientSecret   string   `env:"CLIENT_SECRET"`
	RedirectURI    string   `env:"REDIRECT_URI" envDefault:"http://localhost:8080/social/callback"`
	Scopes         []string `env:"SCOPES" envDefault:"tweet.read,tweet.write,users.read,offline.access,media.write" envSeparator:","`

	AuthURL    string `env:"AUTH_URL" envDefault:"https://x.com/i/oauth2/authorize"`
	TokenURL   string `env:"TOKEN_URL" envDefault:"https://api.x.com/2/oauth2/token"`
	APIBaseURL string `env:"API_BASE_URL" envDefault:"https://api.x.com"`
	UploadURL  string `env:"UPLOAD_URL" envDefault:"https://api.x.com/2/media/upload"`
}

// AnnounceConfig tunes the background worker that drains the announcement outbox.
type AnnounceConfig struct {
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"15s"`
	BatchSize    int           `env:"BATCH_SIZE" envDefault:"10"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"5"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the server runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.JWTSecret == "" && !c.IsDevelopment() {
		return fmt.Errorf("JWT_SECRET is required when ENVIRONMENT=%s", c.Environment)
	}
	if c.ResetTokenTTL <= 0 {
		return fmt.Errorf("RESET_TOKEN_TTL must be positive, got %s", c.ResetTokenTTL)
	}
	if c.Mail.Host != "" && c.Mail.Timeout <= 0 {
		return fmt.Errorf("MAIL_TIMEOUT must be positive, got %s", c.Mail.Timeout)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.Social.PostingEnabled {
		if c.Social.ClientID == "" {
			return fmt.Errorf("SOCIAL_CLIENT_ID is required when posting is enabled")
		}
		if c.Social.RedirectURI == "" {
			return fmt.Errorf("SOCIAL_REDIRECT_URI is required when posting is enabled")
		}
	}
	if c.Announce.BatchSize < 1 {
		return fmt.Errorf("ANNOUNCE_BATCH_SIZE must be at least 1, got %d", c.Announce.BatchSize)
	}
	if c.Announce.MaxAttempts < 1 {
		return fmt.Errorf("ANNOUNCE_MAX_ATTEMPTS must be at least 1, got %d", c.Announce.MaxAttempts)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %q", c.LogLevel)
	}
	return nil
}
