package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Rate limit backends.
const (
	RateLimitRedis    = "redis"
	RateLimitDatabase = "database"
)

// Email providers.
const (
	EmailMailgun = "mailgun"
	EmailSMTP    = "smtp"
	EmailLog     = "log"
)

// Config holds application configuration loaded from environment.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Poll      PollConfig
	Email     EmailConfig
	Worker    WorkerConfig
}

// AppConfig holds public identity and the signing secret.
type AppConfig struct {
	Name            string        `env:"APP_NAME" envDefault:"Zama Poll"`
	BaseURL         string        `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
	SecretKey       string        `env:"SECRET_KEY"`
	ConfirmTokenTTL time.Duration `env:"CONFIRM_TOKEN_TTL" envDefault:"1h"`

	// EphemeralSecret is set when SECRET_KEY was missing and a random key was generated.
	// Confirmation links stop verifying after a restart in that mode.
	EphemeralSecret bool `env:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string   `env:"PORT" envDefault:"8080"`
	ReadTimeout        int      `env:"READ_TIMEOUT_SEC" envDefault:"30"`
	WriteTimeout       int      `env:"WRITE_TIMEOUT_SEC" envDefault:"30"`
	CORSAllowedOrigins string   `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000"` // comma-separated, or "*"
	TrustedProxies     []string `env:"TRUSTED_PROXIES" envSeparator:","`
	MaxBodyBytes       int64    `env:"MAX_BODY_BYTES" envDefault:"16384"`
}

// DatabaseConfig selects and addresses the poll store backend.
type DatabaseConfig struct {
	Driver     string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	URL        string `env:"DATABASE_URL" envDefault:"postgres://localhost:5432/polls?sslmode=disable"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"instance/database.db"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// RateLimitConfig holds the per-address throttling policy.
type RateLimitConfig struct {
	Backend     string        `env:"RATE_LIMIT_BACKEND" envDefault:"database"`
	MaxAttempts int           `env:"RATE_LIMIT_MAX_ATTEMPTS" envDefault:"50"`
	Window      time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"5m"`
}

// PollConfig holds defaults applied to new polls.
type PollConfig struct {
	Lifetime time.Duration `env:"POLL_LIFETIME" envDefault:"720h"`
	MaxVotes int           `env:"POLL_MAX_VOTES" envDefault:"1000"`
}

// EmailConfig for Mailgun / SMTP delivery.
type EmailConfig struct {
	Provider       string        `env:"EMAIL_PROVIDER" envDefault:"log"`
	FromAddress    string        `env:"EMAIL_FROM_ADDRESS" envDefault:"noreply@example.com"`
	FromName       string        `env:"EMAIL_FROM_NAME" envDefault:"Zama Poll"`
	Timeout        time.Duration `env:"EMAIL_TIMEOUT" envDefault:"15s"`
	MailgunDomain  string        `env:"MAILGUN_DOMAIN"`
	MailgunAPIKey  string        `env:"MAILGUN_API_KEY"`
	MailgunBaseURL string        `env:"MAILGUN_BASE_URL" envDefault:"https://api.mailgun.net/v3"`
	SMTPHost       string        `env:"SMTP_HOST"`
	SMTPPort       int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser       string        `env:"SMTP_USER"`
	SMTPPass       string        `env:"SMTP_PASS"`
}

// WorkerConfig holds maintenance worker settings.
type WorkerConfig struct {
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.App.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.App.BaseURL), "/")
	if strings.TrimSpace(cfg.App.SecretKey) == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		cfg.App.SecretKey = secret
		cfg.App.EphemeralSecret = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown backends and incomplete provider settings.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for driver %q", c.Database.Driver)
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q", c.Database.Driver)
	}

	switch c.RateLimit.Backend {
	case RateLimitRedis, RateLimitDatabase:
	default:
		return fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimit.Backend)
	}
	if c.RateLimit.MaxAttempts <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit attempts and window must be positive")
	}

	switch c.Email.Provider {
	case EmailMailgun:
		if c.Email.MailgunDomain == "" || c.Email.MailgunAPIKey == "" {
			return fmt.Errorf("MAILGUN_DOMAIN and MAILGUN_API_KEY are required for provider %q", c.Email.Provider)
		}
	case EmailSMTP:
		if c.Email.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required for provider %q", c.Email.Provider)
		}
	case EmailLog:
	default:
		return fmt.Errorf("unknown EMAIL_PROVIDER %q", c.Email.Provider)
	}

	if c.App.ConfirmTokenTTL <= 0 {
		return fmt.Errorf("CONFIRM_TOKEN_TTL must be positive")
	}
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret key: %w", err)
	}
	return "dev-key-" + hex.EncodeToString(b), nil
}
