package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SECRET_KEY", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("Port = %q, want %q", cfg.Server.Port, "8080")
	}
	if cfg.App.ConfirmTokenTTL != time.Hour {
		t.Fatalf("ConfirmTokenTTL = %v, want %v", cfg.App.ConfirmTokenTTL, time.Hour)
	}
	if cfg.RateLimit.MaxAttempts != 50 || cfg.RateLimit.Window != 5*time.Minute {
		t.Fatalf("RateLimit = %+v, want 50 per 5m", cfg.RateLimit)
	}
	if cfg.Poll.Lifetime != 30*24*time.Hour {
		t.Fatalf("Poll.Lifetime = %v, want 30 days", cfg.Poll.Lifetime)
	}
	if cfg.Poll.MaxVotes != 1000 {
		t.Fatalf("Poll.MaxVotes = %d, want 1000", cfg.Poll.MaxVotes)
	}
	if cfg.Server.MaxBodyBytes != 16*1024 {
		t.Fatalf("MaxBodyBytes = %d, want %d", cfg.Server.MaxBodyBytes, 16*1024)
	}
	if cfg.App.EphemeralSecret {
		t.Fatal("EphemeralSecret should be false when SECRET_KEY is set")
	}
}

func TestLoadGeneratesEphemeralSecret(t *testing.T) {
	t.Setenv("SECRET_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.App.EphemeralSecret {
		t.Fatal("EphemeralSecret = false, want true")
	}
	if !strings.HasPrefix(cfg.App.SecretKey, "dev-key-") {
		t.Fatalf("SecretKey = %q, want dev-key- prefix", cfg.App.SecretKey)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SECRET_KEY", "s3cret")
	t.Setenv("APP_BASE_URL", "https://polls.example.com/")
	t.Setenv("CONFIRM_TOKEN_TTL", "30m")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.1,10.0.0.2")
	t.Setenv("RATE_LIMIT_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.BaseURL != "https://polls.example.com" {
		t.Fatalf("BaseURL = %q, want trailing slash trimmed", cfg.App.BaseURL)
	}
	if cfg.App.ConfirmTokenTTL != 30*time.Minute {
		t.Fatalf("ConfirmTokenTTL = %v, want 30m", cfg.App.ConfirmTokenTTL)
	}
	if len(cfg.Server.TrustedProxies) != 2 {
		t.Fatalf("TrustedProxies = %v, want 2 entries", cfg.Server.TrustedProxies)
	}
	if cfg.RateLimit.MaxAttempts != 5 {
		t.Fatalf("MaxAttempts = %d, want 5", cfg.RateLimit.MaxAttempts)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			App:       AppConfig{ConfirmTokenTTL: time.Hour},
			Database:  DatabaseConfig{Driver: DriverSQLite, SQLitePath: "db.sqlite"},
			RateLimit: RateLimitConfig{Backend: RateLimitDatabase, MaxAttempts: 1, Window: time.Minute},
			Email:     EmailConfig{Provider: EmailLog},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"postgres without url", func(c *Config) { c.Database.Driver = DriverPostgres; c.Database.URL = "" }, true},
		{"unknown rate limit backend", func(c *Config) { c.RateLimit.Backend = "memcached" }, true},
		{"zero window", func(c *Config) { c.RateLimit.Window = 0 }, true},
		{"mailgun without key", func(c *Config) { c.Email.Provider = EmailMailgun; c.Email.MailgunDomain = "mg.example.com" }, true},
		{"mailgun complete", func(c *Config) {
			c.Email.Provider = EmailMailgun
			c.Email.MailgunDomain = "mg.example.com"
			c.Email.MailgunAPIKey = "key"
		}, false},
		{"smtp without host", func(c *Config) { c.Email.Provider = EmailSMTP }, true},
		{"unknown provider", func(c *Config) { c.Email.Provider = "pigeon" }, true},
		{"zero token ttl", func(c *Config) { c.App.ConfirmTokenTTL = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
