package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// InsecureJWTSecret is the built-in secret; it is only accepted in development.
const InsecureJWTSecret = "supersecretkey"

type Config struct {
	Addr           string              `yaml:"addr"`
	JWTSecret      string              `yaml:"jwt_secret"`
	APITimeout     time.Duration       `yaml:"timeout"`
	DatabasePath   string              `yaml:"database_path"`
	Env            string              `yaml:"env"`
	MigrateOnStart bool                `yaml:"migrate_on_start"`
	Numbering      NumberingConfig     `yaml:"numbering"`
	Print          PrintConfig         `yaml:"print"`
	RateLimit      RateLimitConfig     `yaml:"rate_limit"`
	Notifications  NotificationsConfig `yaml:"notifications"`
}

// NumberingConfig selects the default sequence and the format given to
// sequences created on first use.
type NumberingConfig struct {
	TemplateKind      string `yaml:"template_kind"`
	Language          string `yaml:"language"`
	MaxRetries        int    `yaml:"max_retries"`
	DefaultPrefix     string `yaml:"default_prefix"`
	DefaultDigitWidth int    `yaml:"default_digit_width"`
	DefaultSuffix     string `yaml:"default_suffix"`
}

type PrintConfig struct {
	MaxBatch        int  `yaml:"max_batch"`
	RequireApproval bool `yaml:"require_approval"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type NotificationsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	WebhookURL   string        `yaml:"webhook_url"`
	Workers      int           `yaml:"workers"`
	MaxAttempts  int           `yaml:"max_attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Addr:           getEnv("PLACEMENT_ADDR", ":8080"),
		JWTSecret:      getEnv("PLACEMENT_JWT_SECRET", InsecureJWTSecret),
		APITimeout:     15 * time.Second,
		DatabasePath:   getEnv("PLACEMENT_DATABASE_PATH", "placement.db"),
		Env:            getEnv("PLACEMENT_ENV", "production"),
		MigrateOnStart: true,
		Numbering: NumberingConfig{
			TemplateKind:      "internship_letter",
			Language:          "thai",
			MaxRetries:        32,
			DefaultPrefix:     "DOC",
			DefaultDigitWidth: 6,
		},
		Print:     PrintConfig{MaxBatch: 200},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
		Notifications: NotificationsConfig{
			Workers:      2,
			MaxAttempts:  5,
			PollInterval: 500 * time.Millisecond,
		},
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Development reports whether the service runs in development mode. The
// PLACEMENT_ENV variable wins over the file.
func (c *Config) Development() bool {
	env := c.Env
	if v := os.Getenv("PLACEMENT_ENV"); v != "" {
		env = v
	}
	return env == "development" || env == "dev"
}

// Validate rejects unsafe or inconsistent settings and fills defaults for
// zero values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if c.JWTSecret == InsecureJWTSecret && !c.Development() {
		return fmt.Errorf("insecure jwt_secret: set PLACEMENT_JWT_SECRET or run with PLACEMENT_ENV=development")
	}
	if c.APITimeout <= 0 {
		c.APITimeout = 15 * time.Second
	}

	n := &c.Numbering
	if n.TemplateKind == "" {
		n.TemplateKind = "internship_letter"
	}
	if n.Language == "" {
		n.Language = "thai"
	}
	if n.MaxRetries < 0 {
		return fmt.Errorf("numbering.max_retries must not be negative")
	}
	if n.MaxRetries == 0 {
		n.MaxRetries = 32
	}
	if n.DefaultDigitWidth < 0 || n.DefaultDigitWidth > 18 {
		return fmt.Errorf("numbering.default_digit_width must be between 1 and 18")
	}
	if n.DefaultDigitWidth == 0 {
		n.DefaultDigitWidth = 6
	}

	if c.Print.MaxBatch < 0 {
		return fmt.Errorf("print.max_batch must not be negative")
	}
	if c.Print.MaxBatch == 0 {
		c.Print.MaxBatch = 200
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = int(c.RateLimit.RequestsPerSecond) + 1
	}

	nt := &c.Notifications
	if nt.WebhookURL != "" {
		u, err := url.Parse(nt.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("notifications.webhook_url must be an absolute http(s) URL")
		}
	}
	if nt.Workers <= 0 {
		nt.Workers = 2
	}
	if nt.MaxAttempts <= 0 {
		nt.MaxAttempts = 5
	}
	if nt.PollInterval <= 0 {
		nt.PollInterval = 500 * time.Millisecond
	}

	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}
