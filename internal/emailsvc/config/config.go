// Package config loads the service's configuration tree from environment
// variables, validating ranges the way the source implementation's
// Pydantic settings model did.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/odiseo-io/email-service/internal/emailsvc/errs"
)

// Config is the full configuration tree, constructed once at process
// startup and threaded explicitly through every component — there is no
// package-level singleton.
type Config struct {
	Database DatabaseConfig
	Mail     MailConfig
	Worker   WorkerConfig
	API      APIConfig
	Logger   LoggerConfig
}

type DatabaseConfig struct {
	URL        string
	SchemaName string
	MinConns   int
	MaxConns   int
	RetryAttempts int
}

type MailConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	FromEmail     string
	FromName      string
	UseTLS        bool
	Timeout       time.Duration
	TemplateDir   string
	LocalesDir    string
	DefaultLocale string
}

type WorkerConfig struct {
	PollInterval       time.Duration
	BatchSize          int
	Concurrency        int
	RetryMaxAttempts   int
	RetryBackoff       time.Duration
	LeaseTimeoutMult   int
	QueueRetentionDays int
}

type APIConfig struct {
	Host               string
	Port               int
	Key                string
	RateLimitPerSecond int
	RateLimitPerMinute int
}

type LoggerConfig struct {
	Level  string
	ToFile bool
	Dir    string
}

// Load reads and validates configuration from the process environment.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL:           getEnv("DATABASE_URL", ""),
			SchemaName:    getEnv("SCHEMA_NAME", "public"),
			MinConns:      getEnvInt("DB_POOL_MIN_CONNS", 1),
			MaxConns:      getEnvInt("DB_POOL_MAX_CONNS", 10),
			RetryAttempts: getEnvInt("DB_CONN_RETRY_ATTEMPTS", 2),
		},
		Mail: MailConfig{
			Host:          getEnv("SMTP_HOST", ""),
			Port:          getEnvInt("SMTP_PORT", 587),
			User:          getEnv("SMTP_USER", ""),
			Password:      strings.ReplaceAll(getEnv("SMTP_PASSWORD", ""), " ", ""),
			FromEmail:     getEnv("SMTP_FROM_EMAIL", ""),
			FromName:      getEnv("SMTP_FROM_NAME", "Email Service"),
			UseTLS:        getEnvBool("SMTP_USE_TLS", true),
			Timeout:       time.Duration(getEnvInt("SMTP_TIMEOUT", 30)) * time.Second,
			TemplateDir:   getEnv("TEMPLATE_DIR", "templates/emails"),
			LocalesDir:    getEnv("LOCALES_DIR", "locales"),
			DefaultLocale: getEnv("EMAIL_DEFAULT_LOCALE", "en"),
		},
		Worker: WorkerConfig{
			PollInterval:       time.Duration(getEnvInt("EMAIL_WORKER_POLL_INTERVAL", 10)) * time.Second,
			BatchSize:          getEnvInt("EMAIL_WORKER_BATCH_SIZE", 50),
			Concurrency:        getEnvInt("EMAIL_WORKER_CONCURRENCY", 5),
			RetryMaxAttempts:   getEnvInt("EMAIL_RETRY_MAX_ATTEMPTS", 3),
			RetryBackoff:       time.Duration(getEnvInt("EMAIL_RETRY_BACKOFF_SECONDS", 300)) * time.Second,
			LeaseTimeoutMult:   getEnvInt("EMAIL_WORKER_LEASE_TIMEOUT_MULT", 10),
			QueueRetentionDays: getEnvInt("EMAIL_QUEUE_RETENTION_DAYS", 90),
		},
		API: APIConfig{
			Host:               getEnv("API_HOST", "0.0.0.0"),
			Port:               getEnvInt("API_PORT", 8001),
			Key:                getEnv("API_KEY", ""),
			RateLimitPerSecond: getEnvInt("API_RATE_LIMIT_PER_SECOND", 10),
			RateLimitPerMinute: getEnvInt("API_RATE_LIMIT_PER_MINUTE", 60),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "INFO"),
			ToFile: getEnvBool("LOG_TO_FILE", false),
			Dir:    getEnv("LOG_DIR", "./logs"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return errs.Config("missing required environment variable: DATABASE_URL", nil)
	}
	if strings.TrimSpace(c.Mail.Host) == "" {
		return errs.Config("SMTP_HOST cannot be empty", nil)
	}
	if strings.TrimSpace(c.Mail.FromEmail) == "" {
		return errs.Config("SMTP_FROM_EMAIL cannot be empty", nil)
	}
	if c.Worker.PollInterval < time.Second || c.Worker.PollInterval > 3600*time.Second {
		return errs.Config("EMAIL_WORKER_POLL_INTERVAL must be between 1 and 3600 seconds", nil)
	}
	if c.Worker.BatchSize < 1 || c.Worker.BatchSize > 1000 {
		return errs.Config("EMAIL_WORKER_BATCH_SIZE must be between 1 and 1000", nil)
	}
	if c.Worker.RetryMaxAttempts < 1 || c.Worker.RetryMaxAttempts > 10 {
		return errs.Config("EMAIL_RETRY_MAX_ATTEMPTS must be between 1 and 10", nil)
	}
	if c.Worker.RetryBackoff < 60*time.Second || c.Worker.RetryBackoff > 86400*time.Second {
		return errs.Config("EMAIL_RETRY_BACKOFF_SECONDS must be between 60 and 86400", nil)
	}
	return nil
}

// ValidateSMTP ensures the fields required to actually send mail are
// present. Load already requires SMTP_FROM_EMAIL but tolerates a missing
// SMTP_USER or SMTP_PASSWORD, so the API process can run (and report health
// as not_configured) without SMTP credentials.
func (c *Config) ValidateSMTP() error {
	var missing []string
	if strings.TrimSpace(c.Mail.User) == "" {
		missing = append(missing, "SMTP_USER")
	}
	if strings.TrimSpace(c.Mail.Password) == "" {
		missing = append(missing, "SMTP_PASSWORD")
	}
	if strings.TrimSpace(c.Mail.FromEmail) == "" {
		missing = append(missing, "SMTP_FROM_EMAIL")
	}
	if len(missing) > 0 {
		return errs.Config(fmt.Sprintf("required SMTP settings missing: %s", strings.Join(missing, ", ")), nil)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func getEnvInt(key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
