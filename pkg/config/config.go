// Package config loads process configuration from the environment, after
// merging an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process configuration.
type Config struct {
	UpdateInterval     time.Duration
	MaxRetries         int
	RetryDelay         time.Duration
	FetchTimeout       time.Duration
	MaxConcurrency     int
	PerHostConcurrency int
	PerHostRPS         float64
	UserAgent          string

	StoreDriver       string
	DatabaseURL       string
	AgenciesFile      string
	PriorityRulesFile string

	LogLevel     string
	OTelEnabled  bool
	OTLPEndpoint string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NotifyWebhookURL    string
	NotifyWebhookSecret string

	ArchiveBackend  string
	ArchiveBucket   string
	ArchivePrefix   string
	AWSRegion       string
	ArchiveEndpoint string

	problems []error
}

// Load merges .env (if present) into the environment without overriding
// variables that are already set, then reads configuration with defaults.
// Malformed values fall back to the default and are reported by Validate.
func Load() *Config {
	c := &Config{}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.problems = append(c.problems, fmt.Errorf(".env: %w", err))
	}

	c.UpdateInterval = time.Duration(c.intVar("UPDATE_INTERVAL_MINUTES", 60)) * time.Minute
	c.MaxRetries = c.intVar("MAX_RETRIES", 3)
	c.RetryDelay = time.Duration(c.intVar("RETRY_DELAY_SECONDS", 60)) * time.Second
	c.FetchTimeout = time.Duration(c.intVar("FETCH_TIMEOUT_SECONDS", 30)) * time.Second
	c.MaxConcurrency = c.intVar("MAX_CONCURRENCY", 10)
	c.PerHostConcurrency = c.intVar("PER_HOST_CONCURRENCY", 1)
	c.PerHostRPS = c.floatVar("PER_HOST_RPS", 2)
	c.UserAgent = stringVar("USER_AGENT", "RegulationMonitor/1.0")

	c.StoreDriver = strings.ToLower(stringVar("STORE_DRIVER", "sqlite"))
	c.DatabaseURL = stringVar("DATABASE_URL", "file:regmonitor.db?_pragma=journal_mode(WAL)")
	c.AgenciesFile = stringVar("AGENCIES_FILE", "")
	c.PriorityRulesFile = stringVar("PRIORITY_RULES_FILE", "")

	c.LogLevel = strings.ToUpper(stringVar("LOG_LEVEL", "INFO"))
	c.OTelEnabled = c.boolVar("OTEL_ENABLED", false)
	c.OTLPEndpoint = stringVar("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")

	c.RedisAddr = stringVar("REDIS_ADDR", "")
	c.RedisPassword = os.Getenv("REDIS_PASSWORD")
	c.RedisDB = c.intVar("REDIS_DB", 0)

	c.NotifyWebhookURL = stringVar("NOTIFY_WEBHOOK_URL", "")
	c.NotifyWebhookSecret = os.Getenv("NOTIFY_WEBHOOK_SECRET")

	c.ArchiveBackend = strings.ToLower(stringVar("ARCHIVE_BACKEND", "none"))
	c.ArchiveBucket = stringVar("ARCHIVE_BUCKET", "")
	c.ArchivePrefix = stringVar("ARCHIVE_PREFIX", "")
	c.AWSRegion = stringVar("AWS_REGION", "")
	c.ArchiveEndpoint = stringVar("ARCHIVE_ENDPOINT", "")
	return c
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.problems...)
	positive := func(name string, ok bool) {
		if !ok {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	positive("UPDATE_INTERVAL_MINUTES", c.UpdateInterval > 0)
	positive("FETCH_TIMEOUT_SECONDS", c.FetchTimeout > 0)
	positive("MAX_CONCURRENCY", c.MaxConcurrency > 0)
	positive("PER_HOST_CONCURRENCY", c.PerHostConcurrency > 0)
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("MAX_RETRIES must not be negative"))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, errors.New("RETRY_DELAY_SECONDS must not be negative"))
	}
	if c.PerHostRPS < 0 {
		errs = append(errs, errors.New("PER_HOST_RPS must not be negative"))
	}

	switch c.StoreDriver {
	case "sqlite", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of sqlite, postgres, memory", c.StoreDriver))
	}
	if c.StoreDriver != "memory" && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for STORE_DRIVER "+c.StoreDriver))
	}

	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	switch c.ArchiveBackend {
	case "none", "":
	case "s3", "gcs":
		if c.ArchiveBucket == "" {
			errs = append(errs, fmt.Errorf("ARCHIVE_BUCKET is required for ARCHIVE_BACKEND %s", c.ArchiveBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("ARCHIVE_BACKEND %q is not one of none, s3, gcs", c.ArchiveBackend))
	}

	if c.NotifyWebhookURL != "" {
		if u, err := url.Parse(c.NotifyWebhookURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("NOTIFY_WEBHOOK_URL %q is not an absolute url", c.NotifyWebhookURL))
		}
	}
	if c.NotifyWebhookSecret != "" && c.NotifyWebhookURL == "" {
		errs = append(errs, errors.New("NOTIFY_WEBHOOK_SECRET is set without NOTIFY_WEBHOOK_URL"))
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of DEBUG, INFO, WARN, ERROR", c.LogLevel)
}

func stringVar(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func (c *Config) intVar(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.problems = append(c.problems, fmt.Errorf("%s: %q is not an integer", name, v))
		return def
	}
	return n
}

func (c *Config) floatVar(name string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		c.problems = append(c.problems, fmt.Errorf("%s: %q is not a number", name, v))
		return def
	}
	return f
}

func (c *Config) boolVar(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		c.problems = append(c.problems, fmt.Errorf("%s: %q is not a boolean", name, v))
		return def
	}
	return b
}
