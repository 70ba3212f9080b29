package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Chapsvision-dev/backup-gateway/internal/retry"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	HTTPListenAddr string

	// Record store
	StoreDriver    string
	DatabaseURL    string
	MigrateOnStart bool

	Signing SigningConfig

	// Backup naming
	BackupTimestampFormat string

	SFTP SFTPConfig
	API  APIConfig

	LogLevel  string
	LogFormat string

	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryMultiplier   float64
	RetryEnableJitter bool
}

type SigningConfig struct {
	// DefaultKey signs requests that are not scoped to an origin
	// (availability, registration, destination administration).
	DefaultKey string
	// MaxAge bounds the age of a signed request's timestamp; 0 disables the check.
	MaxAge time.Duration
}

type SFTPConfig struct {
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	KnownHosts     string // optional known_hosts file; empty accepts any host key
}

type APIConfig struct {
	Timeout time.Duration
}

// Load reads config from environment variables, applies defaults and validates.
func Load() (Config, error) {
	get := func(key, def string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return def
	}

	parseInt := func(key string, def int) int {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				return n
			}
		}
		return def
	}

	parseDur := func(key string, def time.Duration) time.Duration {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
		}
		return def
	}

	parseFloat := func(key string, def float64) float64 {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				return f
			}
		}
		return def
	}

	parseBool := func(key string, def bool) bool {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "y", "on":
				return true
			case "0", "false", "no", "n", "off":
				return false
			}
		}
		return def
	}

	cfg := Config{
		HTTPListenAddr: get("HTTP_LISTEN_ADDR", ":8080"),

		StoreDriver:    strings.ToLower(strings.TrimSpace(get("STORE_DRIVER", StorePostgres))),
		DatabaseURL:    strings.TrimSpace(get("DATABASE_URL", "")),
		MigrateOnStart: parseBool("MIGRATE_ON_START", false),

		Signing: SigningConfig{
			DefaultKey: get("SIGNATURE_KEY", ""),
			MaxAge:     parseDur("SIGNATURE_MAX_AGE", 0),
		},

		BackupTimestampFormat: get("BACKUP_TIMESTAMP_FORMAT", "2006-01-02T15-04-05Z"),

		SFTP: SFTPConfig{
			ConnectTimeout: parseDur("SFTP_CONNECT_TIMEOUT", 10*time.Second),
			IOTimeout:      parseDur("SFTP_IO_TIMEOUT", 60*time.Second),
			KnownHosts:     strings.TrimSpace(get("SFTP_KNOWN_HOSTS", "")),
		},
		API: APIConfig{
			Timeout: parseDur("API_TIMEOUT", 30*time.Second),
		},

		LogLevel:  get("LOG_LEVEL", "info"),
		LogFormat: get("LOG_FORMAT", "json"),

		RetryMaxAttempts:  parseInt("RETRY_MAX_ATTEMPTS", retry.Default.MaxAttempts),
		RetryInitialDelay: parseDur("RETRY_INITIAL_DELAY", retry.Default.InitialDelay),
		RetryMaxDelay:     parseDur("RETRY_MAX_DELAY", retry.Default.MaxDelay),
		RetryMultiplier:   parseFloat("RETRY_MULTIPLIER", retry.Default.Multiplier),
		RetryEnableJitter: parseBool("RETRY_JITTER", retry.Default.Jitter),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks store and signing requirements.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Signing.DefaultKey) == "" {
		return errors.New("SIGNATURE_KEY is required")
	}
	if c.Signing.MaxAge < 0 {
		return errors.New("SIGNATURE_MAX_AGE must not be negative")
	}
	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("postgres: DATABASE_URL is required")
		}
	case StoreMemory:
		if c.MigrateOnStart {
			return errors.New("memory store: MIGRATE_ON_START is not applicable")
		}
	default:
		return errors.New("unsupported store driver: " + c.StoreDriver)
	}
	if c.SFTP.ConnectTimeout <= 0 || c.SFTP.IOTimeout <= 0 {
		return errors.New("sftp timeouts must be positive")
	}
	return nil
}

// RetryOptions converts retry-related config values to retry.Options.
func (c Config) RetryOptions() retry.Options {
	return retry.Options{
		MaxAttempts:  c.RetryMaxAttempts,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
		Multiplier:   c.RetryMultiplier,
		Jitter:       c.RetryEnableJitter,
	}
}
