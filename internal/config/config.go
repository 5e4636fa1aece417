// Package config defines the top-level configuration for the position engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POSITIOND_* environment variables.
type Config struct {
	Storage    StorageConfig    `toml:"storage"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Exchange   ExchangeConfig   `toml:"exchange"`
	Reconcile  ReconcileConfig  `toml:"reconcile"`
	Locks      LocksConfig      `toml:"locks"`
	PriceCache PriceCacheConfig `toml:"price_cache"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// StorageConfig selects which event log / position store implementation backs
// the engine.
type StorageConfig struct {
	// Backend is "postgres" for durable storage or "memory" for ephemeral
	// in-process storage (development and tests only).
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters for the durable event
// log and position store.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the signal bus and the
// mark price cache.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for event log
// archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the event log archiver. Archival never deletes
// events from the primary log; it only exports segments to object storage.
type ArchiveConfig struct {
	Enabled     bool     `toml:"enabled"`
	SegmentSize int      `toml:"segment_size"`
	Interval    duration `toml:"interval"`
	Verify      bool     `toml:"verify"`
}

// ExchangeConfig holds exchange API endpoints and credentials. Exactly one of
// ApiSecret or EncryptedSecretPath should be set; the encrypted form also
// requires SecretPassword.
type ExchangeConfig struct {
	BaseURL             string   `toml:"base_url"`
	ApiKey              string   `toml:"api_key"`
	ApiSecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RequestsPerSecond   float64  `toml:"requests_per_second"`
	Timeout             duration `toml:"timeout"`
}

// ReconcileConfig holds reconciliation loop parameters.
type ReconcileConfig struct {
	Interval duration `toml:"interval"`
	// AmountTolerance is the maximum absolute quantity drift treated as
	// matched, as a decimal string (e.g. "0.00000001").
	AmountTolerance string `toml:"amount_tolerance"`
}

// LocksConfig holds per-position lock parameters.
type LocksConfig struct {
	AcquireTimeout duration `toml:"acquire_timeout"`
}

// PriceCacheConfig holds mark price cache parameters.
type PriceCacheConfig struct {
	// MaxAge is how old a cached mark price may be before reads treat it as
	// missing.
	MaxAge duration `toml:"max_age"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled           bool     `toml:"enabled"`
	Port              int      `toml:"port"`
	CORSOrigins       []string `toml:"cors_origins"`
	ApiKey            string   `toml:"api_key"`
	RequestsPerSecond int      `toml:"requests_per_second"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{
			Backend: "postgres",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "positions",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "position-events",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:     false,
			SegmentSize: 10_000,
			Interval:    duration{1 * time.Hour},
			Verify:      true,
		},
		Exchange: ExchangeConfig{
			RequestsPerSecond: 5,
			Timeout:           duration{30 * time.Second},
		},
		Reconcile: ReconcileConfig{
			Interval:        duration{5 * time.Minute},
			AmountTolerance: "0.00000001",
		},
		Locks: LocksConfig{
			AcquireTimeout: duration{5 * time.Second},
		},
		PriceCache: PriceCacheConfig{
			MaxAge: duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled:           true,
			Port:              8000,
			CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
			RequestsPerSecond: 0,
		},
		Notify: NotifyConfig{
			Events: []string{"position_orphaned", "position_resolved", "reconcile_failed"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":     true,
	"reconcile": true,
	"rebuild":   true,
	"archive":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validBackends enumerates the accepted values for StorageConfig.Backend.
var validBackends = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, reconcile, rebuild, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	if !validBackends[strings.ToLower(c.Storage.Backend)] {
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: postgres, memory)", c.Storage.Backend))
	}

	// Postgres — only checked when it actually backs the engine.
	if strings.ToLower(c.Storage.Backend) == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Exchange — required for the modes that talk to the exchange.
	needsExchange := c.Mode == "serve" || c.Mode == "reconcile"
	if needsExchange {
		if c.Exchange.BaseURL == "" {
			errs = append(errs, "exchange: base_url must not be empty for mode "+c.Mode)
		}
		if c.Exchange.ApiKey == "" {
			errs = append(errs, "exchange: api_key must not be empty for mode "+c.Mode)
		}
		if c.Exchange.ApiSecret == "" && c.Exchange.EncryptedSecretPath == "" {
			errs = append(errs, "exchange: either api_secret or encrypted_secret_path must be set for mode "+c.Mode)
		}
		if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
			errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
		}
		if c.Exchange.RequestsPerSecond <= 0 {
			errs = append(errs, "exchange: requests_per_second must be > 0")
		}
	}

	// Reconcile
	if needsExchange {
		if c.Reconcile.Interval.Duration <= 0 {
			errs = append(errs, "reconcile: interval must be > 0")
		}
		if tol, err := decimal.NewFromString(c.Reconcile.AmountTolerance); err != nil {
			errs = append(errs, fmt.Sprintf("reconcile: amount_tolerance %q is not a valid decimal", c.Reconcile.AmountTolerance))
		} else if tol.IsNegative() {
			errs = append(errs, "reconcile: amount_tolerance must be >= 0")
		}
	}

	// Locks
	if c.Locks.AcquireTimeout.Duration < 0 {
		errs = append(errs, "locks: acquire_timeout must be >= 0")
	}

	// Price cache
	if c.PriceCache.MaxAge.Duration <= 0 {
		errs = append(errs, "price_cache: max_age must be > 0")
	}

	// Archive — S3 connectivity is only needed when archival can run.
	if c.Archive.Enabled || c.Mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archival is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archival is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archival is enabled")
		}
		if c.Archive.SegmentSize < 1 {
			errs = append(errs, "archive: segment_size must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 && c.Mode != "archive" {
			errs = append(errs, "archive: interval must be > 0 when enabled")
		}
	}

	// Server
	if c.Server.Enabled && c.Mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RequestsPerSecond < 0 {
			errs = append(errs, "server: requests_per_second must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// AmountToleranceDecimal parses the reconcile tolerance. Call Validate first;
// an unparseable value falls back to zero here.
func (c *Config) AmountToleranceDecimal() decimal.Decimal {
	tol, err := decimal.NewFromString(c.Reconcile.AmountTolerance)
	if err != nil {
		return decimal.Zero
	}
	return tol
}
