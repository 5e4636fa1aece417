package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POSITIOND_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POSITIOND_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Backend, "POSITIOND_STORAGE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POSITIOND_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POSITIOND_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSITIOND_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSITIOND_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSITIOND_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSITIOND_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSITIOND_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSITIOND_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSITIOND_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSITIOND_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POSITIOND_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POSITIOND_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POSITIOND_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POSITIOND_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POSITIOND_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POSITIOND_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POSITIOND_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POSITIOND_S3_REGION")
	setStr(&cfg.S3.Bucket, "POSITIOND_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POSITIOND_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POSITIOND_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POSITIOND_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POSITIOND_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POSITIOND_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.SegmentSize, "POSITIOND_ARCHIVE_SEGMENT_SIZE")
	setDuration(&cfg.Archive.Interval, "POSITIOND_ARCHIVE_INTERVAL")
	setBool(&cfg.Archive.Verify, "POSITIOND_ARCHIVE_VERIFY")

	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "POSITIOND_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.ApiKey, "POSITIOND_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "POSITIOND_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedSecretPath, "POSITIOND_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "POSITIOND_EXCHANGE_SECRET_PASSWORD")
	setFloat64(&cfg.Exchange.RequestsPerSecond, "POSITIOND_EXCHANGE_REQUESTS_PER_SECOND")
	setDuration(&cfg.Exchange.Timeout, "POSITIOND_EXCHANGE_TIMEOUT")

	// ── Reconcile ──
	setDuration(&cfg.Reconcile.Interval, "POSITIOND_RECONCILE_INTERVAL")
	setStr(&cfg.Reconcile.AmountTolerance, "POSITIOND_RECONCILE_AMOUNT_TOLERANCE")

	// ── Locks ──
	setDuration(&cfg.Locks.AcquireTimeout, "POSITIOND_LOCKS_ACQUIRE_TIMEOUT")

	// ── Price cache ──
	setDuration(&cfg.PriceCache.MaxAge, "POSITIOND_PRICE_CACHE_MAX_AGE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POSITIOND_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POSITIOND_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POSITIOND_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.ApiKey, "POSITIOND_SERVER_API_KEY")
	setInt(&cfg.Server.RequestsPerSecond, "POSITIOND_SERVER_REQUESTS_PER_SECOND")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POSITIOND_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POSITIOND_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POSITIOND_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POSITIOND_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POSITIOND_MODE")
	setStr(&cfg.LogLevel, "POSITIOND_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
