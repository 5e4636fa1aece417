package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns defaults completed with the fields Validate requires
// for serve mode.
func validConfig() Config {
	cfg := Defaults()
	cfg.Exchange.BaseURL = "https://api.exchange.test"
	cfg.Exchange.ApiKey = "key"
	cfg.Exchange.ApiSecret = "secret"
	return cfg
}

func TestValidateAcceptsCompletedDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "turbo"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRequiresExchangeForServe(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange: base_url")
	assert.Contains(t, err.Error(), "exchange: api_key")
}

func TestValidateEncryptedSecretNeedsPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Exchange.ApiSecret = ""
	cfg.Exchange.EncryptedSecretPath = "/etc/positiond/secret.json"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret_password")
}

func TestValidateMemoryBackendSkipsPostgres(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Backend = "memory"
	cfg.Postgres = PostgresConfig{}
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadTolerance(t *testing.T) {
	cfg := validConfig()
	cfg.Reconcile.AmountTolerance = "lots"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount_tolerance")

	cfg.Reconcile.AmountTolerance = "-0.1"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount_tolerance must be >= 0")
}

func TestValidateArchiveRequiresS3(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.Enabled = true
	cfg.S3.Bucket = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	content := `
mode = "reconcile"
log_level = "debug"

[reconcile]
interval = "90s"
amount_tolerance = "0.001"

[redis]
addr = "redis.internal:6379"
`
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "reconcile", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 90*time.Second, cfg.Reconcile.Interval.Duration)
	assert.Equal(t, "0.001", cfg.Reconcile.AmountTolerance)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POSITIOND_MODE", "rebuild")
	t.Setenv("POSITIOND_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("POSITIOND_EXCHANGE_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("POSITIOND_RECONCILE_INTERVAL", "30s")
	t.Setenv("POSITIOND_SERVER_CORS_ORIGINS", "https://a.test, https://b.test")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "rebuild", cfg.Mode)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, 2.5, cfg.Exchange.RequestsPerSecond)
	assert.Equal(t, 30*time.Second, cfg.Reconcile.Interval.Duration)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.Server.CORSOrigins)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pgpass"
	cfg.Server.ApiKey = "server-key"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Exchange.ApiKey)
	assert.Equal(t, "***", red.Exchange.ApiSecret)
	assert.Equal(t, "***", red.Server.ApiKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	// The original is untouched.
	assert.Equal(t, "pgpass", cfg.Postgres.Password)
}
