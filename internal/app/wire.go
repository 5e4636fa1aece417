package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "positionengine/internal/blob/s3"
	"positionengine/internal/cache/redis"
	"positionengine/internal/config"
	"positionengine/internal/crypto"
	"positionengine/internal/domain"
	"positionengine/internal/engine"
	"positionengine/internal/exchange"
	"positionengine/internal/notify"
	"positionengine/internal/store/memory"
	"positionengine/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Storage
	EventLog      domain.EventLog
	PositionStore domain.PositionStore

	// Redis-backed plumbing (nil outside serve/reconcile modes)
	SignalBus domain.SignalBus
	Prices    domain.PriceSource

	// Exchange ground truth (nil outside serve/reconcile modes)
	Exchange domain.ExchangeAdapter

	// Blob archival (nil unless archival is active)
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	// The position service facade. Always wired.
	Service *engine.Service
}

// needsRedis returns true for modes that use the signal bus or price cache.
func needsRedis(mode string) bool {
	switch mode {
	case "serve", "reconcile":
		return true
	default:
		return false
	}
}

// needsExchange returns true for modes that talk to the exchange.
func needsExchange(mode string) bool {
	switch mode {
	case "serve", "reconcile":
		return true
	default:
		return false
	}
}

// needsS3 returns true when event log archival is active in this mode.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "archive" || (cfg.Archive.Enabled && cfg.Mode == "serve")
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Storage backend ---
	switch cfg.Storage.Backend {
	case "memory":
		deps.EventLog = memory.NewEventLog()
		deps.PositionStore = memory.NewPositionStore()
		logger.WarnContext(ctx, "using in-memory storage; all state is lost on restart")
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.EventLog = postgres.NewEventLog(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
	}

	// --- Redis (signal bus and mark price cache) ---
	if needsRedis(cfg.Mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Prices = redis.NewPriceCache(redisClient, cfg.PriceCache.MaxAge.Duration)
	}

	// --- Exchange client ---
	if needsExchange(cfg.Mode) {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:           cfg.Exchange.ApiSecret,
			EncryptedSecretPath: cfg.Exchange.EncryptedSecretPath,
			Password:            cfg.Exchange.SecretPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: exchange secret: %w", err)
		}
		deps.Exchange = exchange.NewClient(exchange.ClientConfig{
			BaseURL:           cfg.Exchange.BaseURL,
			APIKey:            cfg.Exchange.ApiKey,
			APISecret:         secret,
			RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
			Timeout:           cfg.Exchange.Timeout.Duration,
		})
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- S3 blob archival ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		var verifier s3blob.SegmentVerifier
		if cfg.Archive.Verify {
			verifier = s3blob.NewReader(s3Client)
		}
		deps.Archiver = s3blob.NewArchiver(
			deps.EventLog,
			s3blob.NewWriter(s3Client),
			verifier,
			cfg.Archive.SegmentSize,
			logger,
		)
	}

	// --- Position service ---
	ids := engine.NewIDGenerator()
	if err := ids.Seed(ctx, deps.EventLog); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: seed id generator: %w", err)
	}
	locks := engine.NewKeyedLock(cfg.Locks.AcquireTimeout.Duration)
	deps.Service = engine.NewService(
		deps.EventLog,
		deps.PositionStore,
		ids,
		locks,
		deps.SignalBus,
		deps.Notifier,
		logger,
	)

	return deps, cleanup, nil
}
