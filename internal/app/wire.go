package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/parimutuel/internal/blob/s3"
	"github.com/alanyoungcy/parimutuel/internal/cache/redis"
	"github.com/alanyoungcy/parimutuel/internal/clock"
	"github.com/alanyoungcy/parimutuel/internal/config"
	"github.com/alanyoungcy/parimutuel/internal/custody"
	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/events"
	"github.com/alanyoungcy/parimutuel/internal/notify"
	"github.com/alanyoungcy/parimutuel/internal/server/handler"
	"github.com/alanyoungcy/parimutuel/internal/store/memory"
	"github.com/alanyoungcy/parimutuel/internal/store/postgres"
	"github.com/alanyoungcy/parimutuel/internal/store/sqlite"
)

// Dependencies bundles every infrastructure dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function. Optional collaborators are nil when their
// section is disabled.
type Dependencies struct {
	Clock domain.Clock

	// Storage
	EventStore  domain.EventStore
	MarketStore domain.MarketStore

	// Custody
	Token domain.Token

	// Redis
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Leases elects the single writer. Without Redis it only excludes
	// writers inside this process.
	Leases domain.LeaseManager

	// Kafka
	KafkaSink *events.KafkaSink

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Pingers feeds the health endpoint.
	Pingers map[string]handler.Pinger
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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Clock:   clock.System{},
		Pingers: make(map[string]handler.Pinger),
	}

	// --- Event log and projection ---
	switch cfg.Storage.Driver {
	case "postgres":
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
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, func() { _ = pgClient.Close() })

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		pool := pgClient.Pool()
		deps.EventStore = postgres.NewEventStore(pool)
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.Pingers["postgres"] = pgClient

	case "sqlite":
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.EventStore = store
		deps.MarketStore = store
		deps.Pingers["sqlite"] = store

	default:
		logger.WarnContext(ctx, "storage driver is memory; markets are lost on restart")
		deps.EventStore = memory.NewEventStore()
		deps.MarketStore = memory.NewMarketStore()
	}

	// --- Redis ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MaxRetries:   cfg.Redis.MaxRetries,
			TLSEnabled:   cfg.Redis.TLSEnabled,
			Namespace:    cfg.Redis.Namespace,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		locks := redis.NewLockManager(redisClient)
		deps.LockManager = locks
		deps.Leases = locks
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Pingers["redis"] = redisClient
	}
	if deps.Leases == nil {
		deps.Leases = memory.NewLeases()
	}

	// --- Settlement token ---
	decimals := int32(cfg.Custody.Decimals)
	if cfg.Custody.TokenDriver == "redis" {
		if redisClient == nil {
			return fail(fmt.Errorf("wire: token driver redis requires redis.enabled"))
		}
		deps.Token = redis.NewTokenVault(redisClient, cfg.Custody.Symbol, decimals)
	} else {
		deps.Token = custody.NewMemoryToken(cfg.Custody.Symbol, decimals)
	}

	// --- Kafka ---
	if cfg.Kafka.Enabled {
		if err := events.EnsureTopic(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions); err != nil {
			logger.WarnContext(ctx, "wire: kafka topic not ensured; relying on broker auto-create",
				slog.String("topic", cfg.Kafka.Topic),
				slog.String("error", err.Error()),
			)
		}
		sink := events.NewKafkaSink(
			events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic),
			events.Encoding(cfg.Kafka.Encoding),
			cfg.Kafka.WriteTimeout.Duration,
			logger,
		)
		closers = append(closers, func() { _ = sink.Close() })
		deps.KafkaSink = sink
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		bucket, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			bucket,
			bucket,
			deps.EventStore,
			deps.MarketStore,
			deps.LockManager,
			deps.Clock,
			s3blob.ArchiverConfig{
				Prefix:             cfg.Archive.Prefix,
				MinAge:             cfg.Archive.MinAge.Duration,
				BatchSize:          cfg.Archive.BatchSize,
				MultipartThreshold: cfg.Archive.MultipartThresholdMB << 20,
			},
			logger,
		)
		deps.Pingers["s3"] = handler.PingFunc(bucket.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}

// registryAddress is validated by config.Validate.
func registryAddress(cfg *config.Config) common.Address {
	return common.HexToAddress(cfg.Custody.RegistryAddress)
}
