package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/Crime1000x/moltnba/internal/blob/s3"
	"github.com/Crime1000x/moltnba/internal/cache/redis"
	"github.com/Crime1000x/moltnba/internal/config"
	"github.com/Crime1000x/moltnba/internal/domain"
	"github.com/Crime1000x/moltnba/internal/metrics"
	"github.com/Crime1000x/moltnba/internal/notify"
	"github.com/Crime1000x/moltnba/internal/platform/balldontlie"
	"github.com/Crime1000x/moltnba/internal/platform/polymarket"
	"github.com/Crime1000x/moltnba/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function. Optional
// backends are nil when disabled.
type Dependencies struct {
	// Stores
	Postgres          *postgres.Client
	Tx                domain.Transactor
	MarketStore       domain.MarketStore
	PredictionStore   domain.PredictionStore
	AgentStatsStore   domain.AgentStatsStore
	OddsSnapshotStore domain.OddsSnapshotStore

	// Caches
	Redis       *redis.Client
	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	S3       *s3blob.Client
	Archiver domain.Archiver

	// External providers
	Games  *balldontlie.Client
	Odds   *polymarket.GammaClient
	Stream *polymarket.StreamClient

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
}

// needsPostgres returns true for modes that read or write persisted rows.
func needsPostgres(mode string) bool {
	return mode != "stream"
}

// needsStream returns true for modes that keep a realtime price connection.
func needsStream(cfg *config.Config) bool {
	switch cfg.Mode {
	case "stream":
		return true
	case "full", "server":
		return cfg.Stream.Enabled
	default:
		return false
	}
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

	deps := &Dependencies{Metrics: metrics.New()}

	// --- PostgreSQL ---
	if needsPostgres(cfg.Mode) {
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
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "applied migrations", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		deps.Postgres = pgClient
		deps.Tx = pgClient.Transactor()
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.PredictionStore = postgres.NewPredictionStore(pool)
		deps.AgentStatsStore = postgres.NewAgentStatsStore(pool)
		deps.OddsSnapshotStore = postgres.NewOddsSnapshotStore(pool)
	}

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MaxRetries:   cfg.Redis.MaxRetries,
			TLSEnabled:   cfg.Redis.TLSEnabled,
			StreamMaxLen: int64(cfg.Redis.StreamMaxLen),
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 archive (optional, needs Postgres rows to archive) ---
	if cfg.S3.Enabled && deps.Postgres != nil {
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
		deps.S3 = s3Client
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.OddsSnapshotStore,
			deps.PredictionStore,
		)
	}

	// --- Providers ---
	deps.Games = balldontlie.NewClient(
		cfg.BallDontLie.BaseURL,
		cfg.BallDontLie.APIKey,
		cfg.BallDontLie.RequestsPerMinute,
		cfg.BallDontLie.Timeout.Duration,
	)
	deps.Odds = polymarket.NewGammaClient(
		cfg.Polymarket.GammaHost,
		cfg.Polymarket.RequestsPerSecond,
		cfg.Polymarket.Timeout.Duration,
	)
	if needsStream(cfg) {
		stream := polymarket.NewStreamClient(polymarket.StreamConfig{
			URL:           cfg.Polymarket.WsHost,
			BackoffBase:   cfg.Stream.BackoffBase.Duration,
			BackoffFactor: cfg.Stream.BackoffFactor,
			MaxAttempts:   cfg.Stream.MaxAttempts,
			PingInterval:  cfg.Stream.PingInterval.Duration,
		}, logger)
		closers = append(closers, func() { _ = stream.Close() })
		deps.Stream = stream
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			logger.WarnContext(ctx, "telegram notifications disabled", slog.String("error", err.Error()))
		} else {
			senders = append(senders, tg)
		}
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
