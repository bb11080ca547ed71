package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/parimarket/internal/amount"
	s3blob "github.com/alanyoungcy/parimarket/internal/blob/s3"
	"github.com/alanyoungcy/parimarket/internal/cache/local"
	"github.com/alanyoungcy/parimarket/internal/cache/redis"
	"github.com/alanyoungcy/parimarket/internal/config"
	"github.com/alanyoungcy/parimarket/internal/domain"
	"github.com/alanyoungcy/parimarket/internal/escrow"
	"github.com/alanyoungcy/parimarket/internal/notify"
	"github.com/alanyoungcy/parimarket/internal/store/memory"
	"github.com/alanyoungcy/parimarket/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	MarketStore   domain.MarketStore
	PositionStore domain.PositionStore
	AuditStore    domain.AuditStore
	Escrow        domain.Escrow
	Deriver       escrow.Deriver

	// Coordination. MarketCache is nil when Redis is disabled.
	LockManager domain.LockManager
	EventBus    domain.EventBus
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter

	// Archiver is only set in archive mode.
	Archiver *s3blob.Archiver

	// Notifier is nil when no channel is configured.
	Notifier *notify.Notifier

	// Checks probe each external dependency for the health endpoint.
	Checks map[string]func(context.Context) error
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

	deriver, err := escrow.NewDeriver(cfg.Escrow.Program)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	deps := &Dependencies{
		Deriver: deriver,
		Checks:  make(map[string]func(context.Context) error),
	}

	// --- Primary store ---
	switch strings.ToLower(cfg.Storage) {
	case "memory":
		ledger := escrow.NewLedger(deriver)
		for account, v := range cfg.Escrow.SeedBalances {
			n, err := amount.Parse(v)
			if err != nil {
				return fail(fmt.Errorf("wire: seed balance %s: %w", account, err))
			}
			if err := ledger.Fund(account, n); err != nil {
				return fail(fmt.Errorf("wire: seed balance %s: %w", account, err))
			}
		}
		deps.MarketStore = memory.NewMarketStore()
		deps.PositionStore = memory.NewPositionStore()
		deps.AuditStore = memory.NewAuditStore()
		deps.Escrow = ledger
		logger.WarnContext(ctx, "wire: using in-memory storage; state is lost on exit",
			slog.Int("seeded_accounts", len(cfg.Escrow.SeedBalances)),
		)

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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Escrow = postgres.NewEscrowStore(pool, deriver)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis, or in-process coordination ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		locks := redis.NewLockManager(redisClient)
		locks.OnUnlockError(func(key string, err error) {
			logger.Warn("wire: lock release failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		})
		deps.LockManager = locks
		deps.EventBus = redis.NewEventBus(redisClient)
		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Engine.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.LockManager = local.NewLockManager()
		deps.EventBus = local.NewEventBus()
		deps.RateLimiter = local.NewRateLimiter()
	}

	// --- S3 blob storage (archive mode only) ---
	if strings.EqualFold(cfg.Mode, "archive") {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Checks["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.MarketStore,
			deps.PositionStore,
			deps.AuditStore,
			logger.With(slog.String("component", "archiver")),
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			"",
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if n := notify.NewNotifier(senders, cfg.Notify.Events, cfg.Escrow.AssetDecimals, logger); n.Enabled() {
		deps.Notifier = n
	}

	return deps, cleanup, nil
}
