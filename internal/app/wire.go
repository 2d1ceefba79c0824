package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/limitorder/internal/blob/s3"
	"github.com/alanyoungcy/limitorder/internal/cache/redis"
	"github.com/alanyoungcy/limitorder/internal/config"
	"github.com/alanyoungcy/limitorder/internal/crypto"
	"github.com/alanyoungcy/limitorder/internal/domain"
	"github.com/alanyoungcy/limitorder/internal/engine"
	"github.com/alanyoungcy/limitorder/internal/metrics"
	"github.com/alanyoungcy/limitorder/internal/notify"
	"github.com/alanyoungcy/limitorder/internal/platform/exchange"
	"github.com/alanyoungcy/limitorder/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Fields a mode does not need are left nil.
type Dependencies struct {
	Tokens *domain.TokenRegistry
	Limits engine.Limits

	// Stores
	Postgres   *postgres.Client
	OrderStore *postgres.OrderStore
	AuditStore *postgres.AuditStore

	// Caches
	Redis       *redis.Client
	Sessions    domain.SessionStore
	RateCache   domain.RateCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	S3       *s3blob.Client
	Archiver domain.Archiver

	// Order service
	Exchange *exchange.Client

	Notifier *notify.Notifier
	Metrics  *metrics.Registry
}

// needsRedis returns true for modes that keep session state or publish
// events.
func needsRedis(mode string) bool {
	return mode == "server" || mode == "watch"
}

// needsExchange returns true for modes that talk to the order service.
func needsExchange(mode string) bool {
	return mode == "server" || mode == "watch"
}

// needsS3 returns true for modes that require object storage.
func needsS3(mode string) bool {
	return mode == "archive"
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
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Metrics: metrics.New()}

	tokens, err := cfg.TokenRegistry()
	if err != nil {
		return fail("tokens", err)
	}
	deps.Tokens = tokens
	if deps.Limits, err = cfg.NotionalLimits(); err != nil {
		return fail("limits", err)
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.MaxConns,
		MinConns: cfg.Postgres.MinConns,
	})
	if err != nil {
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)
	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}
	deps.Postgres = pgClient
	deps.OrderStore = postgres.NewOrderStore(pgClient.Pool(), tokens)
	deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())

	// --- Redis ---
	if needsRedis(cfg.Mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.Sessions = redis.NewSessionStore(redisClient, cfg.Redis.SessionTTL.Duration)
		deps.RateCache = redis.NewRateCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	}

	// --- S3 blob storage ---
	if needsS3(cfg.Mode) {
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
			return fail("s3", err)
		}
		deps.S3 = s3Client
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.OrderStore,
			deps.AuditStore,
			logger,
		)
	}

	// --- Order service ---
	if needsExchange(cfg.Mode) {
		var auth *crypto.HMACAuth
		if cfg.Exchange.APIKey != "" {
			auth = &crypto.HMACAuth{
				Key:        cfg.Exchange.APIKey,
				Secret:     cfg.Exchange.APISecret,
				Passphrase: cfg.Exchange.APIPassphrase,
			}
		}
		deps.Exchange = exchange.NewClient(exchange.Config{
			BaseURL:           cfg.Exchange.BaseURL,
			Timeout:           cfg.Exchange.Timeout.Duration,
			RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
			Burst:             cfg.Exchange.Burst,
			BreakerFailures:   cfg.Exchange.BreakerFailures,
			BreakerTimeout:    cfg.Exchange.BreakerTimeout.Duration,
		}, auth, tokens, logger)
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

	return deps, cleanup, nil
}
