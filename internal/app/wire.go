package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/prodepool/internal/blob/s3"
	"github.com/alanyoungcy/prodepool/internal/cache/redis"
	"github.com/alanyoungcy/prodepool/internal/config"
	"github.com/alanyoungcy/prodepool/internal/crypto"
	"github.com/alanyoungcy/prodepool/internal/domain"
	"github.com/alanyoungcy/prodepool/internal/events"
	"github.com/alanyoungcy/prodepool/internal/notify"
	"github.com/alanyoungcy/prodepool/internal/registry"
	"github.com/alanyoungcy/prodepool/internal/server/handler"
	"github.com/alanyoungcy/prodepool/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
// Optional backends are nil when disabled.
type Dependencies struct {
	// Stores
	Registry   domain.TicketRegistry
	EventStore domain.EventStore
	AuditStore domain.AuditStore
	// Units spans Registry and EventStore writes.
	Units domain.Transactor

	// Redis
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	Counters    *redis.EventCounters

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Outbound
	AMQP     *events.AMQPSink
	Notifier *notify.Notifier

	// Signer signs archived reports; nil when no operator key is set.
	Signer *crypto.Signer

	// Checks pings every connected backend for /api/health.
	Checks map[string]handler.Check
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

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Tickets and journal ---
	switch cfg.Storage.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		stores := pgClient.Stores(cfg.Pool.Name)
		deps.Registry = stores.Tickets
		deps.EventStore = stores.Events
		deps.AuditStore = stores.Audit
		deps.Units = stores.Tx
		deps.Checks["postgres"] = pgClient.Ping
	default:
		logger.Warn("using in-memory storage; state is lost on restart")
		deps.Registry = registry.NewMemory()
		deps.EventStore = events.NewMemoryStore()
		deps.Units = domain.LocalUnits{}
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace + ":" + cfg.Pool.Name,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Counters = redis.NewEventCounters(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 report archive ---
	if cfg.S3.Enabled {
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
		deps.BlobWriter = s3Client
		deps.BlobReader = s3Client
		deps.Checks["s3"] = s3Client.Health
	}

	// --- AMQP ---
	if cfg.AMQP.Enabled {
		sink := events.NewAMQPSink(events.AMQPConfig{
			URL:           cfg.AMQP.URL,
			Exchange:      cfg.AMQP.Exchange,
			RoutingPrefix: routingPrefix(cfg),
			Heartbeat:     cfg.AMQP.Heartbeat.Duration,
		}, logger)
		closers = append(closers, func() { _ = sink.Close() })
		deps.AMQP = sink
	}

	// --- Operator key ---
	if cfg.Signer.HasKey() {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Signer.PrivateKey,
			EncryptedKeyPath: cfg.Signer.EncryptedKeyPath,
			KeyPassword:      cfg.Signer.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: signer: %w", err))
		}
		deps.Signer = crypto.NewSigner(key, cfg.Signer.ChainID)
		logger.Info("operator key loaded", slog.String("address", deps.Signer.Address().Hex()))
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

func routingPrefix(cfg *config.Config) string {
	if cfg.AMQP.RoutingPrefix != "" {
		return cfg.AMQP.RoutingPrefix
	}
	return cfg.Pool.Name
}

// counterSnapshot adapts the Redis counters to the health handler, or returns
// nil when Redis is disabled.
func (d *Dependencies) counterSnapshot() func(ctx context.Context) (any, error) {
	if d.Counters == nil {
		return nil
	}
	return func(ctx context.Context) (any, error) {
		return d.Counters.Snapshot(ctx)
	}
}

// dispatcherConfig maps the events section onto the dispatcher.
func dispatcherConfig(cfg *config.Config) events.DispatcherConfig {
	return events.DispatcherConfig{
		Buffer:  cfg.Events.Buffer,
		Retries: cfg.Events.Retries,
		Backoff: cfg.Events.Backoff.Duration,
		Timeout: cfg.Events.Timeout.Duration,
	}
}
