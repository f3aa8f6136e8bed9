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
// built-in defaults, applies PRODEPOOL_* environment variable overrides, and
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

// applyEnvOverrides reads well-known PRODEPOOL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets are injected this way at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Pool ──
	setStr(&cfg.Pool.Name, "PRODEPOOL_POOL_NAME")
	setStr(&cfg.Pool.Deadline, "PRODEPOOL_POOL_DEADLINE")
	setStr(&cfg.Pool.TicketPrice, "PRODEPOOL_POOL_TICKET_PRICE")
	setInt(&cfg.Pool.PrizePercent, "PRODEPOOL_POOL_PRIZE_PERCENT")
	setStringSlice(&cfg.Pool.Schedule, "PRODEPOOL_POOL_SCHEDULE")
	setInt(&cfg.Pool.FixtureCount, "PRODEPOOL_POOL_FIXTURE_COUNT")
	setStr(&cfg.Pool.FirstResultAt, "PRODEPOOL_POOL_FIRST_RESULT_AT")
	setDuration(&cfg.Pool.ResultInterval, "PRODEPOOL_POOL_RESULT_INTERVAL")

	// ── Gateway ──
	setStr(&cfg.Gateway.Address, "PRODEPOOL_GATEWAY_ADDRESS")
	setStr(&cfg.Gateway.EngineAddress, "PRODEPOOL_GATEWAY_ENGINE_ADDRESS")
	setStringSlice(&cfg.Gateway.Approvers, "PRODEPOOL_GATEWAY_APPROVERS")
	setInt(&cfg.Gateway.Threshold, "PRODEPOOL_GATEWAY_THRESHOLD")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "PRODEPOOL_STORAGE_BACKEND")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "PRODEPOOL_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "PRODEPOOL_DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "PRODEPOOL_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "PRODEPOOL_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "PRODEPOOL_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "PRODEPOOL_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "PRODEPOOL_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "PRODEPOOL_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "PRODEPOOL_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "PRODEPOOL_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "PRODEPOOL_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PRODEPOOL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PRODEPOOL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PRODEPOOL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PRODEPOOL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PRODEPOOL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PRODEPOOL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PRODEPOOL_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "PRODEPOOL_REDIS_NAMESPACE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PRODEPOOL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PRODEPOOL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PRODEPOOL_S3_REGION")
	setStr(&cfg.S3.Bucket, "PRODEPOOL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PRODEPOOL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PRODEPOOL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PRODEPOOL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PRODEPOOL_S3_FORCE_PATH_STYLE")

	// ── AMQP ──
	setBool(&cfg.AMQP.Enabled, "PRODEPOOL_AMQP_ENABLED")
	setStr(&cfg.AMQP.URL, "PRODEPOOL_AMQP_URL")
	setStr(&cfg.AMQP.Exchange, "PRODEPOOL_AMQP_EXCHANGE")
	setStr(&cfg.AMQP.RoutingPrefix, "PRODEPOOL_AMQP_ROUTING_PREFIX")

	// ── Events ──
	setInt(&cfg.Events.Buffer, "PRODEPOOL_EVENTS_BUFFER")
	setInt(&cfg.Events.Retries, "PRODEPOOL_EVENTS_RETRIES")

	// ── Signer ──
	setStr(&cfg.Signer.PrivateKey, "PRODEPOOL_SIGNER_PRIVATE_KEY")
	setStr(&cfg.Signer.EncryptedKeyPath, "PRODEPOOL_SIGNER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Signer.KeyPassword, "PRODEPOOL_SIGNER_KEY_PASSWORD")
	setInt64(&cfg.Signer.ChainID, "PRODEPOOL_SIGNER_CHAIN_ID")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PRODEPOOL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PRODEPOOL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PRODEPOOL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PRODEPOOL_SERVER_API_KEY")
	setDuration(&cfg.Server.MaxClockSkew, "PRODEPOOL_SERVER_MAX_CLOCK_SKEW")
	setInt(&cfg.Server.RateLimit, "PRODEPOOL_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PRODEPOOL_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PRODEPOOL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PRODEPOOL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PRODEPOOL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PRODEPOOL_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.WatchInterval, "PRODEPOOL_NOTIFY_WATCH_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "PRODEPOOL_MODE")
	setStr(&cfg.LogLevel, "PRODEPOOL_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
