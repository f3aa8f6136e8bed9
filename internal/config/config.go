// Package config defines the top-level configuration for a prediction pool
// node and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PRODEPOOL_* environment variables.
type Config struct {
	Pool     PoolConfig     `toml:"pool"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Storage  StorageConfig  `toml:"storage"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	AMQP     AMQPConfig     `toml:"amqp"`
	Events   EventsConfig   `toml:"events"`
	Signer   SignerConfig   `toml:"signer"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PoolConfig describes the pool: its betting deadline, price and slate.
type PoolConfig struct {
	Name string `toml:"name"`
	// Deadline closes ticket sales (RFC 3339).
	Deadline string `toml:"deadline"`
	// TicketPrice is in ether, e.g. "0.1".
	TicketPrice  string `toml:"ticket_price"`
	PrizePercent int    `toml:"prize_percent"`
	// Schedule lists, per fixture, the earliest time its result may be
	// recorded (RFC 3339). When empty, FixtureCount fixtures are spaced
	// ResultInterval apart from FirstResultAt.
	Schedule       []string `toml:"schedule"`
	FixtureCount   int      `toml:"fixture_count"`
	FirstResultAt  string   `toml:"first_result_at"`
	ResultInterval duration `toml:"result_interval"`
}

// GatewayConfig holds the approver set of the authorization gateway.
type GatewayConfig struct {
	// Address is the identity the gateway presents to the engine.
	Address string `toml:"address"`
	// EngineAddress is the target address gateway requests are bound to.
	EngineAddress string   `toml:"engine_address"`
	Approvers     []string `toml:"approvers"`
	Threshold     int      `toml:"threshold"`
}

// StorageConfig selects where tickets and the event journal live.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters for the report
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// AMQPConfig holds the broker events are published to.
type AMQPConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           string   `toml:"url"`
	Exchange      string   `toml:"exchange"`
	RoutingPrefix string   `toml:"routing_prefix"`
	Heartbeat     duration `toml:"heartbeat"`
}

// EventsConfig tunes delivery of committed events to sinks.
type EventsConfig struct {
	Buffer  int      `toml:"buffer"`
	Retries int      `toml:"retries"`
	Backoff duration `toml:"backoff"`
	// Timeout bounds one sink call and the drain of queued events at
	// shutdown.
	Timeout duration `toml:"timeout"`
}

// SignerConfig holds the operator key that signs settlement reports.
type SignerConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ChainID          int64  `toml:"chain_id"`
}

// HasKey reports whether an operator key source is configured.
func (s SignerConfig) HasKey() bool {
	return s.PrivateKey != "" || s.EncryptedKeyPath != ""
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// MaxClockSkew bounds signed request timestamps.
	MaxClockSkew duration `toml:"max_clock_skew"`
	// RateLimit is requests per RateWindow per client; zero disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// WatchInterval is how often the fixture watcher polls the clock.
	WatchInterval duration `toml:"watch_interval"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Pool: PoolConfig{
			Name:           "worldcup",
			TicketPrice:    "0.1",
			PrizePercent:   80,
			FixtureCount:   domain.DefaultFixtureCount,
			ResultInterval: duration{6 * time.Hour},
		},
		Gateway: GatewayConfig{
			Address:       "0x00000000000000000000000000000000006a7e00",
			EngineAddress: "0x0000000000000000000000000000000000e4a1e0",
			Threshold:     1,
		},
		Storage: StorageConfig{Backend: "memory"},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "prodepool",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "prodepool-reports",
			ForcePathStyle: true,
		},
		AMQP: AMQPConfig{
			Exchange:  "prodepool",
			Heartbeat: duration{60 * time.Second},
		},
		Events: EventsConfig{
			Buffer:  1024,
			Retries: 3,
			Backoff: duration{200 * time.Millisecond},
			Timeout: duration{10 * time.Second},
		},
		Signer: SignerConfig{ChainID: 1},
		Server: ServerConfig{
			Enabled:      true,
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			MaxClockSkew: duration{5 * time.Minute},
			RateLimit:    120,
			RateWindow:   duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{
				string(domain.EventFixtureResultRecorded),
				string(domain.EventScoringCompleted),
				string(domain.EventRequestSubmitted),
				"betting_closed",
				"fixture_due",
				"scoring_ready",
			},
			WatchInterval: duration{time.Minute},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"replay": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, replay)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Pool
	if c.Pool.Name == "" {
		errs = append(errs, "pool: name must not be empty")
	}
	deadline, err := c.Pool.DeadlineTime()
	if err != nil {
		errs = append(errs, "pool: "+err.Error())
	}
	if _, err := c.Pool.TicketPriceWei(); err != nil {
		errs = append(errs, "pool: "+err.Error())
	}
	if c.Pool.PrizePercent < 1 || c.Pool.PrizePercent > 100 {
		errs = append(errs, fmt.Sprintf("pool: prize_percent must be 1-100, got %d", c.Pool.PrizePercent))
	}
	if schedule, err := c.Pool.ScheduleTimes(); err != nil {
		errs = append(errs, "pool: "+err.Error())
	} else if !deadline.IsZero() && len(schedule) > 0 && schedule[0].Before(deadline) {
		errs = append(errs, "pool: the first fixture result is due before the betting deadline")
	}

	// Gateway
	if !common.IsHexAddress(c.Gateway.Address) {
		errs = append(errs, fmt.Sprintf("gateway: invalid address %q", c.Gateway.Address))
	}
	if !common.IsHexAddress(c.Gateway.EngineAddress) {
		errs = append(errs, fmt.Sprintf("gateway: invalid engine_address %q", c.Gateway.EngineAddress))
	}
	if _, err := c.Gateway.ApproverAddresses(); err != nil {
		errs = append(errs, "gateway: "+err.Error())
	} else if c.Gateway.Threshold < 1 || c.Gateway.Threshold > len(c.Gateway.Approvers) {
		errs = append(errs, fmt.Sprintf("gateway: threshold must be 1-%d, got %d", len(c.Gateway.Approvers), c.Gateway.Threshold))
	}

	// Storage
	switch c.Storage.Backend {
	case "memory":
		if c.Mode == "replay" {
			errs = append(errs, "storage: replay mode needs the postgres backend")
		}
	case "postgres":
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: memory, postgres)", c.Storage.Backend))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			errs = append(errs, "s3: access_key and secret_key must be set together (or both left empty for the default credential chain)")
		}
	}

	// AMQP
	if c.AMQP.Enabled {
		if c.AMQP.URL == "" {
			errs = append(errs, "amqp: url must not be empty")
		}
		if c.AMQP.Exchange == "" {
			errs = append(errs, "amqp: exchange must not be empty")
		}
	}

	// Signer
	if c.Signer.EncryptedKeyPath != "" && c.Signer.KeyPassword == "" {
		errs = append(errs, "signer: key_password is required when encrypted_key_path is set")
	}
	if c.Signer.ChainID <= 0 {
		errs = append(errs, "signer: chain_id must be positive")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// DeadlineTime parses the betting deadline.
func (p PoolConfig) DeadlineTime() (time.Time, error) {
	if p.Deadline == "" {
		return time.Time{}, fmt.Errorf("deadline must be set")
	}
	t, err := time.Parse(time.RFC3339, p.Deadline)
	if err != nil {
		return time.Time{}, fmt.Errorf("deadline: %w", err)
	}
	return t, nil
}

// TicketPriceWei converts the ether ticket price to wei.
func (p PoolConfig) TicketPriceWei() (*big.Int, error) {
	wei, err := domain.ParseEther(p.TicketPrice)
	if err != nil || wei.Sign() <= 0 {
		return nil, fmt.Errorf("ticket_price %q must be a positive ether amount", p.TicketPrice)
	}
	return wei, nil
}

// ScheduleTimes returns the earliest result time of every fixture.
func (p PoolConfig) ScheduleTimes() ([]time.Time, error) {
	if len(p.Schedule) > 0 {
		out := make([]time.Time, 0, len(p.Schedule))
		for i, s := range p.Schedule {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, fmt.Errorf("schedule[%d]: %w", i, err)
			}
			out = append(out, t)
		}
		return out, nil
	}

	if p.FixtureCount < 1 {
		return nil, fmt.Errorf("fixture_count must be >= 1 when schedule is empty")
	}
	if p.FirstResultAt == "" {
		return nil, fmt.Errorf("schedule or first_result_at must be set")
	}
	first, err := time.Parse(time.RFC3339, p.FirstResultAt)
	if err != nil {
		return nil, fmt.Errorf("first_result_at: %w", err)
	}
	if p.ResultInterval.Duration < 0 {
		return nil, fmt.Errorf("result_interval must not be negative")
	}
	out := make([]time.Time, p.FixtureCount)
	for i := range out {
		out[i] = first.Add(time.Duration(i) * p.ResultInterval.Duration)
	}
	return out, nil
}

// ApproverAddresses parses the approver list.
func (g GatewayConfig) ApproverAddresses() ([]common.Address, error) {
	if len(g.Approvers) == 0 {
		return nil, fmt.Errorf("at least one approver is required")
	}
	out := make([]common.Address, 0, len(g.Approvers))
	seen := make(map[common.Address]bool, len(g.Approvers))
	for _, raw := range g.Approvers {
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("invalid approver %q", raw)
		}
		addr := common.HexToAddress(raw)
		if seen[addr] {
			return nil, fmt.Errorf("duplicate approver %s", addr.Hex())
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out, nil
}
