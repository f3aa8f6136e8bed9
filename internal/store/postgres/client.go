// Package postgres persists the pool in PostgreSQL via pgx: the ticket
// registry, the event journal and the audit log. Every table is keyed by pool
// name so several pools can share one database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// ClientConfig holds connection parameters for the PostgreSQL client.
type ClientConfig struct {
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns cfg.DSN when set, otherwise a URL assembled from the parts.
func DSN(cfg ClientConfig) string {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn
	}
	port, sslMode := cfg.Port, cfg.SSLMode
	if port == 0 {
		port = 5432
	}
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, port, cfg.Database, sslMode)
}

// Client owns the connection pool shared by every pool's stores.
type Client struct {
	db *pgxpool.Pool
}

// New connects and pings the database.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	poolCfg.ConnConfig.DialFunc = dialPreferIPv4

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Client{db: db}, nil
}

// PoolStores groups the stores of one pool.
type PoolStores struct {
	Tickets *TicketRegistry
	Events  *EventStore
	Audit   *AuditStore
	Tx      *Transactor
}

// Stores returns the stores scoped to the named pool.
func (c *Client) Stores(pool string) PoolStores {
	return PoolStores{
		Tickets: NewTicketRegistry(c.db, pool),
		Events:  NewEventStore(c.db, pool),
		Audit:   NewAuditStore(c.db, pool),
		Tx:      &Transactor{db: c.db, pool: pool},
	}
}

// Ping reports whether the database is reachable. It is the health check.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.Ping(ctx)
}

// Close shuts down the connection pool.
func (c *Client) Close() {
	c.db.Close()
}

// dialPreferIPv4 tries every IPv4 address of the host before falling back to
// the default dialer. Managed Postgres hosts often publish AAAA records that
// are unreachable from IPv4-only networks.
func dialPreferIPv4(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("postgres: split host/port %q: %w", addr, err)
	}
	var d net.Dialer

	if ip := net.ParseIP(host); ip != nil {
		family := "tcp6"
		if ip.To4() != nil {
			family = "tcp4"
		}
		return d.DialContext(ctx, family, net.JoinHostPort(ip.String(), port))
	}

	ips, lookupErr := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	for _, ip := range ips {
		if conn, err := d.DialContext(ctx, "tcp4", net.JoinHostPort(ip.String(), port)); err == nil {
			return conn, nil
		}
	}

	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("postgres: dial %q: %w", addr, errors.Join(lookupErr, err))
	}
	return conn, nil
}

type txKey struct{}

// poolTx is the transaction a Transactor carries in its context.
type poolTx struct {
	pool string
	tx   pgx.Tx
}

// Transactor implements domain.Transactor for one pool. Store calls made
// with the context passed to fn run inside a single transaction.
type Transactor struct {
	db   *pgxpool.Pool
	pool string
}

// InTx implements domain.Transactor. A transaction already open on ctx for
// the same pool is joined.
func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if cur, ok := ctx.Value(txKey{}).(poolTx); ok && cur.pool == t.pool {
		return fn(ctx)
	}
	uctx := domain.BeginUnit(ctx)
	err := inPoolTx(uctx, t.db, t.pool, func(tx pgx.Tx) error {
		return fn(context.WithValue(uctx, txKey{}, poolTx{pool: t.pool, tx: tx}))
	})
	domain.EndUnit(uctx, err)
	return err
}

var _ domain.Transactor = (*Transactor)(nil)

// inPoolTx runs fn in a transaction holding the pool's advisory lock, which
// serializes id and sequence allocation across processes. A transaction
// opened by Transactor.InTx on ctx is reused.
func inPoolTx(ctx context.Context, db *pgxpool.Pool, pool string, fn func(tx pgx.Tx) error) error {
	if cur, ok := ctx.Value(txKey{}).(poolTx); ok && cur.pool == pool {
		return fn(cur.tx)
	}
	return pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", pool); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
		return fn(tx)
	})
}
