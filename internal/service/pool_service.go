// Package service coordinates the settlement engine, the authorization
// gateway and the ticket registry behind one pool-level API. It serialises
// mutations across replicas with a distributed lock, and once the lock is
// held it applies the journal events other replicas wrote since this one
// last looked. Operator actions that are not journal events go to the audit
// log.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/prodepool/internal/domain"
	"github.com/alanyoungcy/prodepool/internal/gateway"
	"github.com/alanyoungcy/prodepool/internal/settlement"
)

const (
	lockTTL      = 30 * time.Second
	lockAttempts = 20
	lockBackoff  = 50 * time.Millisecond
)

// Transferrer moves ticket ownership.
type Transferrer interface {
	Transfer(ctx context.Context, from, to common.Address, id uint64) error
}

// Replayer feeds journaled events back in sequence order.
type Replayer interface {
	Replay(ctx context.Context, apply func(domain.Event)) (int, error)
}

// Syncer feeds the journaled events this process has not yet applied.
type Syncer interface {
	CatchUp(ctx context.Context, apply func(domain.Event)) (int, error)
}

// PoolConfig wires a PoolService.
type PoolConfig struct {
	Pool     string
	Engine   *settlement.Engine
	Gateway  *gateway.Gateway
	Registry Transferrer
	// Journal is required with Locks; it brings the engine and the gateway
	// up to date with writes from other replicas.
	Journal Syncer
	// EngineAddress is where the gateway routes engine calls.
	EngineAddress common.Address
	// Locks and Audit are optional.
	Locks  domain.LockManager
	Audit  domain.AuditStore
	Logger *slog.Logger
}

// PoolService is the entry point for every pool mutation.
type PoolService struct {
	pool     string
	engine   *settlement.Engine
	gateway  *gateway.Gateway
	registry Transferrer
	journal  Syncer
	engineAt common.Address
	locks    domain.LockManager
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewPoolService creates a PoolService and registers the engine with the
// gateway at cfg.EngineAddress.
func NewPoolService(cfg PoolConfig) (*PoolService, error) {
	if cfg.Engine == nil || cfg.Gateway == nil || cfg.Registry == nil {
		return nil, errors.New("service: engine, gateway and registry are required")
	}
	if cfg.EngineAddress == (common.Address{}) {
		return nil, errors.New("service: engine address is required")
	}
	if cfg.Locks != nil && cfg.Journal == nil {
		return nil, errors.New("service: a journal is required with a lock manager")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Gateway.Register(cfg.EngineAddress, cfg.Engine)
	return &PoolService{
		pool:     cfg.Pool,
		engine:   cfg.Engine,
		gateway:  cfg.Gateway,
		registry: cfg.Registry,
		journal:  cfg.Journal,
		engineAt: cfg.EngineAddress,
		locks:    cfg.Locks,
		audit:    cfg.Audit,
		logger:   cfg.Logger.With(slog.String("component", "pool_service"), slog.String("pool", cfg.Pool)),
	}, nil
}

// Pool returns the pool name.
func (s *PoolService) Pool() string { return s.pool }

// Engine exposes the engine read model.
func (s *PoolService) Engine() *settlement.Engine { return s.engine }

// Gateway exposes the gateway read model.
func (s *PoolService) Gateway() *gateway.Gateway { return s.gateway }

// EngineAddress returns the gateway target of the engine.
func (s *PoolService) EngineAddress() common.Address { return s.engineAt }

// Rebuild replays the journal into the engine and the gateway. It must run
// before the service takes traffic.
func (s *PoolService) Rebuild(ctx context.Context, journal Replayer) (int, error) {
	n, err := journal.Replay(ctx, func(ev domain.Event) {
		s.engine.Apply(ev)
		s.gateway.Apply(ev)
	})
	if err != nil {
		return n, fmt.Errorf("service: rebuild: %w", err)
	}
	s.logger.InfoContext(ctx, "pool state rebuilt",
		slog.Int("events", n),
		slog.Int("tickets", s.engine.TicketsSold()),
		slog.Int("resolved", s.engine.ResolvedFixtures()),
		slog.String("phase", string(s.engine.Phase())),
		slog.Int("requests", len(s.gateway.Requests())),
	)
	return n, nil
}

// BuyTicket purchases a ticket for buyer.
func (s *PoolService) BuyTicket(ctx context.Context, buyer common.Address, codes []domain.Outcome, payment *big.Int) (uint64, error) {
	var id uint64
	err := s.withLock(ctx, func() error {
		var err error
		id, err = s.engine.BuyTicket(ctx, buyer, codes, payment)
		return err
	})
	return id, err
}

// TransferTicket moves a ticket between owners. Only the current owner may
// transfer, and a claimed prize stays with whoever claimed it.
func (s *PoolService) TransferTicket(ctx context.Context, from, to common.Address, id uint64) error {
	if to == (common.Address{}) {
		return fmt.Errorf("service: transfer: %w", domain.ErrNotOwner)
	}
	return s.withLock(ctx, func() error {
		if err := s.registry.Transfer(ctx, from, to, id); err != nil {
			return fmt.Errorf("service: transfer %d: %w", id, err)
		}
		s.logger.InfoContext(ctx, "ticket transferred",
			slog.Uint64("ticket_id", id),
			slog.String("from", from.Hex()),
			slog.String("to", to.Hex()),
		)
		s.auditLog(ctx, "ticket.transferred", from, map[string]any{
			"ticket_id": id,
			"to":        to.Hex(),
		})
		return nil
	})
}

// ClaimPrize credits the prize of a winning ticket to its owner.
func (s *PoolService) ClaimPrize(ctx context.Context, caller common.Address, id uint64) (*big.Int, error) {
	var amount *big.Int
	err := s.withLock(ctx, func() error {
		var err error
		amount, err = s.engine.ClaimPrize(ctx, caller, id)
		return err
	})
	return amount, err
}

// Submit queues an engine call through the gateway.
func (s *PoolService) Submit(ctx context.Context, caller common.Address, payload []byte) (uint64, error) {
	var id uint64
	err := s.withLock(ctx, func() error {
		var err error
		id, err = s.gateway.Submit(ctx, caller, s.engineAt, payload)
		return err
	})
	return id, err
}

// SubmitRecordResult queues recordFixtureResult(fixture, result).
func (s *PoolService) SubmitRecordResult(ctx context.Context, caller common.Address, fixture int, result domain.Outcome) (uint64, error) {
	payload, err := settlement.EncodeRecordFixtureResult(fixture, result)
	if err != nil {
		return 0, err
	}
	return s.Submit(ctx, caller, payload)
}

// SubmitCalculatePoints queues calculatePoints().
func (s *PoolService) SubmitCalculatePoints(ctx context.Context, caller common.Address) (uint64, error) {
	return s.Submit(ctx, caller, settlement.EncodeCalculatePoints())
}

// Approve records an approval.
func (s *PoolService) Approve(ctx context.Context, caller common.Address, id uint64) error {
	return s.withLock(ctx, func() error {
		return s.gateway.Approve(ctx, caller, id)
	})
}

// Execute forwards an approved request to the engine.
func (s *PoolService) Execute(ctx context.Context, caller common.Address, id uint64) ([]byte, error) {
	var out []byte
	err := s.withLock(ctx, func() error {
		var err error
		out, err = s.gateway.Execute(ctx, caller, id)
		return err
	})
	return out, err
}

// withLock runs fn under the pool lock when a lock manager is configured.
// A held lock is retried briefly before giving up. Under the lock, events
// journaled by other replicas are applied before fn validates anything.
func (s *PoolService) withLock(ctx context.Context, fn func() error) error {
	if s.locks == nil {
		return fn()
	}
	key := "pool:" + s.pool
	for attempt := 1; ; attempt++ {
		unlock, err := s.locks.Acquire(ctx, key, lockTTL)
		if err == nil {
			defer unlock()
			if err := s.catchUp(ctx); err != nil {
				return err
			}
			return fn()
		}
		if !errors.Is(err, domain.ErrLockHeld) || attempt == lockAttempts {
			return fmt.Errorf("service: pool lock: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockBackoff):
		}
	}
}

func (s *PoolService) catchUp(ctx context.Context) error {
	n, err := s.journal.CatchUp(ctx, func(ev domain.Event) {
		s.engine.Apply(ev)
		s.gateway.Apply(ev)
	})
	if err != nil {
		return fmt.Errorf("service: catch up: %w", err)
	}
	if n > 0 {
		s.logger.DebugContext(ctx, "applied remote events", slog.Int("events", n))
	}
	return nil
}

func (s *PoolService) auditLog(ctx context.Context, action string, actor common.Address, detail map[string]any) {
	if s.audit == nil {
		return
	}
	rec := domain.AuditRecord{Action: action, Actor: actor, Detail: detail}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "audit record failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}
