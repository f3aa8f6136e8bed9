package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// TicketRegistry implements domain.TicketRegistry on the tickets table.
// Predictions are stored as decimal strings.
type TicketRegistry struct {
	db   *pgxpool.Pool
	pool string
}

// NewTicketRegistry creates a registry for the named pool.
func NewTicketRegistry(db *pgxpool.Pool, pool string) *TicketRegistry {
	return &TicketRegistry{db: db, pool: pool}
}

// Mint inserts a ticket with the next id of the pool.
func (r *TicketRegistry) Mint(ctx context.Context, owner common.Address, prediction *uint256.Int) (uint64, error) {
	if prediction == nil {
		return 0, errors.New("postgres: mint: nil prediction")
	}
	var id uint64
	err := inPoolTx(ctx, r.db, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(id), 0) + 1 FROM tickets WHERE pool = $1`, r.pool,
		).Scan(&id); err != nil {
			return fmt.Errorf("next id: %w", err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO tickets (pool, id, owner, prediction) VALUES ($1, $2, $3, $4)`,
			r.pool, id, owner.Hex(), prediction.Dec(),
		)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: mint ticket: %w", err)
	}
	return id, nil
}

// OwnerOf returns the current owner of id.
func (r *TicketRegistry) OwnerOf(ctx context.Context, id uint64) (common.Address, error) {
	var owner string
	err := r.db.QueryRow(ctx,
		`SELECT owner FROM tickets WHERE pool = $1 AND id = $2`, r.pool, id,
	).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.Address{}, domain.ErrTicketNotFound
		}
		return common.Address{}, fmt.Errorf("postgres: owner of %d: %w", id, err)
	}
	return common.HexToAddress(owner), nil
}

// PredictionOf returns the encoded prediction of id.
func (r *TicketRegistry) PredictionOf(ctx context.Context, id uint64) (*uint256.Int, error) {
	var dec string
	err := r.db.QueryRow(ctx,
		`SELECT prediction FROM tickets WHERE pool = $1 AND id = $2`, r.pool, id,
	).Scan(&dec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTicketNotFound
		}
		return nil, fmt.Errorf("postgres: prediction of %d: %w", id, err)
	}
	p, err := uint256.FromDecimal(dec)
	if err != nil {
		return nil, fmt.Errorf("postgres: prediction of %d: %w", id, err)
	}
	return p, nil
}

// Transfer moves id from from to to.
func (r *TicketRegistry) Transfer(ctx context.Context, from, to common.Address, id uint64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE tickets SET owner = $4 WHERE pool = $1 AND id = $2 AND owner = $3`,
		r.pool, id, from.Hex(), to.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: transfer %d: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.OwnerOf(ctx, id); err != nil {
		return err
	}
	return domain.ErrNotOwner
}

// Count returns the number of minted tickets.
func (r *TicketRegistry) Count(ctx context.Context) (uint64, error) {
	var n uint64
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM tickets WHERE pool = $1`, r.pool,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count tickets: %w", err)
	}
	return n, nil
}

var _ domain.TicketRegistry = (*TicketRegistry)(nil)
