package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// EventStore implements domain.EventStore on the pool_events table. The
// payload column holds the event's JSON form.
type EventStore struct {
	db   *pgxpool.Pool
	pool string
}

// NewEventStore creates an event store for the named pool.
func NewEventStore(db *pgxpool.Pool, pool string) *EventStore {
	return &EventStore{db: db, pool: pool}
}

// Append assigns the next sequence numbers of the pool and persists evs in
// one transaction. Either every event is stored or none is.
func (s *EventStore) Append(ctx context.Context, evs ...domain.Event) ([]domain.Event, error) {
	if len(evs) == 0 {
		return nil, nil
	}
	out := make([]domain.Event, len(evs))
	copy(out, evs)

	err := inPoolTx(ctx, s.db, s.pool, func(tx pgx.Tx) error {
		var next uint64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM pool_events WHERE pool = $1`, s.pool,
		).Scan(&next); err != nil {
			return fmt.Errorf("next seq: %w", err)
		}
		batch := &pgx.Batch{}
		for i := range out {
			out[i].Seq = next + uint64(i)
			payload, err := json.Marshal(out[i])
			if err != nil {
				return fmt.Errorf("marshal %s: %w", out[i].Kind, err)
			}
			batch.Queue(
				`INSERT INTO pool_events (pool, seq, event_id, kind, at, payload) VALUES ($1, $2, $3, $4, $5, $6)`,
				s.pool, out[i].Seq, out[i].ID, string(out[i].Kind), out[i].At, payload,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: append %s: %w", evs[0].Kind, err)
	}
	return out, nil
}

// List returns up to limit events after afterSeq in sequence order. A limit
// of zero or less returns everything.
func (s *EventStore) List(ctx context.Context, afterSeq uint64, limit int) ([]domain.Event, error) {
	query := `SELECT payload FROM pool_events WHERE pool = $1 AND seq > $2 ORDER BY seq`
	args := []any{s.pool, afterSeq}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		var ev domain.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("postgres: decode event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return out, nil
}

var _ domain.EventStore = (*EventStore)(nil)
