package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// maxAuditPage caps a single Recent call.
const maxAuditPage = 500

// AuditStore implements domain.AuditStore on the audit_log table for one
// pool.
type AuditStore struct {
	db   *pgxpool.Pool
	pool string
}

// NewAuditStore creates an AuditStore for the named pool.
func NewAuditStore(db *pgxpool.Pool, pool string) *AuditStore {
	return &AuditStore{db: db, pool: pool}
}

// Record appends rec. A zero At is stamped by the database and a zero Actor
// is stored as the empty string.
func (s *AuditStore) Record(ctx context.Context, rec domain.AuditRecord) error {
	detail, err := json.Marshal(rec.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	var actor string
	if rec.Actor != (common.Address{}) {
		actor = rec.Actor.Hex()
	}
	var at *time.Time
	if !rec.At.IsZero() {
		t := rec.At.UTC()
		at = &t
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO audit_log (pool, action, actor, detail, at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
		s.pool, rec.Action, actor, detail, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: record audit %s: %w", rec.Action, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 || limit > maxAuditPage {
		limit = maxAuditPage
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, action, actor, detail, at FROM audit_log
		WHERE pool = $1
		ORDER BY id DESC
		LIMIT $2`,
		s.pool, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var (
			rec    domain.AuditRecord
			actor  string
			detail []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Action, &actor, &detail, &rec.At); err != nil {
			return nil, fmt.Errorf("postgres: scan audit record: %w", err)
		}
		if actor != "" {
			rec.Actor = common.HexToAddress(actor)
		}
		if detail != nil {
			if err := json.Unmarshal(detail, &rec.Detail); err != nil {
				return nil, fmt.Errorf("postgres: decode audit detail %d: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: recent audit rows: %w", err)
	}
	return out, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
