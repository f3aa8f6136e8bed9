package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AuditRecord is one entry of a pool's audit trail. Journal events are
// recorded under their kind; service-level actions that never reach the
// journal use dotted names such as "ticket.transferred".
type AuditRecord struct {
	ID     int64
	Action string
	Actor  common.Address
	Detail map[string]any
	At     time.Time
}

// AuditStore is an append-only audit trail scoped to one pool.
type AuditStore interface {
	Record(ctx context.Context, rec AuditRecord) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]AuditRecord, error)
}
