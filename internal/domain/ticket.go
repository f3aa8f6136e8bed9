package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Ticket is a read model combining registry ownership with settlement state.
type Ticket struct {
	ID         uint64
	Owner      common.Address
	Prediction *uint256.Int
	Points     int
	Winner     bool
	Claimed    bool
}

// MintedTicket is a registry row.
type MintedTicket struct {
	ID         uint64
	Owner      common.Address
	Prediction *uint256.Int
	MintedAt   time.Time
}

// TicketRegistry owns ticket ownership and encoded predictions. Ids are
// assigned sequentially from 1 and never reused.
type TicketRegistry interface {
	Mint(ctx context.Context, owner common.Address, prediction *uint256.Int) (uint64, error)
	OwnerOf(ctx context.Context, id uint64) (common.Address, error)
	PredictionOf(ctx context.Context, id uint64) (*uint256.Int, error)
	Transfer(ctx context.Context, from, to common.Address, id uint64) error
	Count(ctx context.Context) (uint64, error)
}

// Registry metadata carried over from the ticket token.
const (
	RegistryName   = "ProdeToken"
	RegistrySymbol = "PTO"
)
