// Package registry provides an in-process ticket registry. It is used when
// the pool runs without Postgres and by tests.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// Memory implements domain.TicketRegistry in memory. It is safe for
// concurrent use.
type Memory struct {
	mu      sync.RWMutex
	tickets []domain.MintedTicket // index i holds ticket id i+1
}

// NewMemory creates an empty registry.
func NewMemory() *Memory {
	return &Memory{}
}

// Mint records a new ticket and returns its id. Inside a unit that later
// fails the ticket is burned again, so its id is handed out to the next
// mint.
func (m *Memory) Mint(ctx context.Context, owner common.Address, prediction *uint256.Int) (uint64, error) {
	if prediction == nil {
		return 0, fmt.Errorf("registry: mint: nil prediction")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uint64(len(m.tickets)) + 1
	m.tickets = append(m.tickets, domain.MintedTicket{
		ID:         id,
		Owner:      owner,
		Prediction: prediction.Clone(),
		MintedAt:   time.Now().UTC(),
	})
	domain.OnRollback(ctx, func() { m.burn(id) })
	return id, nil
}

// burn drops id if it is still the newest ticket.
func (m *Memory) burn(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uint64(len(m.tickets)) == id {
		m.tickets = m.tickets[:id-1]
	}
}

// OwnerOf returns the current owner of id.
func (m *Memory) OwnerOf(_ context.Context, id uint64) (common.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, err := m.get(id)
	if err != nil {
		return common.Address{}, err
	}
	return t.Owner, nil
}

// PredictionOf returns the encoded prediction bound to id.
func (m *Memory) PredictionOf(_ context.Context, id uint64) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return t.Prediction.Clone(), nil
}

// Transfer moves id from its current owner to to.
func (m *Memory) Transfer(_ context.Context, from, to common.Address, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.get(id)
	if err != nil {
		return err
	}
	if t.Owner != from {
		return fmt.Errorf("registry: transfer ticket %d: %w", id, domain.ErrNotOwner)
	}
	m.tickets[id-1].Owner = to
	return nil
}

// Count returns the number of minted tickets.
func (m *Memory) Count(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.tickets)), nil
}

func (m *Memory) get(id uint64) (domain.MintedTicket, error) {
	if id == 0 || id > uint64(len(m.tickets)) {
		return domain.MintedTicket{}, fmt.Errorf("registry: ticket %d: %w", id, domain.ErrTicketNotFound)
	}
	return m.tickets[id-1], nil
}

// Compile-time interface check.
var _ domain.TicketRegistry = (*Memory)(nil)
