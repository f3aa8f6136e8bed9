package settlement

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// Collected returns the total value paid for tickets.
func (e *Engine) Collected() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.ledger.collected)
}

// Prize returns the claimable share of collected value. Before scoring it
// is a live projection of the accruing pool.
func (e *Engine) Prize() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prize()
}

// PaidOut returns the sum of all claimed prizes.
func (e *Engine) PaidOut() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.ledger.paidOut)
}

// ResolvedFixtures returns how many fixtures have a recorded result.
func (e *Engine) ResolvedFixtures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.resolved
}

// TicketsSold returns how many tickets the engine has sold.
func (e *Engine) TicketsSold() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ledger.tickets)
}

// PointsOf returns the score of ticketID once scoring has run.
func (e *Engine) PointsOf(ticketID uint64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ledger.completed {
		return 0, domain.ErrNotCompleted
	}
	pts, ok := e.ledger.points[ticketID]
	if !ok {
		return 0, domain.ErrTicketNotFound
	}
	return pts, nil
}

// Winners returns the winning ticket ids in ascending order.
func (e *Engine) Winners() ([]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ledger.completed {
		return nil, domain.ErrNotCompleted
	}
	return append([]uint64(nil), e.ledger.winners...), nil
}

// MaxPoints returns the best score of the pool once scoring has run.
func (e *Engine) MaxPoints() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ledger.completed {
		return 0, domain.ErrNotCompleted
	}
	return e.ledger.maxPoints, nil
}

// PrizePerWinner returns the amount each winning ticket can claim. It is
// zero when nobody won.
func (e *Engine) PrizePerWinner() (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ledger.completed {
		return nil, domain.ErrNotCompleted
	}
	return new(big.Int).Set(e.ledger.prizePerWinner), nil
}

// PayoutOf returns the prize balance credited to addr.
func (e *Engine) PayoutOf(addr common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if bal, ok := e.ledger.payouts[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Phase reports where the pool is in its lifecycle.
func (e *Engine) Phase() domain.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase()
}

func (e *Engine) phase() domain.Phase {
	switch {
	case e.ledger.completed:
		return domain.PhaseCompleted
	case e.clock.Now().Before(e.deadline):
		return domain.PhaseBetting
	default:
		return domain.PhaseSettling
	}
}

// Deadline returns the betting deadline.
func (e *Engine) Deadline() time.Time { return e.deadline }

// TicketPrice returns the exact payment a ticket costs.
func (e *Engine) TicketPrice() *big.Int { return new(big.Int).Set(e.price) }

// Forwarder returns the identity allowed to call privileged operations.
func (e *Engine) Forwarder() common.Address { return e.forwarder }

// FixtureCount returns the size of the slate.
func (e *Engine) FixtureCount() int { return len(e.fixtures) }

// Fixtures returns a copy of the slate with current results.
func (e *Engine) Fixtures() []domain.Fixture {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Fixture(nil), e.fixtures...)
}

// Ticket combines registry ownership with the ticket's settlement state.
func (e *Engine) Ticket(ctx context.Context, id uint64) (domain.Ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, sold := e.ledger.predictions[id]; !sold {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	owner, err := e.registry.OwnerOf(ctx, id)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("settlement: ticket %d: %w", id, err)
	}
	pred, err := e.registry.PredictionOf(ctx, id)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("settlement: ticket %d: %w", id, err)
	}
	t := domain.Ticket{
		ID:         id,
		Owner:      owner,
		Prediction: pred,
		Claimed:    e.ledger.claimed[id],
	}
	if e.ledger.completed {
		t.Points = e.ledger.points[id]
		t.Winner = e.isWinner(id)
	}
	return t, nil
}

// Snapshot builds the settlement report of the pool named pool.
func (e *Engine) Snapshot(ctx context.Context, pool string) (domain.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := domain.Report{
		Pool:        pool,
		GeneratedAt: e.clock.Now().UTC(),
		Deadline:    e.deadline,
		TicketPrice: e.price.String(),
		Collected:   e.ledger.collected.String(),
		Prize:       e.prize().String(),
		MaxPoints:   e.ledger.maxPoints,
		Winners:     append([]uint64{}, e.ledger.winners...),
		Fixtures:    append([]domain.Fixture(nil), e.fixtures...),
		Tickets:     make([]domain.TicketScore, 0, len(e.ledger.tickets)),
	}
	if e.ledger.prizePerWinner != nil {
		r.PrizePerWinner = e.ledger.prizePerWinner.String()
	}
	for _, id := range e.ledger.tickets {
		owner, err := e.registry.OwnerOf(ctx, id)
		if err != nil {
			return domain.Report{}, fmt.Errorf("settlement: snapshot ticket %d: %w", id, err)
		}
		r.Tickets = append(r.Tickets, domain.TicketScore{
			ID:         id,
			Owner:      owner.Hex(),
			Prediction: e.ledger.predictions[id].Dec(),
			Points:     e.ledger.points[id],
			Claimed:    e.ledger.claimed[id],
		})
	}
	return r, nil
}
