// Package settlement implements the pool's settlement engine: ticket sales,
// fixture result recording, scoring, winner selection and prize claims.
//
// Every mutating operation validates against the current state, appends its
// event to the configured domain.EventLog, and only then applies the event to
// in-memory state. A failed append leaves the engine untouched. A purchase
// mints its ticket and journals its event in one domain.Transactor unit, so
// a failed journal append also leaves the registry untouched. Apply is the
// same path used to rebuild an engine from a persisted journal.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prodepool/internal/domain"
	"github.com/alanyoungcy/prodepool/internal/prediction"
)

// DefaultPrizePercent is the share of collected value paid to winners.
const DefaultPrizePercent = 80

// Config holds the construction-time parameters of an Engine.
type Config struct {
	Registry domain.TicketRegistry
	// Deadline closes ticket sales. Purchases at or after it fail.
	Deadline time.Time
	// Schedule holds the earliest time each fixture's result may be
	// recorded. Its length is the number of fixtures in the slate.
	Schedule     []time.Time
	TicketPrice  *big.Int
	PrizePercent int
	// Forwarder is the only identity allowed to call the privileged
	// operations, normally the authorization gateway.
	Forwarder common.Address
	Clock     domain.Clock
	Log       domain.EventLog
	// Units makes a registry mint and its journal append atomic. It
	// defaults to domain.LocalUnits.
	Units  domain.Transactor
	Logger *slog.Logger
}

// ledger is the engine's mutable numeric and settlement state.
type ledger struct {
	collected   *big.Int
	paidOut     *big.Int
	resolved    int
	tickets     []uint64
	predictions map[uint64]*uint256.Int

	completed      bool
	points         map[uint64]int
	maxPoints      int
	winners        []uint64
	prizePerWinner *big.Int
	claimed        map[uint64]bool
	payouts        map[common.Address]*big.Int
}

func newLedger() ledger {
	return ledger{
		collected:   new(big.Int),
		paidOut:     new(big.Int),
		predictions: make(map[uint64]*uint256.Int),
		points:      make(map[uint64]int),
		claimed:     make(map[uint64]bool),
		payouts:     make(map[common.Address]*big.Int),
	}
}

// Engine is the settlement state machine for one pool. It is safe for
// concurrent use; operations are serialized by an internal mutex.
type Engine struct {
	mu sync.Mutex

	registry     domain.TicketRegistry
	deadline     time.Time
	fixtures     []domain.Fixture
	price        *big.Int
	prizePercent int64
	forwarder    common.Address
	clock        domain.Clock
	log          domain.EventLog
	units        domain.Transactor
	logger       *slog.Logger

	ledger ledger
}

// NewEngine validates cfg and returns an engine in the Betting phase.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, errors.New("settlement: registry is required")
	}
	if cfg.Log == nil {
		return nil, errors.New("settlement: event log is required")
	}
	if cfg.TicketPrice == nil || cfg.TicketPrice.Sign() <= 0 {
		return nil, errors.New("settlement: ticket price must be positive")
	}
	n := len(cfg.Schedule)
	if n == 0 || n > prediction.MaxFixtures {
		return nil, fmt.Errorf("settlement: schedule must hold 1..%d fixtures, got %d", prediction.MaxFixtures, n)
	}
	for i := 1; i < n; i++ {
		if cfg.Schedule[i].Before(cfg.Schedule[i-1]) {
			return nil, fmt.Errorf("settlement: fixture %d is due before fixture %d", i, i-1)
		}
	}
	pct := cfg.PrizePercent
	if pct == 0 {
		pct = DefaultPrizePercent
	}
	if pct < 0 || pct > 100 {
		return nil, fmt.Errorf("settlement: prize percent %d out of range", pct)
	}
	if cfg.Clock == nil {
		cfg.Clock = domain.SystemClock{}
	}
	if cfg.Units == nil {
		cfg.Units = domain.LocalUnits{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	fixtures := make([]domain.Fixture, n)
	for i, due := range cfg.Schedule {
		fixtures[i] = domain.Fixture{Index: i, DueAt: due.UTC(), Result: domain.OutcomePending}
	}

	return &Engine{
		registry:     cfg.Registry,
		deadline:     cfg.Deadline.UTC(),
		fixtures:     fixtures,
		price:        new(big.Int).Set(cfg.TicketPrice),
		prizePercent: int64(pct),
		forwarder:    cfg.Forwarder,
		clock:        cfg.Clock,
		log:          cfg.Log,
		units:        cfg.Units,
		logger:       cfg.Logger.With(slog.String("component", "settlement")),
		ledger:       newLedger(),
	}, nil
}

// BuyTicket sells a ticket predicting codes to buyer for payment wei and
// returns the new ticket id.
func (e *Engine) BuyTicket(ctx context.Context, buyer common.Address, codes []domain.Outcome, payment *big.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if e.ledger.completed || !now.Before(e.deadline) {
		return 0, domain.ErrDateExpired
	}
	if payment == nil || payment.Cmp(e.price) != 0 {
		return 0, domain.ErrInvalidPrice
	}
	if len(codes) != len(e.fixtures) {
		return 0, fmt.Errorf("%w: got %d codes for %d fixtures", domain.ErrIncompleteTicket, len(codes), len(e.fixtures))
	}
	for i, c := range codes {
		if !c.IsPrediction() {
			return 0, fmt.Errorf("%w: fixture %d", domain.ErrIncompleteTicket, i)
		}
	}

	encoded, err := prediction.Encode(codes)
	if err != nil {
		return 0, fmt.Errorf("settlement: buy ticket: %w", err)
	}
	ev := domain.NewEvent(domain.EventTicketPurchased, buyer, now)
	ev.Prediction = encoded
	ev.Amount = new(big.Int).Set(payment)

	var stored domain.Event
	err = e.units.InTx(ctx, func(ctx context.Context) error {
		id, err := e.registry.Mint(ctx, buyer, encoded)
		if err != nil {
			return fmt.Errorf("mint: %w", err)
		}
		ev.TicketID = id
		out, err := e.log.Append(ctx, ev)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		stored = out[0]
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("settlement: buy ticket: %w", err)
	}

	e.apply(stored)
	e.logCommitted(ctx, stored)
	return stored.TicketID, nil
}

// RecordFixtureResult stores the final result of a fixture. Only the
// configured forwarder may call it.
func (e *Engine) RecordFixtureResult(ctx context.Context, caller common.Address, fixture int, result domain.Outcome) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev, err := e.prepareResult(caller, fixture, result)
	if err != nil {
		return err
	}
	if err := e.commit(ctx, ev); err != nil {
		return fmt.Errorf("settlement: record fixture %d: %w", fixture, err)
	}
	return nil
}

// prepareResult validates a result entry and builds its event. Callers
// hold e.mu.
func (e *Engine) prepareResult(caller common.Address, fixture int, result domain.Outcome) (domain.Event, error) {
	if caller != e.forwarder {
		return domain.Event{}, domain.ErrUnauthorizedCaller
	}
	if fixture < 0 || fixture >= len(e.fixtures) {
		return domain.Event{}, domain.ErrInvalidFixture
	}
	now := e.clock.Now()
	if now.Before(e.fixtures[fixture].DueAt) {
		return domain.Event{}, domain.ErrFixtureNotYetDue
	}
	if e.fixtures[fixture].Resolved() {
		return domain.Event{}, domain.ErrResultAlreadyRecorded
	}
	if !result.IsResult() {
		return domain.Event{}, domain.ErrInvalidResult
	}

	ev := domain.NewEvent(domain.EventFixtureResultRecorded, caller, now)
	ev.Fixture = fixture
	ev.Result = result
	return ev, nil
}

// CalculatePoints scores every ticket and fixes the winner set. Only the
// configured forwarder may call it, and only once.
func (e *Engine) CalculatePoints(ctx context.Context, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev, err := e.prepareScoring(caller)
	if err != nil {
		return err
	}
	if err := e.commit(ctx, ev); err != nil {
		return fmt.Errorf("settlement: calculate points: %w", err)
	}
	return nil
}

// prepareScoring validates a scoring run and builds its event. Callers hold
// e.mu.
func (e *Engine) prepareScoring(caller common.Address) (domain.Event, error) {
	if caller != e.forwarder {
		return domain.Event{}, domain.ErrUnauthorizedCaller
	}
	if e.ledger.completed {
		return domain.Event{}, domain.ErrAlreadyCompleted
	}
	if e.ledger.resolved < len(e.fixtures) {
		return domain.Event{}, domain.ErrResultsIncomplete
	}

	ev := domain.NewEvent(domain.EventScoringCompleted, caller, e.clock.Now())
	ev.WinnerCount = len(e.tally().winners)
	return ev, nil
}

// ClaimPrize pays the per-winner share for ticketID to caller, who must own
// the ticket. The amount is credited to caller's payout balance.
func (e *Engine) ClaimPrize(ctx context.Context, caller common.Address, ticketID uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ledger.completed {
		return nil, domain.ErrNotCompleted
	}
	if !e.isWinner(ticketID) {
		return nil, domain.ErrNotAWinner
	}
	owner, err := e.registry.OwnerOf(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("settlement: claim prize: %w", err)
	}
	if owner != caller {
		return nil, domain.ErrNotOwner
	}
	if e.ledger.claimed[ticketID] {
		return nil, domain.ErrAlreadyClaimed
	}

	amount := new(big.Int).Set(e.ledger.prizePerWinner)
	ev := domain.NewEvent(domain.EventPrizeClaimed, caller, e.clock.Now())
	ev.TicketID = ticketID
	ev.Amount = amount
	if err := e.commit(ctx, ev); err != nil {
		return nil, fmt.Errorf("settlement: claim prize %d: %w", ticketID, err)
	}
	return new(big.Int).Set(amount), nil
}

// commit journals ev and applies the stored copy. Callers hold e.mu.
func (e *Engine) commit(ctx context.Context, ev domain.Event) error {
	stored, err := e.log.Append(ctx, ev)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	e.apply(stored[0])
	e.logCommitted(ctx, stored[0])
	return nil
}

// logCommitted reports an applied event. Callers hold e.mu.
func (e *Engine) logCommitted(ctx context.Context, ev domain.Event) {
	switch ev.Kind {
	case domain.EventTicketPurchased:
		e.logger.InfoContext(ctx, "ticket purchased",
			slog.Uint64("ticket_id", ev.TicketID),
			slog.String("buyer", ev.Actor.Hex()),
			slog.String("prediction", ev.Prediction.Dec()),
		)
	case domain.EventFixtureResultRecorded:
		e.logger.InfoContext(ctx, "fixture result recorded",
			slog.Int("fixture", ev.Fixture),
			slog.String("result", ev.Result.String()),
			slog.Int("resolved", e.ledger.resolved),
		)
	case domain.EventScoringCompleted:
		e.logger.InfoContext(ctx, "scoring completed",
			slog.Int("tickets", len(e.ledger.tickets)),
			slog.Int("max_points", e.ledger.maxPoints),
			slog.Int("winners", len(e.ledger.winners)),
			slog.String("prize_per_winner", e.ledger.prizePerWinner.String()),
		)
	case domain.EventPrizeClaimed:
		e.logger.InfoContext(ctx, "prize claimed",
			slog.Uint64("ticket_id", ev.TicketID),
			slog.String("claimant", ev.Actor.Hex()),
			slog.String("amount", ev.Amount.String()),
		)
	}
}

// Apply folds a journaled event into the engine state without validation
// or re-journaling. Gateway events are ignored.
func (e *Engine) Apply(ev domain.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apply(ev)
}

func (e *Engine) apply(ev domain.Event) {
	l := &e.ledger
	switch ev.Kind {
	case domain.EventTicketPurchased:
		if ev.Amount != nil {
			l.collected.Add(l.collected, ev.Amount)
		}
		l.tickets = append(l.tickets, ev.TicketID)
		p := new(uint256.Int)
		if ev.Prediction != nil {
			p = ev.Prediction.Clone()
		}
		l.predictions[ev.TicketID] = p

	case domain.EventFixtureResultRecorded:
		if ev.Fixture < 0 || ev.Fixture >= len(e.fixtures) || e.fixtures[ev.Fixture].Resolved() {
			return
		}
		e.fixtures[ev.Fixture].Result = ev.Result
		l.resolved++

	case domain.EventScoringCompleted:
		t := e.tally()
		l.points = t.points
		l.maxPoints = t.maxPoints
		l.winners = t.winners
		l.prizePerWinner = e.sharePerWinner(len(t.winners))
		l.completed = true

	case domain.EventPrizeClaimed:
		l.claimed[ev.TicketID] = true
		if ev.Amount != nil {
			bal, ok := l.payouts[ev.Actor]
			if !ok {
				bal = new(big.Int)
				l.payouts[ev.Actor] = bal
			}
			bal.Add(bal, ev.Amount)
			l.paidOut.Add(l.paidOut, ev.Amount)
		}
	}
}

func (e *Engine) isWinner(id uint64) bool {
	for _, w := range e.ledger.winners {
		if w == id {
			return true
		}
	}
	return false
}

// prize is the claimable share of collected value. Callers hold e.mu.
func (e *Engine) prize() *big.Int {
	p := new(big.Int).Mul(e.ledger.collected, big.NewInt(e.prizePercent))
	return p.Quo(p, big.NewInt(100))
}

func (e *Engine) sharePerWinner(winners int) *big.Int {
	if winners == 0 {
		return new(big.Int)
	}
	return new(big.Int).Quo(e.prize(), big.NewInt(int64(winners)))
}
