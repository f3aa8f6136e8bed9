package settlement

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prodepool/internal/domain"
	"github.com/alanyoungcy/prodepool/internal/events"
	"github.com/alanyoungcy/prodepool/internal/events/eventstest"
	"github.com/alanyoungcy/prodepool/internal/registry"
)

var (
	gatewayAddr = common.HexToAddress("0x000000000000000000000000000000000000ca7e")
	alice       = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob         = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol       = common.HexToAddress("0x00000000000000000000000000000000000ca201")

	start = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	engine   *Engine
	clock    *fakeClock
	registry *registry.Memory
	store    *events.MemoryStore
	log      *eventstest.FlakyStore
	schedule []time.Time
	price    *big.Int
}

// newHarness builds an engine with n fixtures. Betting closes one hour after
// start; fixture i is due 2h+i minutes after start.
func newHarness(t *testing.T, n int, price *big.Int) *harness {
	t.Helper()
	h := &harness{
		clock:    &fakeClock{now: start},
		registry: registry.NewMemory(),
		store:    events.NewMemoryStore(),
		price:    price,
	}
	h.log = eventstest.NewFlakyStore(h.store)
	for i := 0; i < n; i++ {
		h.schedule = append(h.schedule, start.Add(2*time.Hour+time.Duration(i)*time.Minute))
	}
	e, err := NewEngine(Config{
		Registry:    h.registry,
		Deadline:    start.Add(time.Hour),
		Schedule:    h.schedule,
		TicketPrice: price,
		Forwarder:   gatewayAddr,
		Clock:       h.clock,
		Log:         h.log,
	})
	require.NoError(t, err)
	h.engine = e
	return h
}

func ether(tenths int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(tenths), big.NewInt(1e17))
}

func uniform(code domain.Outcome, n int) []domain.Outcome {
	out := make([]domain.Outcome, n)
	for i := range out {
		out[i] = code
	}
	return out
}

func (h *harness) buy(t *testing.T, owner common.Address, codes []domain.Outcome) uint64 {
	t.Helper()
	id, err := h.engine.BuyTicket(context.Background(), owner, codes, h.price)
	require.NoError(t, err)
	return id
}

func (h *harness) resolve(t *testing.T, results []domain.Outcome) {
	t.Helper()
	h.clock.Set(h.schedule[len(h.schedule)-1])
	for i, r := range results {
		require.NoError(t, h.engine.RecordFixtureResult(context.Background(), gatewayAddr, i, r))
	}
}

func TestNewEngine_Validation(t *testing.T) {
	reg := registry.NewMemory()
	log := events.NewMemoryStore()
	base := Config{
		Registry:    reg,
		Deadline:    start,
		Schedule:    []time.Time{start, start.Add(time.Minute)},
		TicketPrice: big.NewInt(1),
		Log:         log,
	}

	_, err := NewEngine(base)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"nil registry", func(c *Config) { c.Registry = nil }},
		{"nil log", func(c *Config) { c.Log = nil }},
		{"zero price", func(c *Config) { c.TicketPrice = big.NewInt(0) }},
		{"empty schedule", func(c *Config) { c.Schedule = nil }},
		{"decreasing schedule", func(c *Config) { c.Schedule = []time.Time{start.Add(time.Minute), start} }},
		{"prize over 100", func(c *Config) { c.PrizePercent = 101 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := NewEngine(cfg)
			assert.Error(t, err)
		})
	}
}

func TestBuyTicket_BeforeAndAfterDeadline(t *testing.T) {
	h := newHarness(t, domain.DefaultFixtureCount, ether(1))
	ctx := context.Background()

	codes := make([]domain.Outcome, domain.DefaultFixtureCount)
	for i := range codes {
		codes[i] = domain.Outcome(i%3 + 1) // Home, Tie, Away, ...
	}

	id, err := h.engine.BuyTicket(ctx, alice, codes, ether(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, ether(1), h.engine.Collected())
	assert.Equal(t, domain.PhaseBetting, h.engine.Phase())

	h.clock.Set(start.Add(time.Hour))
	_, err = h.engine.BuyTicket(ctx, alice, codes, ether(1))
	assert.ErrorIs(t, err, domain.ErrDateExpired)
	assert.Equal(t, domain.PhaseSettling, h.engine.Phase())
	assert.Equal(t, ether(1), h.engine.Collected())
	assert.Equal(t, 1, h.engine.TicketsSold())

	require.Equal(t, 1, h.store.Len())
	evs, err := h.store.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.EventTicketPurchased, evs[0].Kind)
	assert.Equal(t, alice, evs[0].Actor)
	assert.Equal(t, uint64(1), evs[0].TicketID)
}

func TestBuyTicket_Rejections(t *testing.T) {
	h := newHarness(t, 4, ether(1))
	ctx := context.Background()
	full := uniform(domain.OutcomeTie, 4)

	_, err := h.engine.BuyTicket(ctx, alice, full, ether(2))
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
	_, err = h.engine.BuyTicket(ctx, alice, full, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	_, err = h.engine.BuyTicket(ctx, alice, []domain.Outcome{1, 2, 0, 3}, ether(1))
	assert.ErrorIs(t, err, domain.ErrIncompleteTicket)
	_, err = h.engine.BuyTicket(ctx, alice, []domain.Outcome{1, 2, 3}, ether(1))
	assert.ErrorIs(t, err, domain.ErrIncompleteTicket)
	_, err = h.engine.BuyTicket(ctx, alice, []domain.Outcome{1, 2, 4, 3}, ether(1))
	assert.ErrorIs(t, err, domain.ErrIncompleteTicket)

	assert.Equal(t, 0, h.engine.TicketsSold())
	assert.Equal(t, int64(0), h.engine.Collected().Int64())
}

func TestRecordFixtureResult_Lifecycle(t *testing.T) {
	h := newHarness(t, 4, ether(1))
	ctx := context.Background()

	h.clock.Set(h.schedule[0].Add(-time.Second))
	err := h.engine.RecordFixtureResult(ctx, gatewayAddr, 0, domain.OutcomeHome)
	assert.ErrorIs(t, err, domain.ErrFixtureNotYetDue)

	h.clock.Set(h.schedule[0])
	require.NoError(t, h.engine.RecordFixtureResult(ctx, gatewayAddr, 0, domain.OutcomeHome))
	assert.Equal(t, 1, h.engine.ResolvedFixtures())

	err = h.engine.RecordFixtureResult(ctx, gatewayAddr, 0, domain.OutcomeAway)
	assert.ErrorIs(t, err, domain.ErrResultAlreadyRecorded)
	assert.Equal(t, domain.OutcomeHome, h.engine.Fixtures()[0].Result)
	assert.Equal(t, 1, h.engine.ResolvedFixtures())
}

func TestRecordFixtureResult_Rejections(t *testing.T) {
	h := newHarness(t, 4, ether(1))
	ctx := context.Background()
	h.clock.Set(h.schedule[3])

	err := h.engine.RecordFixtureResult(ctx, alice, 0, domain.OutcomeHome)
	assert.ErrorIs(t, err, domain.ErrUnauthorizedCaller)
	err = h.engine.RecordFixtureResult(ctx, gatewayAddr, 4, domain.OutcomeHome)
	assert.ErrorIs(t, err, domain.ErrInvalidFixture)
	err = h.engine.RecordFixtureResult(ctx, gatewayAddr, -1, domain.OutcomeHome)
	assert.ErrorIs(t, err, domain.ErrInvalidFixture)
	err = h.engine.RecordFixtureResult(ctx, gatewayAddr, 1, domain.OutcomePending)
	assert.ErrorIs(t, err, domain.ErrInvalidResult)
	err = h.engine.RecordFixtureResult(ctx, gatewayAddr, 1, domain.Outcome(5))
	assert.ErrorIs(t, err, domain.ErrInvalidResult)

	require.NoError(t, h.engine.RecordFixtureResult(ctx, gatewayAddr, 1, domain.OutcomeSuspended))
	assert.Equal(t, 1, h.engine.ResolvedFixtures())
}

func TestCalculatePoints_RequiresAllResults(t *testing.T) {
	h := newHarness(t, 3, ether(1))
	ctx := context.Background()
	h.buy(t, alice, uniform(domain.OutcomeHome, 3))

	h.clock.Set(h.schedule[2])
	require.NoError(t, h.engine.RecordFixtureResult(ctx, gatewayAddr, 0, domain.OutcomeHome))

	assert.ErrorIs(t, h.engine.CalculatePoints(ctx, gatewayAddr), domain.ErrResultsIncomplete)
	assert.ErrorIs(t, h.engine.CalculatePoints(ctx, alice), domain.ErrUnauthorizedCaller)

	_, err := h.engine.Winners()
	assert.ErrorIs(t, err, domain.ErrNotCompleted)
	_, err = h.engine.PrizePerWinner()
	assert.ErrorIs(t, err, domain.ErrNotCompleted)
	_, err = h.engine.PointsOf(1)
	assert.ErrorIs(t, err, domain.ErrNotCompleted)
}

func TestCalculatePoints_WinnersAtMaximum(t *testing.T) {
	h := newHarness(t, 4, ether(1))
	ctx := context.Background()

	h.buy(t, alice, []domain.Outcome{1, 1, 2, 3}) // 3 points
	h.buy(t, bob, []domain.Outcome{1, 1, 1, 1})   // 2 points
	h.buy(t, carol, []domain.Outcome{1, 1, 3, 3}) // 3 points

	h.resolve(t, []domain.Outcome{domain.OutcomeHome, domain.OutcomeHome, domain.OutcomeSuspended, domain.OutcomeAway})
	require.NoError(t, h.engine.CalculatePoints(ctx, gatewayAddr))

	assert.Equal(t, domain.PhaseCompleted, h.engine.Phase())

	winners, err := h.engine.Winners()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, winners)

	for id, want := range map[uint64]int{1: 3, 2: 2, 3: 3} {
		got, err := h.engine.PointsOf(id)
		require.NoError(t, err)
		assert.Equal(t, want, got, "ticket %d", id)
	}
}

func TestCalculatePoints_SuspendedIsNeutral(t *testing.T) {
	h := newHarness(t, 2, ether(1))
	ctx := context.Background()
	h.buy(t, alice, []domain.Outcome{domain.OutcomeHome, domain.OutcomeHome})
	h.buy(t, bob, []domain.Outcome{domain.OutcomeHome, domain.OutcomeAway})

	h.resolve(t, []domain.Outcome{domain.OutcomeHome, domain.OutcomeSuspended})
	require.NoError(t, h.engine.CalculatePoints(ctx, gatewayAddr))

	winners, err := h.engine.Winners()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, winners)
}

func TestCalculatePoints_ZeroScoreHasNoWinners(t *testing.T) {
	h := newHarness(t, 3, ether(1))
	ctx := context.Background()
	h.buy(t, alice, uniform(domain.OutcomeAway, 3))
	h.buy(t, bob, uniform(domain.OutcomeTie, 3))

	h.resolve(t, uniform(domain.OutcomeHome, 3))
	require.NoError(t, h.engine.CalculatePoints(ctx, gatewayAddr))

	winners, err := h.engine.Winners()
	require.NoError(t, err)
	assert.Empty(t, winners)

	share, err := h.engine.PrizePerWinner()
	require.NoError(t, err)
	assert.Equal(t, int64(0), share.Int64())

	_, err = h.engine.ClaimPrize(ctx, alice, 1)
	assert.ErrorIs(t, err, domain.ErrNotAWinner)
}

func TestCalculatePoints_OnlyOnce(t *testing.T) {
	h := newHarness(t, 1, ether(1))
	ctx := context.Background()
	h.resolve(t, []domain.Outcome{domain.OutcomeTie})

	require.NoError(t, h.engine.CalculatePoints(ctx, gatewayAddr))
	assert.ErrorIs(t, h.engine.CalculatePoints(ctx, gatewayAddr), domain.ErrAlreadyCompleted)

	_, err := h.engine.BuyTicket(ctx, alice, []domain.Outcome{domain.OutcomeTie}, ether(1))
	assert.ErrorIs(t, err, domain.ErrDateExpired)
}

func TestClaimPrize_OwnerClaimsOnce(t *testing.T) {
	n := domain.DefaultFixtureCount
	h := newHarness(t, n, ether(1))
	ctx := context.Background()

	winner := h.buy(t, alice, uniform(domain.OutcomeHome, n))
	h.buy(t, bob, uniform(domain.OutcomeAway, n))

	_, err := h.engine.ClaimPrize(ctx, alice, winner)
	assert.ErrorIs(t, err, domain.ErrNotCompleted)

	h.resolve(t, uniform(domain.OutcomeHome, n))
	require.NoError(t, h.engine.CalculatePoints(ctx, gatewayAddr))

	pts, err := h.engine.PointsOf(winner)
	require.NoError(t, err)
	assert.Equal(t, n, pts)

	_, err = h.engine.ClaimPrize(ctx, bob, winner)
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	amount, err := h.engine.ClaimPrize(ctx, alice, winner)
	require.NoError(t, err)
	// 80% of 0.2 ether.
	assert.Equal(t, big.NewInt(16e16), amount)
	assert.Equal(t, amount, h.engine.PayoutOf(alice))

	_, err = h.engine.ClaimPrize(ctx, alice, winner)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.Equal(t, amount, h.engine.PayoutOf(alice))

	tk, err := h.engine.Ticket(ctx, winner)
	require.NoError(t, err)
	assert.True(t, tk.Winner)
	assert.True(t, tk.Claimed)
}

func TestClaimPrize_FollowsTransferredOwnership(t *testing.T) {
	h := newHarness(t, 1, ether(1))
	ctx := context.Background()
	id := h.buy(t, alice, []domain.Outcome{domain.OutcomeHome})
	h.resolve(t, []domain.Outcome{domain.OutcomeHome})
	require.NoError(t, h.engine.CalculatePoints(ctx, gatewayAddr))

	require.NoError(t, h.registry.Transfer(ctx, alice, carol, id))

	_, err := h.engine.ClaimPrize(ctx, alice, id)
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	_, err = h.engine.ClaimPrize(ctx, carol, id)
	require.NoError(t, err)

	pts, err := h.engine.PointsOf(id)
	require.NoError(t, err)
	assert.Equal(t, 1, pts)
}

func TestClaimPrize_NoOverdistribution(t *testing.T) {
	h := newHarness(t, 1, big.NewInt(7))
	ctx := context.Background()
	for _, who := range []common.Address{alice, bob, carol} {
		h.buy(t, who, []domain.Outcome{domain.OutcomeTie})
	}
	h.resolve(t, []domain.Outcome{domain.OutcomeTie})
	require.NoError(t, h.engine.CalculatePoints(ctx, gatewayAddr))

	// 21 collected, 16 claimable, 5 per winner.
	assert.Equal(t, int64(16), h.engine.Prize().Int64())
	share, err := h.engine.PrizePerWinner()
	require.NoError(t, err)
	assert.Equal(t, int64(5), share.Int64())

	for id, who := range []common.Address{alice, bob, carol} {
		_, err := h.engine.ClaimPrize(ctx, who, uint64(id+1))
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, h.engine.PaidOut().Int64(), h.engine.Prize().Int64())
	assert.Equal(t, int64(15), h.engine.PaidOut().Int64())
}

func TestJournalFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, 1, ether(1))
	ctx := context.Background()

	h.log.FailNext(1)
	_, err := h.engine.BuyTicket(ctx, alice, []domain.Outcome{domain.OutcomeHome}, ether(1))
	require.ErrorIs(t, err, eventstest.ErrUnavailable)
	assert.Equal(t, int64(0), h.engine.Collected().Int64())
	assert.Equal(t, 0, h.engine.TicketsSold())
	minted, err := h.registry.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, minted)
	_, err = h.registry.OwnerOf(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrTicketNotFound)

	id, err := h.engine.BuyTicket(ctx, bob, []domain.Outcome{domain.OutcomeAway}, ether(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	owner, err := h.registry.OwnerOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, bob, owner)
	assert.Equal(t, 1, h.store.Len())

	h.clock.Set(h.schedule[0])
	h.log.FailNext(1)
	err = h.engine.RecordFixtureResult(ctx, gatewayAddr, 0, domain.OutcomeHome)
	require.ErrorIs(t, err, eventstest.ErrUnavailable)
	assert.Equal(t, 0, h.engine.ResolvedFixtures())

	require.NoError(t, h.engine.RecordFixtureResult(ctx, gatewayAddr, 0, domain.OutcomeHome))
	assert.Equal(t, 1, h.engine.ResolvedFixtures())
}

func TestApply_RebuildsFromJournal(t *testing.T) {
	h := newHarness(t, 2, ether(1))
	ctx := context.Background()
	h.buy(t, alice, []domain.Outcome{domain.OutcomeHome, domain.OutcomeTie})
	h.buy(t, bob, []domain.Outcome{domain.OutcomeAway, domain.OutcomeTie})
	h.resolve(t, []domain.Outcome{domain.OutcomeHome, domain.OutcomeTie})
	require.NoError(t, h.engine.CalculatePoints(ctx, gatewayAddr))
	_, err := h.engine.ClaimPrize(ctx, alice, 1)
	require.NoError(t, err)

	rebuilt, err := NewEngine(Config{
		Registry:    h.registry,
		Deadline:    start.Add(time.Hour),
		Schedule:    h.schedule,
		TicketPrice: h.price,
		Forwarder:   gatewayAddr,
		Clock:       h.clock,
		Log:         events.NewMemoryStore(),
	})
	require.NoError(t, err)

	n, err := events.NewJournal(h.store, nil).Replay(ctx, rebuilt.Apply)
	require.NoError(t, err)
	assert.Equal(t, h.store.Len(), n)

	assert.Equal(t, h.engine.Collected(), rebuilt.Collected())
	assert.Equal(t, 2, rebuilt.ResolvedFixtures())
	winners, err := rebuilt.Winners()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, winners)
	assert.Equal(t, h.engine.PayoutOf(alice), rebuilt.PayoutOf(alice))

	_, err = rebuilt.ClaimPrize(ctx, alice, 1)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t, 1, ether(1))
	ctx := context.Background()
	h.buy(t, alice, []domain.Outcome{domain.OutcomeAway})
	h.resolve(t, []domain.Outcome{domain.OutcomeAway})
	require.NoError(t, h.engine.CalculatePoints(ctx, gatewayAddr))

	r, err := h.engine.Snapshot(ctx, "worldcup")
	require.NoError(t, err)
	assert.Equal(t, "worldcup", r.Pool)
	assert.Equal(t, ether(1).String(), r.Collected)
	assert.Equal(t, big.NewInt(8e16).String(), r.PrizePerWinner)
	assert.Equal(t, []uint64{1}, r.Winners)
	require.Len(t, r.Tickets, 1)
	assert.Equal(t, alice.Hex(), r.Tickets[0].Owner)
	assert.Equal(t, "3", r.Tickets[0].Prediction)
	assert.Equal(t, 1, r.Tickets[0].Points)
}
