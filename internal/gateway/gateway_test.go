package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prodepool/internal/domain"
	"github.com/alanyoungcy/prodepool/internal/events"
	"github.com/alanyoungcy/prodepool/internal/events/eventstest"
)

var (
	self     = common.HexToAddress("0x000000000000000000000000000000000000ca7e")
	engineID = common.HexToAddress("0x000000000000000000000000000000000000e191")
	approvA  = common.HexToAddress("0x000000000000000000000000000000000000000a")
	approvB  = common.HexToAddress("0x000000000000000000000000000000000000000b")
	outsider = common.HexToAddress("0x0000000000000000000000000000000000000bad")
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// recordingTarget stages one event per call and records the calls that
// were committed.
type recordingTarget struct {
	calls   [][]byte
	callers []common.Address
	stored  []domain.Event
	aborted int
	fail    error
}

func (r *recordingTarget) Stage(_ context.Context, caller common.Address, payload []byte) (domain.StagedCall, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	ev := domain.NewEvent(domain.EventFixtureResultRecorded, caller, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	return &recordedCall{target: r, caller: caller, payload: payload, ev: ev}, nil
}

type recordedCall struct {
	target  *recordingTarget
	caller  common.Address
	payload []byte
	ev      domain.Event
}

func (c *recordedCall) Events() []domain.Event { return []domain.Event{c.ev} }

func (c *recordedCall) Output() []byte { return []byte("ok") }

func (c *recordedCall) Commit(_ context.Context, stored []domain.Event) {
	c.target.calls = append(c.target.calls, c.payload)
	c.target.callers = append(c.target.callers, c.caller)
	c.target.stored = append(c.target.stored, stored...)
}

func (c *recordedCall) Abort() { c.target.aborted++ }

func newGateway(t *testing.T, threshold int, store domain.EventLog) *Gateway {
	t.Helper()
	g, err := New(Config{
		Self:      self,
		Approvers: []common.Address{approvA, approvB},
		Threshold: threshold,
		Clock:     fixedClock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
		Log:       store,
	})
	require.NoError(t, err)
	return g
}

func TestNew_Validation(t *testing.T) {
	log := events.NewMemoryStore()
	tests := []struct {
		name      string
		approvers []common.Address
		threshold int
	}{
		{"no approvers", nil, 1},
		{"duplicate", []common.Address{approvA, approvA}, 1},
		{"zero address", []common.Address{{}}, 1},
		{"threshold zero", []common.Address{approvA}, 0},
		{"threshold too high", []common.Address{approvA, approvB}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{Self: self, Approvers: tt.approvers, Threshold: tt.threshold, Log: log})
			assert.Error(t, err)
		})
	}
}

func TestGateway_TwoOfTwo(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t, 2, events.NewMemoryStore())
	target := &recordingTarget{}
	g.Register(engineID, target)

	id, err := g.Submit(ctx, approvA, engineID, []byte{0xca, 0xfe})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)

	require.NoError(t, g.Approve(ctx, approvA, id))
	_, err = g.Execute(ctx, approvA, id)
	assert.ErrorIs(t, err, domain.ErrQuorumNotMet)
	assert.Empty(t, target.calls)

	require.NoError(t, g.Approve(ctx, approvB, id))
	out, err := g.Execute(ctx, approvA, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), out)
	require.Len(t, target.calls, 1)
	assert.Equal(t, []byte{0xca, 0xfe}, target.calls[0])
	assert.Equal(t, self, target.callers[0])

	req, err := g.Request(id)
	require.NoError(t, err)
	assert.True(t, req.Executed)
	assert.Equal(t, domain.RequestExecuted, req.Status())
	assert.Equal(t, InitialEpoch, req.Epoch)
	assert.NotNil(t, req.ExecutedAt)

	_, err = g.Execute(ctx, approvA, id)
	assert.ErrorIs(t, err, domain.ErrAlreadyExecuted)
	assert.ErrorIs(t, g.Approve(ctx, approvA, id), domain.ErrAlreadyExecuted)
	assert.Len(t, target.calls, 1)
}

func TestGateway_SubmitDoesNotApprove(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t, 1, events.NewMemoryStore())
	g.Register(engineID, &recordingTarget{})

	id, err := g.Submit(ctx, approvA, engineID, nil)
	require.NoError(t, err)
	_, err = g.Execute(ctx, approvA, id)
	assert.ErrorIs(t, err, domain.ErrQuorumNotMet)
}

func TestGateway_Rejections(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t, 1, events.NewMemoryStore())

	_, err := g.Submit(ctx, outsider, engineID, nil)
	assert.ErrorIs(t, err, domain.ErrNotApprover)

	id, err := g.Submit(ctx, approvA, engineID, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, g.Approve(ctx, outsider, id), domain.ErrNotApprover)
	assert.ErrorIs(t, g.Approve(ctx, approvA, 7), domain.ErrNoSuchRequest)
	_, err = g.Execute(ctx, approvA, 7)
	assert.ErrorIs(t, err, domain.ErrNoSuchRequest)

	require.NoError(t, g.Approve(ctx, approvA, id))
	assert.ErrorIs(t, g.Approve(ctx, approvA, id), domain.ErrAlreadyApproved)

	req, err := g.Request(id)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{approvA}, req.Approvals)
}

func TestGateway_FailedForwardStaysPending(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t, 1, events.NewMemoryStore())
	target := &recordingTarget{fail: domain.ErrFixtureNotYetDue}
	g.Register(engineID, target)

	id, err := g.Submit(ctx, approvA, engineID, []byte{1})
	require.NoError(t, err)
	require.NoError(t, g.Approve(ctx, approvB, id))

	_, err = g.Execute(ctx, outsider, id)
	assert.ErrorIs(t, err, domain.ErrFixtureNotYetDue)
	req, err := g.Request(id)
	require.NoError(t, err)
	assert.False(t, req.Executed)

	target.fail = nil
	_, err = g.Execute(ctx, outsider, id)
	require.NoError(t, err)
	assert.Len(t, target.calls, 1)
}

func TestGateway_UnknownTargetIsOpaque(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t, 1, events.NewMemoryStore())
	g.Register(self, g)

	for _, target := range []common.Address{outsider, self} {
		id, err := g.Submit(ctx, approvA, target, []byte{1})
		require.NoError(t, err)
		require.NoError(t, g.Approve(ctx, approvA, id))

		_, err = g.Execute(ctx, approvA, id)
		require.Error(t, err)
		assert.Equal(t, domain.KindUnknown, domain.KindOf(err))

		req, err := g.Request(id)
		require.NoError(t, err)
		assert.False(t, req.Executed)
	}
}

func TestGateway_JournalFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := eventstest.NewFlakyStore(events.NewMemoryStore())
	g := newGateway(t, 1, store)

	store.FailNext(1)
	_, err := g.Submit(ctx, approvA, engineID, nil)
	require.ErrorIs(t, err, eventstest.ErrUnavailable)
	assert.Empty(t, g.Requests())

	id, err := g.Submit(ctx, approvA, engineID, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)
}

func TestGateway_ExecutionRecordFailureAbortsTarget(t *testing.T) {
	ctx := context.Background()
	mem := events.NewMemoryStore()
	store := eventstest.NewFlakyStore(mem)
	g := newGateway(t, 1, store)
	target := &recordingTarget{}
	g.Register(engineID, target)

	id, err := g.Submit(ctx, approvA, engineID, []byte{7})
	require.NoError(t, err)
	require.NoError(t, g.Approve(ctx, approvA, id))

	store.FailOn(domain.EventRequestExecuted)
	_, err = g.Execute(ctx, approvA, id)
	require.ErrorIs(t, err, eventstest.ErrUnavailable)
	assert.Empty(t, target.calls)
	assert.Equal(t, 1, target.aborted)
	assert.Equal(t, 2, mem.Len())
	req, err := g.Request(id)
	require.NoError(t, err)
	assert.False(t, req.Executed)

	store.Heal()
	out, err := g.Execute(ctx, approvA, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), out)
	require.Len(t, target.calls, 1)
	require.Len(t, target.stored, 1)
	assert.Equal(t, uint64(3), target.stored[0].Seq)
	assert.Equal(t, 4, mem.Len())

	logged, err := mem.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, logged, 2)
	assert.Equal(t, domain.EventFixtureResultRecorded, logged[0].Kind)
	assert.Equal(t, domain.EventRequestExecuted, logged[1].Kind)
	req, err = g.Request(id)
	require.NoError(t, err)
	assert.True(t, req.Executed)
}

func TestGateway_ReplayRebuildsRequests(t *testing.T) {
	ctx := context.Background()
	store := events.NewMemoryStore()
	g := newGateway(t, 2, store)
	g.Register(engineID, &recordingTarget{})

	id0, err := g.Submit(ctx, approvA, engineID, []byte{1})
	require.NoError(t, err)
	id1, err := g.Submit(ctx, approvB, engineID, []byte{2})
	require.NoError(t, err)
	require.NoError(t, g.Approve(ctx, approvA, id0))
	require.NoError(t, g.Approve(ctx, approvB, id0))
	require.NoError(t, g.Approve(ctx, approvB, id1))
	_, err = g.Execute(ctx, approvA, id0)
	require.NoError(t, err)

	rebuilt := newGateway(t, 2, events.NewMemoryStore())
	_, err = events.NewJournal(store, nil).Replay(ctx, rebuilt.Apply)
	require.NoError(t, err)

	assert.Equal(t, g.Requests(), rebuilt.Requests())
	_, err = rebuilt.Execute(ctx, approvA, id0)
	assert.ErrorIs(t, err, domain.ErrAlreadyExecuted)
	_, err = rebuilt.Execute(ctx, approvA, id1)
	assert.ErrorIs(t, err, domain.ErrQuorumNotMet)
}
