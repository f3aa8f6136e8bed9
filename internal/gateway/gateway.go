// Package gateway implements an N-of-M authorization gateway. Approvers
// queue administrative calls, collect approvals, and the gateway forwards a
// call to its target once the approval threshold is reached.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// InitialEpoch is the membership epoch of the approver set a gateway is
// built with. Approver rotation is not supported, so it never changes.
const InitialEpoch uint64 = 1

// Target receives forwarded calls. caller is the gateway's own identity.
// Stage validates payload and returns the target's events unjournaled; the
// gateway journals them in the same batch as the execution record and then
// commits or aborts the staged call.
type Target interface {
	Stage(ctx context.Context, caller common.Address, payload []byte) (domain.StagedCall, error)
}

// errReverted is returned when a call cannot be delivered at all. It is
// deliberately opaque.
var errReverted = errors.New("execution reverted")

// Gateway is safe for concurrent use.
type Gateway struct {
	mu sync.Mutex

	self      common.Address
	approvers []common.Address
	isMember  map[common.Address]bool
	threshold int
	epoch     uint64
	targets   map[common.Address]Target
	requests  []domain.Request

	clock  domain.Clock
	log    domain.EventLog
	logger *slog.Logger
}

// Config holds the construction parameters of a Gateway.
type Config struct {
	// Self is the identity the gateway presents to targets.
	Self      common.Address
	Approvers []common.Address
	Threshold int
	Clock     domain.Clock
	Log       domain.EventLog
	Logger    *slog.Logger
}

// New validates cfg and returns a gateway with an empty request log.
func New(cfg Config) (*Gateway, error) {
	if len(cfg.Approvers) == 0 {
		return nil, errors.New("gateway: at least one approver is required")
	}
	member := make(map[common.Address]bool, len(cfg.Approvers))
	for _, a := range cfg.Approvers {
		if a == (common.Address{}) {
			return nil, errors.New("gateway: zero approver address")
		}
		if member[a] {
			return nil, fmt.Errorf("gateway: duplicate approver %s", a.Hex())
		}
		member[a] = true
	}
	if cfg.Threshold < 1 || cfg.Threshold > len(cfg.Approvers) {
		return nil, fmt.Errorf("gateway: threshold %d out of range 1..%d", cfg.Threshold, len(cfg.Approvers))
	}
	if cfg.Log == nil {
		return nil, errors.New("gateway: event log is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = domain.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		self:      cfg.Self,
		approvers: append([]common.Address(nil), cfg.Approvers...),
		isMember:  member,
		threshold: cfg.Threshold,
		epoch:     InitialEpoch,
		targets:   make(map[common.Address]Target),
		clock:     cfg.Clock,
		log:       cfg.Log,
		logger:    cfg.Logger.With(slog.String("component", "gateway")),
	}, nil
}

// Register binds addr to a forwarding target. Calls queued for an
// unregistered address fail at execution time.
func (g *Gateway) Register(addr common.Address, t Target) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.targets[addr] = t
}

// Submit queues payload for target and returns the request id. It does not
// count as an approval.
func (g *Gateway) Submit(ctx context.Context, caller, target common.Address, payload []byte) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.isMember[caller] {
		return 0, domain.ErrNotApprover
	}

	ev := domain.NewEvent(domain.EventRequestSubmitted, caller, g.clock.Now())
	ev.RequestID = uint64(len(g.requests))
	ev.Target = target
	ev.Payload = append([]byte(nil), payload...)
	ev.Epoch = g.epoch
	if err := g.commit(ctx, ev); err != nil {
		return 0, fmt.Errorf("gateway: submit: %w", err)
	}

	g.logger.InfoContext(ctx, "request submitted",
		slog.Uint64("request_id", ev.RequestID),
		slog.String("submitter", caller.Hex()),
		slog.String("target", target.Hex()),
		slog.Int("payload_bytes", len(payload)),
	)
	return ev.RequestID, nil
}

// Approve records caller's approval of request id.
func (g *Gateway) Approve(ctx context.Context, caller common.Address, id uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.isMember[caller] {
		return domain.ErrNotApprover
	}
	req, err := g.pending(id)
	if err != nil {
		return err
	}
	if req.HasApproved(caller) {
		return domain.ErrAlreadyApproved
	}

	ev := domain.NewEvent(domain.EventRequestApproved, caller, g.clock.Now())
	ev.RequestID = id
	if err := g.commit(ctx, ev); err != nil {
		return fmt.Errorf("gateway: approve %d: %w", id, err)
	}

	g.logger.InfoContext(ctx, "request approved",
		slog.Uint64("request_id", id),
		slog.String("approver", caller.Hex()),
		slog.Int("approvals", len(g.requests[id].Approvals)),
		slog.Int("threshold", g.threshold),
	)
	return nil
}

// Execute forwards request id to its target once the threshold is met. If
// the target fails, its error is returned and the request stays pending.
// The target's events and the execution record are journaled as one batch,
// so neither is recorded without the other. Anyone may trigger execution.
func (g *Gateway) Execute(ctx context.Context, caller common.Address, id uint64) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, err := g.pending(id)
	if err != nil {
		return nil, err
	}
	if g.approvals(req) < g.threshold {
		return nil, domain.ErrQuorumNotMet
	}

	staged, err := g.forward(ctx, req)
	if err != nil {
		g.logger.WarnContext(ctx, "forwarded call failed",
			slog.Uint64("request_id", id),
			slog.String("target", req.Target.Hex()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	batch := staged.Events()
	n := len(batch)
	ev := domain.NewEvent(domain.EventRequestExecuted, caller, g.clock.Now())
	ev.RequestID = id
	stored, err := g.log.Append(ctx, append(batch, ev)...)
	if err != nil {
		staged.Abort()
		return nil, fmt.Errorf("gateway: execute %d: journal: %w", id, err)
	}
	staged.Commit(ctx, stored[:n])
	g.apply(stored[n])

	g.logger.InfoContext(ctx, "request executed",
		slog.Uint64("request_id", id),
		slog.String("executor", caller.Hex()),
	)
	return staged.Output(), nil
}

func (g *Gateway) forward(ctx context.Context, req *domain.Request) (domain.StagedCall, error) {
	if req.Target == g.self {
		return nil, errReverted
	}
	t, ok := g.targets[req.Target]
	if !ok {
		return nil, errReverted
	}
	return t.Stage(ctx, g.self, append([]byte(nil), req.Payload...))
}

// Stage lets the gateway be registered as a target of another gateway. The
// gateway exposes no callable methods, so every call reverts.
func (g *Gateway) Stage(context.Context, common.Address, []byte) (domain.StagedCall, error) {
	return nil, errReverted
}

// pending returns the live request id, failing if it is unknown or already
// executed. Callers hold g.mu.
func (g *Gateway) pending(id uint64) (*domain.Request, error) {
	if id >= uint64(len(g.requests)) {
		return nil, domain.ErrNoSuchRequest
	}
	req := &g.requests[id]
	if req.Executed {
		return nil, domain.ErrAlreadyExecuted
	}
	return req, nil
}

// approvals counts approvals from current members.
func (g *Gateway) approvals(req *domain.Request) int {
	n := 0
	for _, a := range req.Approvals {
		if g.isMember[a] {
			n++
		}
	}
	return n
}

func (g *Gateway) commit(ctx context.Context, ev domain.Event) error {
	stored, err := g.log.Append(ctx, ev)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	g.apply(stored[0])
	return nil
}

// Apply folds a journaled gateway event into the request log. Engine
// events are ignored.
func (g *Gateway) Apply(ev domain.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.apply(ev)
}

func (g *Gateway) apply(ev domain.Event) {
	switch ev.Kind {
	case domain.EventRequestSubmitted:
		if ev.RequestID != uint64(len(g.requests)) {
			g.logger.Warn("out of order request event ignored",
				slog.Uint64("request_id", ev.RequestID),
				slog.Int("requests", len(g.requests)),
			)
			return
		}
		g.requests = append(g.requests, domain.Request{
			ID:          ev.RequestID,
			Target:      ev.Target,
			Payload:     append([]byte(nil), ev.Payload...),
			Submitter:   ev.Actor,
			Epoch:       ev.Epoch,
			SubmittedAt: ev.At,
		})

	case domain.EventRequestApproved:
		if ev.RequestID >= uint64(len(g.requests)) {
			return
		}
		req := &g.requests[ev.RequestID]
		if !req.Executed && !req.HasApproved(ev.Actor) {
			req.Approvals = append(req.Approvals, ev.Actor)
		}

	case domain.EventRequestExecuted:
		if ev.RequestID >= uint64(len(g.requests)) {
			return
		}
		req := &g.requests[ev.RequestID]
		at := ev.At
		req.Executed = true
		req.ExecutedAt = &at
	}
}

// Request returns a copy of request id.
func (g *Gateway) Request(id uint64) (domain.Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id >= uint64(len(g.requests)) {
		return domain.Request{}, domain.ErrNoSuchRequest
	}
	return g.requests[id].Clone(), nil
}

// Requests returns copies of every request in queue order.
func (g *Gateway) Requests() []domain.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.Request, len(g.requests))
	for i, r := range g.requests {
		out[i] = r.Clone()
	}
	return out
}

// Approvers returns the approver set.
func (g *Gateway) Approvers() []common.Address {
	return append([]common.Address(nil), g.approvers...)
}

// IsApprover reports whether addr belongs to the approver set.
func (g *Gateway) IsApprover(addr common.Address) bool {
	return g.isMember[addr]
}

// Threshold returns the number of approvals a request needs.
func (g *Gateway) Threshold() int { return g.threshold }

// Epoch returns the current membership epoch.
func (g *Gateway) Epoch() uint64 { return g.epoch }

// Address returns the gateway's own identity.
func (g *Gateway) Address() common.Address { return g.self }
