package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// EventKind names a committed state change.
type EventKind string

const (
	EventTicketPurchased       EventKind = "ticket_purchased"
	EventFixtureResultRecorded EventKind = "fixture_result_recorded"
	EventScoringCompleted      EventKind = "scoring_completed"
	EventPrizeClaimed          EventKind = "prize_claimed"

	EventRequestSubmitted EventKind = "request_submitted"
	EventRequestApproved  EventKind = "request_approved"
	EventRequestExecuted  EventKind = "request_executed"
)

// Event is the notification emitted for every committed operation. Only the
// fields relevant to Kind are populated. Actor is the buyer, recorder,
// claimant, submitter, approver or executor depending on the kind.
type Event struct {
	ID    uuid.UUID
	Seq   uint64
	Kind  EventKind
	At    time.Time
	Actor common.Address

	TicketID    uint64
	Prediction  *uint256.Int
	Amount      *big.Int
	Fixture     int
	Result      Outcome
	WinnerCount int

	RequestID uint64
	Target    common.Address
	Payload   []byte
	Epoch     uint64
}

// NewEvent stamps a fresh id and time on an event of the given kind.
func NewEvent(kind EventKind, actor common.Address, at time.Time) Event {
	return Event{
		ID:    uuid.New(),
		Kind:  kind,
		At:    at.UTC(),
		Actor: actor,
	}
}

// eventJSON is the persisted form of Event. Big numbers travel as decimal
// strings so no consumer loses precision.
type eventJSON struct {
	ID          string          `json:"id"`
	Seq         uint64          `json:"seq"`
	Kind        EventKind       `json:"kind"`
	At          time.Time       `json:"at"`
	Actor       common.Address  `json:"actor"`
	TicketID    uint64          `json:"ticket_id,omitempty"`
	Prediction  string          `json:"prediction,omitempty"`
	Amount      string          `json:"amount,omitempty"`
	Fixture     int             `json:"fixture,omitempty"`
	Result      Outcome         `json:"result,omitempty"`
	WinnerCount int             `json:"winner_count,omitempty"`
	RequestID   uint64          `json:"request_id,omitempty"`
	Target      *common.Address `json:"target,omitempty"`
	Payload     hexutil.Bytes   `json:"payload,omitempty"`
	Epoch       uint64          `json:"epoch,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		ID:          e.ID.String(),
		Seq:         e.Seq,
		Kind:        e.Kind,
		At:          e.At,
		Actor:       e.Actor,
		TicketID:    e.TicketID,
		Fixture:     e.Fixture,
		Result:      e.Result,
		WinnerCount: e.WinnerCount,
		RequestID:   e.RequestID,
		Payload:     e.Payload,
		Epoch:       e.Epoch,
	}
	if e.Prediction != nil {
		out.Prediction = e.Prediction.Dec()
	}
	if e.Amount != nil {
		out.Amount = e.Amount.String()
	}
	if e.Target != (common.Address{}) {
		t := e.Target
		out.Target = &t
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var in eventJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	id, err := uuid.Parse(in.ID)
	if err != nil {
		return fmt.Errorf("domain: event id: %w", err)
	}
	out := Event{
		ID:          id,
		Seq:         in.Seq,
		Kind:        in.Kind,
		At:          in.At,
		Actor:       in.Actor,
		TicketID:    in.TicketID,
		Fixture:     in.Fixture,
		Result:      in.Result,
		WinnerCount: in.WinnerCount,
		RequestID:   in.RequestID,
		Payload:     in.Payload,
		Epoch:       in.Epoch,
	}
	if in.Prediction != "" {
		p, err := uint256.FromDecimal(in.Prediction)
		if err != nil {
			return fmt.Errorf("domain: event prediction: %w", err)
		}
		out.Prediction = p
	}
	if in.Amount != "" {
		a, ok := new(big.Int).SetString(in.Amount, 10)
		if !ok {
			return fmt.Errorf("domain: event amount %q", in.Amount)
		}
		out.Amount = a
	}
	if in.Target != nil {
		out.Target = *in.Target
	}
	*e = out
	return nil
}

// Fields flattens the event into string-keyed values for structured sinks
// (protobuf Struct, audit detail, notification text).
func (e Event) Fields() map[string]any {
	m := map[string]any{
		"id":    e.ID.String(),
		"seq":   float64(e.Seq),
		"kind":  string(e.Kind),
		"at":    e.At.Format(time.RFC3339Nano),
		"actor": e.Actor.Hex(),
	}
	switch e.Kind {
	case EventTicketPurchased:
		m["ticket_id"] = float64(e.TicketID)
		if e.Prediction != nil {
			m["prediction"] = e.Prediction.Dec()
		}
		if e.Amount != nil {
			m["amount"] = e.Amount.String()
		}
	case EventFixtureResultRecorded:
		m["fixture"] = float64(e.Fixture)
		m["result"] = e.Result.String()
	case EventScoringCompleted:
		m["winner_count"] = float64(e.WinnerCount)
	case EventPrizeClaimed:
		m["ticket_id"] = float64(e.TicketID)
		if e.Amount != nil {
			m["amount"] = e.Amount.String()
		}
	case EventRequestSubmitted:
		m["request_id"] = float64(e.RequestID)
		m["target"] = e.Target.Hex()
		m["payload"] = hexutil.Encode(e.Payload)
		m["epoch"] = float64(e.Epoch)
	case EventRequestApproved, EventRequestExecuted:
		m["request_id"] = float64(e.RequestID)
	}
	return m
}

// EventLog durably records committed events. Append stores evs as one unit
// with consecutive Seq values and returns the stored copies. A failed Append
// stores none of them and means the operation did not happen.
type EventLog interface {
	Append(ctx context.Context, evs ...Event) ([]Event, error)
}

// EventStore is the persistent journal behind an EventLog.
type EventStore interface {
	Append(ctx context.Context, evs ...Event) ([]Event, error)
	List(ctx context.Context, afterSeq uint64, limit int) ([]Event, error)
}

// EventSink consumes committed events after they are journaled.
type EventSink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}
