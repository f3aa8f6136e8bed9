package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RequestStatus is the lifecycle state of an authorization request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestExecuted RequestStatus = "executed"
)

// Request is a queued administrative call awaiting quorum.
type Request struct {
	ID          uint64
	Target      common.Address
	Payload     []byte
	Submitter   common.Address
	Epoch       uint64
	Approvals   []common.Address
	Executed    bool
	SubmittedAt time.Time
	ExecutedAt  *time.Time
}

// Status derives the request state.
func (r Request) Status() RequestStatus {
	if r.Executed {
		return RequestExecuted
	}
	return RequestPending
}

// HasApproved reports whether addr is among the approvals.
func (r Request) HasApproved(addr common.Address) bool {
	for _, a := range r.Approvals {
		if a == addr {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out of a lock.
func (r Request) Clone() Request {
	out := r
	out.Payload = append([]byte(nil), r.Payload...)
	out.Approvals = append([]common.Address(nil), r.Approvals...)
	if r.ExecutedAt != nil {
		t := *r.ExecutedAt
		out.ExecutedAt = &t
	}
	return out
}

// StagedCall is a forwarded call that a target has validated but not yet
// committed. The target's state stays locked until Commit or Abort, so the
// staged events remain valid while the caller journals them.
type StagedCall interface {
	// Events returns the events the call commits, in order.
	Events() []Event
	// Output is the call's return data.
	Output() []byte
	// Commit applies the journaled copies of Events and releases the target.
	Commit(ctx context.Context, stored []Event)
	// Abort releases the target without changing it.
	Abort()
}
