package domain

import "errors"

// ErrorKind groups domain errors so transports can map them without knowing
// every sentinel.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindAuthorization: the caller lacks the required identity or role.
	KindAuthorization
	// KindPrecondition: well-formed but too early or too late.
	KindPrecondition
	// KindIntegrity: the operation would break a once-only invariant.
	KindIntegrity
	// KindValidation: malformed or disallowed arguments.
	KindValidation
	// KindNotFound: the referenced record does not exist.
	KindNotFound
)

// Error is a named, classified domain failure.
type Error struct {
	Kind ErrorKind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// KindOf returns the kind of the first domain error in err's chain, or
// KindUnknown.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// Authorization errors.
var (
	ErrNotApprover        = newError(KindAuthorization, "not approver")
	ErrNotOwner           = newError(KindAuthorization, "not ticket owner")
	ErrUnauthorizedCaller = newError(KindAuthorization, "caller is not the authorized forwarder")
)

// State-precondition errors.
var (
	ErrDateExpired       = newError(KindPrecondition, "betting deadline has passed")
	ErrFixtureNotYetDue  = newError(KindPrecondition, "fixture may not be finished yet")
	ErrResultsIncomplete = newError(KindPrecondition, "there are still pending results")
	ErrNotCompleted      = newError(KindPrecondition, "settlement is not completed")
)

// Integrity errors.
var (
	ErrResultAlreadyRecorded = newError(KindIntegrity, "result already recorded")
	ErrAlreadyApproved       = newError(KindIntegrity, "request already approved")
	ErrAlreadyExecuted       = newError(KindIntegrity, "request already executed")
	ErrAlreadyClaimed        = newError(KindIntegrity, "prize already claimed")
	ErrAlreadyCompleted      = newError(KindIntegrity, "points already calculated")
)

// Validation errors.
var (
	ErrInvalidPrice     = newError(KindValidation, "invalid price")
	ErrIncompleteTicket = newError(KindValidation, "there are fixtures without prediction")
	ErrInvalidFixture   = newError(KindValidation, "invalid fixture index")
	ErrInvalidResult    = newError(KindValidation, "invalid result")
	ErrNotAWinner       = newError(KindValidation, "ticket is not a winner")
	ErrNoSuchRequest    = newError(KindValidation, "request does not exist")
	ErrQuorumNotMet     = newError(KindValidation, "not enough approvals")
)

// Lookup errors.
var (
	ErrNotFound       = newError(KindNotFound, "not found")
	ErrTicketNotFound = newError(KindNotFound, "ticket not found")
)

// Infrastructure errors.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrLockHeld    = errors.New("lock already held")
)
