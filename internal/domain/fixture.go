package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultFixtureCount is the size of the slate in the reference deployment.
const DefaultFixtureCount = 48

// Outcome is both a prediction code (Home, Tie, Away; zero means unset) and
// a fixture result (Pending, Home, Tie, Away, Suspended).
type Outcome uint8

const (
	OutcomePending   Outcome = 0
	OutcomeHome      Outcome = 1
	OutcomeTie       Outcome = 2
	OutcomeAway      Outcome = 3
	OutcomeSuspended Outcome = 4
)

// OutcomeUnset is the zero prediction code.
const OutcomeUnset = OutcomePending

var outcomeNames = map[Outcome]string{
	OutcomePending:   "pending",
	OutcomeHome:      "home",
	OutcomeTie:       "tie",
	OutcomeAway:      "away",
	OutcomeSuspended: "suspended",
}

func (o Outcome) String() string {
	if n, ok := outcomeNames[o]; ok {
		return n
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// IsPrediction reports whether o may appear in a ticket.
func (o Outcome) IsPrediction() bool {
	return o >= OutcomeHome && o <= OutcomeAway
}

// IsResult reports whether o is a terminal fixture result.
func (o Outcome) IsResult() bool {
	return o >= OutcomeHome && o <= OutcomeSuspended
}

// Scores reports whether a fixture with result o can award a point.
func (o Outcome) Scores() bool {
	return o.IsPrediction()
}

// MarshalText renders the outcome name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText accepts either the outcome name or its numeric code.
func (o *Outcome) UnmarshalText(text []byte) error {
	v, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// ParseOutcome parses "home", "tie", "away", "suspended", "pending" or the
// numeric codes 0-4. "local"/"visitor" are accepted as aliases.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "unset", "0":
		return OutcomePending, nil
	case "home", "local", "1":
		return OutcomeHome, nil
	case "tie", "draw", "2":
		return OutcomeTie, nil
	case "away", "visitor", "3":
		return OutcomeAway, nil
	case "suspended", "4":
		return OutcomeSuspended, nil
	}
	return 0, fmt.Errorf("domain: unknown outcome %q", s)
}

// Fixture is one scheduled match of the slate.
type Fixture struct {
	Index  int       `json:"index"`
	DueAt  time.Time `json:"due_at"`
	Result Outcome   `json:"result"`
}

// Resolved reports whether a terminal result has been recorded.
func (f Fixture) Resolved() bool {
	return f.Result != OutcomePending
}

// Phase is the settlement lifecycle stage.
type Phase string

const (
	PhaseBetting   Phase = "betting"
	PhaseSettling  Phase = "settling"
	PhaseCompleted Phase = "completed"
)
