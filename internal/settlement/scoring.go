package settlement

import (
	"sort"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prodepool/internal/domain"
	"github.com/alanyoungcy/prodepool/internal/prediction"
)

type tally struct {
	points    map[uint64]int
	maxPoints int
	winners   []uint64
}

// tally scores every sold ticket against the recorded results. Callers
// hold e.mu.
func (e *Engine) tally() tally {
	return score(e.fixtures, e.ledger.tickets, e.ledger.predictions)
}

// score counts, per ticket, the fixtures whose non-suspended result equals
// the ticket's prediction. Winners are the tickets at the maximum, in
// ascending id order; a maximum of zero yields no winners.
func score(fixtures []domain.Fixture, tickets []uint64, predictions map[uint64]*uint256.Int) tally {
	t := tally{points: make(map[uint64]int, len(tickets))}
	for _, id := range tickets {
		enc := predictions[id]
		pts := 0
		for _, f := range fixtures {
			if f.Result.Scores() && prediction.Decode(enc, f.Index) == f.Result {
				pts++
			}
		}
		t.points[id] = pts
		if pts > t.maxPoints {
			t.maxPoints = pts
		}
	}
	if t.maxPoints == 0 {
		return t
	}
	for _, id := range tickets {
		if t.points[id] == t.maxPoints {
			t.winners = append(t.winners, id)
		}
	}
	sort.Slice(t.winners, func(i, j int) bool { return t.winners[i] < t.winners[j] })
	return t
}
