package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

const replayPage = 500

// Journal is the domain.EventLog used by the engine and the gateway: it
// persists each event in a store and, once stored, hands it to the
// dispatcher. It also remembers the highest sequence number this process
// has applied so that CatchUp can pick up events written by other nodes.
type Journal struct {
	store      domain.EventStore
	dispatcher *Dispatcher

	mu   sync.Mutex
	head uint64
}

// NewJournal creates a journal over store. dispatcher may be nil.
func NewJournal(store domain.EventStore, dispatcher *Dispatcher) *Journal {
	return &Journal{store: store, dispatcher: dispatcher}
}

// Append stores evs as one batch. Delivery to the dispatcher waits until
// the unit carried by ctx, if any, has committed.
func (j *Journal) Append(ctx context.Context, evs ...domain.Event) ([]domain.Event, error) {
	if len(evs) == 0 {
		return nil, nil
	}
	stored, err := j.store.Append(ctx, evs...)
	if err != nil {
		return nil, fmt.Errorf("events: append %s: %w", evs[0].Kind, err)
	}
	domain.AfterCommit(ctx, func() {
		j.advance(stored[len(stored)-1].Seq)
		if j.dispatcher != nil {
			for _, ev := range stored {
				j.dispatcher.Enqueue(ev)
			}
		}
	})
	return stored, nil
}

// Replay feeds every stored event to apply in sequence order and returns
// the number of events replayed.
func (j *Journal) Replay(ctx context.Context, apply func(domain.Event)) (int, error) {
	return j.readFrom(ctx, 0, apply)
}

// CatchUp feeds the events stored after the last one this journal appended
// or replayed. Callers hold the pool lock so no write races the read.
func (j *Journal) CatchUp(ctx context.Context, apply func(domain.Event)) (int, error) {
	return j.readFrom(ctx, j.Head(), apply)
}

// Head returns the highest sequence number applied through this journal.
func (j *Journal) Head() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.head
}

func (j *Journal) readFrom(ctx context.Context, after uint64, apply func(domain.Event)) (int, error) {
	n := 0
	for {
		batch, err := j.store.List(ctx, after, replayPage)
		if err != nil {
			return n, fmt.Errorf("events: read after %d: %w", after, err)
		}
		for _, ev := range batch {
			apply(ev)
			after = ev.Seq
			n++
		}
		j.advance(after)
		if len(batch) < replayPage {
			return n, nil
		}
	}
}

func (j *Journal) advance(seq uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if seq > j.head {
		j.head = seq
	}
}

var _ domain.EventLog = (*Journal)(nil)
