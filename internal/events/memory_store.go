// Package events journals committed pool events and fans them out to
// downstream sinks (Redis, AMQP, notifications, report archive, audit log).
package events

import (
	"context"
	"sync"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// MemoryStore is an in-process domain.EventStore. Sequence numbers start
// at 1.
type MemoryStore struct {
	mu     sync.RWMutex
	events []domain.Event
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append assigns the next sequence numbers and stores evs. Inside a unit
// the batch is withdrawn again if the unit fails, provided nothing was
// appended after it.
func (s *MemoryStore) Append(ctx context.Context, evs ...domain.Event) ([]domain.Event, error) {
	if len(evs) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	first := uint64(len(s.events)) + 1
	out := make([]domain.Event, len(evs))
	for i, ev := range evs {
		ev.Seq = first + uint64(i)
		out[i] = ev
	}
	s.events = append(s.events, out...)
	last := out[len(out)-1].Seq

	domain.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if uint64(len(s.events)) == last {
			s.events = s.events[:first-1]
		}
	})
	return append([]domain.Event(nil), out...), nil
}

// List returns up to limit events with Seq greater than afterSeq. A limit
// of zero or less returns everything.
func (s *MemoryStore) List(_ context.Context, afterSeq uint64, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if afterSeq >= uint64(len(s.events)) {
		return nil, nil
	}
	out := s.events[afterSeq:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]domain.Event(nil), out...), nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

var _ domain.EventStore = (*MemoryStore)(nil)
