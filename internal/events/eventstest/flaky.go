// Package eventstest provides event store doubles for tests.
package eventstest

import (
	"context"
	"errors"
	"sync"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// ErrUnavailable is returned by a FlakyStore append that was told to fail.
var ErrUnavailable = errors.New("eventstest: store unavailable")

// FlakyStore wraps an event store and fails appends on demand.
type FlakyStore struct {
	domain.EventStore

	mu       sync.Mutex
	failNext int
	failOn   map[domain.EventKind]bool
}

// NewFlakyStore wraps inner.
func NewFlakyStore(inner domain.EventStore) *FlakyStore {
	return &FlakyStore{EventStore: inner, failOn: make(map[domain.EventKind]bool)}
}

// FailNext makes the next n appends fail.
func (s *FlakyStore) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// FailOn makes every append containing an event of kind fail until
// cleared with Heal.
func (s *FlakyStore) FailOn(kind domain.EventKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[kind] = true
}

// Heal clears every armed failure.
func (s *FlakyStore) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = 0
	s.failOn = make(map[domain.EventKind]bool)
}

// Append fails as armed, storing nothing, or delegates to the wrapped store.
func (s *FlakyStore) Append(ctx context.Context, evs ...domain.Event) ([]domain.Event, error) {
	s.mu.Lock()
	fail := s.failNext > 0
	if fail {
		s.failNext--
	}
	for _, ev := range evs {
		fail = fail || s.failOn[ev.Kind]
	}
	s.mu.Unlock()

	if fail {
		return nil, ErrUnavailable
	}
	return s.EventStore.Append(ctx, evs...)
}

var _ domain.EventStore = (*FlakyStore)(nil)
