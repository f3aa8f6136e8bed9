package domain

import (
	"context"
	"time"
)

// RateLimiter admits at most limit calls per key within a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager serializes pool mutations across processes. Acquire fails with
// ErrLockHeld while another holder owns key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one event frame read back from a stream, with the
// stream's entry id.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries committed event frames. Publish and Subscribe deliver
// them live; the stream keeps a bounded history that late subscribers read
// with StreamRead, starting after lastID ("0" for the oldest entry).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
