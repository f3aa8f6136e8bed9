package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// DispatcherConfig tunes delivery to sinks.
type DispatcherConfig struct {
	// Buffer is the capacity of the pending-event queue.
	Buffer int
	// Retries is how many extra attempts a failing sink gets per event.
	Retries int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	// Timeout bounds a single sink call.
	Timeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = 200 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Dispatcher fans committed events out to sinks from a single background
// goroutine, preserving journal order per sink. Delivery is at-least-once
// while the process is up; events still queued at shutdown are drained
// until the drain context expires.
type Dispatcher struct {
	sinks  []domain.EventSink
	queue  chan domain.Event
	cfg    DispatcherConfig
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Uint64
}

// NewDispatcher creates a dispatcher for sinks. Call Run to start delivery.
func NewDispatcher(sinks []domain.EventSink, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		sinks:  sinks,
		queue:  make(chan domain.Event, cfg.Buffer),
		cfg:    cfg,
		logger: logger.With(slog.String("component", "dispatcher")),
		done:   make(chan struct{}),
	}
}

// Enqueue schedules ev for delivery. It never blocks the committing
// operation: when the queue is full the event is dropped and logged, since
// it is already durable in the journal.
func (d *Dispatcher) Enqueue(ev domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || len(d.sinks) == 0 {
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn("dispatch queue full, event dropped",
			slog.String("kind", string(ev.Kind)),
			slog.Uint64("seq", ev.Seq),
		)
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// left with a bounded grace period.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	d.logger.Info("dispatcher starting", slog.Int("sinks", len(d.sinks)))

	for {
		select {
		case <-ctx.Done():
			d.close()
			drainCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
			defer cancel()
			for ev := range d.queue {
				d.deliver(drainCtx, ev)
			}
			d.logger.Info("dispatcher stopped")
			return nil
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev domain.Event) {
	for _, s := range d.sinks {
		if err := d.deliverOne(ctx, s, ev); err != nil {
			d.logger.ErrorContext(ctx, "sink delivery failed",
				slog.String("sink", s.Name()),
				slog.String("kind", string(ev.Kind)),
				slog.Uint64("seq", ev.Seq),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (d *Dispatcher) deliverOne(ctx context.Context, s domain.EventSink, ev domain.Event) error {
	backoff := d.cfg.Backoff
	var err error
	for attempt := 0; attempt <= d.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		err = s.Handle(callCtx, ev)
		cancel()
		if err == nil {
			return nil
		}
		d.logger.WarnContext(ctx, "sink attempt failed",
			slog.String("sink", s.Name()),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return err
}
