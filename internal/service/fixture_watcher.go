package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// Watcher notification kinds.
const (
	NoticeBettingClosed = "betting_closed"
	NoticeFixtureDue    = "fixture_due"
	NoticeScoringReady  = "scoring_ready"
)

// PoolView is the slice of the engine the watcher reads.
type PoolView interface {
	Deadline() time.Time
	Fixtures() []domain.Fixture
	Phase() domain.Phase
}

// Notifier delivers operator notices.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// FixtureWatcher reminds approvers when betting closes, when a fixture is
// due for result entry, and when every result is in so points can be
// calculated. Each notice is sent once per process.
type FixtureWatcher struct {
	pool     string
	view     PoolView
	notifier Notifier
	clock    domain.Clock
	pollDur  time.Duration
	logger   *slog.Logger

	closedSent bool
	readySent  bool
	dueSent    map[int]bool
}

// NewFixtureWatcher creates a FixtureWatcher. pollInterval defaults to one
// minute.
func NewFixtureWatcher(
	pool string,
	view PoolView,
	notifier Notifier,
	clock domain.Clock,
	pollInterval time.Duration,
	logger *slog.Logger,
) *FixtureWatcher {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &FixtureWatcher{
		pool:     pool,
		view:     view,
		notifier: notifier,
		clock:    clock,
		pollDur:  pollInterval,
		logger:   logger.With(slog.String("component", "fixture_watcher")),
		dueSent:  make(map[int]bool),
	}
}

// Run checks once immediately and then on every tick until ctx ends.
func (w *FixtureWatcher) Run(ctx context.Context) error {
	w.Check(ctx)
	ticker := time.NewTicker(w.pollDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check sends any notice that became due since the last call.
func (w *FixtureWatcher) Check(ctx context.Context) {
	now := w.clock.Now()
	phase := w.view.Phase()
	if phase == domain.PhaseCompleted {
		return
	}

	if !w.closedSent && !now.Before(w.view.Deadline()) {
		if w.send(ctx, NoticeBettingClosed,
			fmt.Sprintf("[%s] Betting closed", w.pool),
			fmt.Sprintf("Deadline %s reached, no more tickets are sold.", w.view.Deadline().Format(time.RFC3339)),
		) {
			w.closedSent = true
		}
	}

	fixtures := w.view.Fixtures()
	pending := 0
	for _, f := range fixtures {
		if f.Resolved() {
			continue
		}
		pending++
		if w.dueSent[f.Index] || now.Before(f.DueAt) {
			continue
		}
		if w.send(ctx, NoticeFixtureDue,
			fmt.Sprintf("[%s] Fixture %d ready for its result", w.pool, f.Index),
			fmt.Sprintf("Fixture %d was due at %s. Submit and approve recordFixtureResult.", f.Index, f.DueAt.Format(time.RFC3339)),
		) {
			w.dueSent[f.Index] = true
		}
	}

	if pending == 0 && len(fixtures) > 0 && !w.readySent {
		if w.send(ctx, NoticeScoringReady,
			fmt.Sprintf("[%s] All results recorded", w.pool),
			"Submit and approve calculatePoints to settle the pool.",
		) {
			w.readySent = true
		}
	}
}

func (w *FixtureWatcher) send(ctx context.Context, event, title, message string) bool {
	if err := w.notifier.Notify(ctx, event, title, message); err != nil {
		w.logger.WarnContext(ctx, "watcher notice failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return false
	}
	w.logger.InfoContext(ctx, "watcher notice sent", slog.String("event", event))
	return true
}
