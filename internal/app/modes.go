package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/prodepool/internal/domain"
	"github.com/alanyoungcy/prodepool/internal/server"
	"github.com/alanyoungcy/prodepool/internal/server/handler"
	"github.com/alanyoungcy/prodepool/internal/server/ws"
	"github.com/alanyoungcy/prodepool/internal/service"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServerMode serves the HTTP and WebSocket API and runs the background
// workers: event dispatch, the live event hub and the fixture watcher.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, rt *poolRuntime) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	// The dispatcher drains queued events after ctx ends.
	g.Go(func() error {
		return rt.dispatcher.Run(ctx)
	})

	if deps.Notifier.Enabled() {
		watcher := service.NewFixtureWatcher(
			a.cfg.Pool.Name,
			rt.engine,
			deps.Notifier,
			domain.SystemClock{},
			a.cfg.Notify.WatchInterval.Duration,
			a.logger,
		)
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}

	a.announce(ctx, deps, rt)

	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "server.enabled is false; running background workers only")
		return g.Wait()
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Pool:           a.cfg.Pool.Name,
			StartedAt:      time.Now().UTC(),
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "redis disabled; /ws live events are unavailable")
	}

	var reports handler.ReportStore
	if rt.archiver != nil {
		reports = rt.archiver
	}

	health := handler.NewHealthHandler(a.cfg.Pool.Name, deps.Checks, deps.counterSnapshot(), a.logger).
		WithGauge("dropped_events", rt.dispatcher.Dropped)
	if hub != nil {
		health.WithGauge("ws_clients", func() uint64 { return uint64(hub.Clients()) })
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		MaxClockSkew: a.cfg.Server.MaxClockSkew.Duration,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:  health,
		Pool:    handler.NewPoolHandler(rt.service, a.logger),
		Tickets: handler.NewTicketHandler(rt.service, a.logger),
		Gateway: handler.NewGatewayHandler(rt.service, a.logger),
		Reports: handler.NewReportHandler(reports, a.logger),
		Audit:   handler.NewAuditHandler(deps.AuditStore, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// announce tells operators that the node is up. Lifecycle notices bypass the
// event filter.
func (a *App) announce(ctx context.Context, deps *Dependencies, rt *poolRuntime) {
	if !deps.Notifier.Enabled() {
		return
	}
	e := rt.engine
	msg := fmt.Sprintf("Pool %s is %s with %d tickets and %d/%d results recorded.",
		a.cfg.Pool.Name, e.Phase(), e.TicketsSold(), e.ResolvedFixtures(), e.FixtureCount())
	if err := deps.Notifier.NotifyAll(ctx, "Pool node started", msg); err != nil {
		a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
	}
}

// ReplayMode logs the state rebuilt from the journal and exits. Run has
// already replayed the journal by the time it is called.
func (a *App) ReplayMode(ctx context.Context, rt *poolRuntime) error {
	e := rt.engine
	attrs := []slog.Attr{
		slog.String("pool", a.cfg.Pool.Name),
		slog.String("phase", string(e.Phase())),
		slog.Int("tickets", e.TicketsSold()),
		slog.Int("resolved_fixtures", e.ResolvedFixtures()),
		slog.Int("fixtures", e.FixtureCount()),
		slog.String("collected", e.Collected().String()),
		slog.String("paid_out", e.PaidOut().String()),
		slog.Int("gateway_requests", len(rt.gateway.Requests())),
	}
	if winners, err := e.Winners(); err == nil {
		share, _ := e.PrizePerWinner()
		attrs = append(attrs,
			slog.Int("winners", len(winners)),
			slog.String("prize_per_winner", share.String()),
		)
	}
	a.logger.LogAttrs(ctx, slog.LevelInfo, "replay complete", attrs...)

	if rt.archiver != nil && e.Phase() == domain.PhaseCompleted {
		path, err := rt.archiver.Archive(ctx, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("replay: archive report: %w", err)
		}
		a.logger.InfoContext(ctx, "settlement report archived", slog.String("path", path))
	}
	return nil
}
