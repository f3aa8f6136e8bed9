// Package server exposes the pool over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/prodepool/internal/domain"
	"github.com/alanyoungcy/prodepool/internal/server/handler"
	"github.com/alanyoungcy/prodepool/internal/server/middleware"
	"github.com/alanyoungcy/prodepool/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// MaxClockSkew bounds signed request timestamps.
	MaxClockSkew time.Duration
	// RateLimit is requests per RateWindow per client. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Pool    *handler.PoolHandler
	Tickets *handler.TicketHandler
	Gateway *handler.GatewayHandler
	Reports *handler.ReportHandler
	Audit   *handler.AuditHandler
}

// Server is the HTTP + WebSocket API of one pool.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes and wraps them in the middleware chain:
// logging, CORS, API key, request signatures, then rate limiting. limiter
// and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/pool", handlers.Pool.GetPool)
	mux.HandleFunc("GET /api/fixtures", handlers.Pool.ListFixtures)
	mux.HandleFunc("GET /api/winners", handlers.Pool.GetWinners)
	mux.HandleFunc("GET /api/payouts/{address}", handlers.Pool.GetPayout)

	mux.HandleFunc("POST /api/tickets", handlers.Tickets.BuyTicket)
	mux.HandleFunc("GET /api/tickets/{id}", handlers.Tickets.GetTicket)
	mux.HandleFunc("POST /api/tickets/{id}/transfer", handlers.Tickets.TransferTicket)
	mux.HandleFunc("POST /api/tickets/{id}/claim", handlers.Tickets.ClaimPrize)

	mux.HandleFunc("GET /api/gateway", handlers.Gateway.GetGateway)
	mux.HandleFunc("GET /api/gateway/requests", handlers.Gateway.ListRequests)
	mux.HandleFunc("POST /api/gateway/requests", handlers.Gateway.SubmitRequest)
	mux.HandleFunc("GET /api/gateway/requests/{id}", handlers.Gateway.GetRequest)
	mux.HandleFunc("POST /api/gateway/requests/{id}/approve", handlers.Gateway.ApproveRequest)
	mux.HandleFunc("POST /api/gateway/requests/{id}/execute", handlers.Gateway.ExecuteRequest)

	mux.HandleFunc("GET /api/reports", handlers.Reports.ListReports)
	mux.HandleFunc("GET /api/reports/{name}", handlers.Reports.GetReport)

	mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Wrapped inside out: the last wrapper runs first.
	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.SignatureAuth(cfg.MaxClockSkew, nil)(h)
	h = middleware.APIKey(cfg.APIKey, "/api/health")(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Logging(logger)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
