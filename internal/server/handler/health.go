package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Check pings one dependency.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	pool     string
	checks   map[string]Check
	counters func(ctx context.Context) (any, error)
	gauges   map[string]func() uint64
	logger   *slog.Logger
}

// NewHealthHandler creates a HealthHandler. counters may be nil.
func NewHealthHandler(pool string, checks map[string]Check, counters func(ctx context.Context) (any, error), logger *slog.Logger) *HealthHandler {
	return &HealthHandler{pool: pool, checks: checks, counters: counters, gauges: map[string]func() uint64{}, logger: logger}
}

// WithGauge adds an in-process reading, such as dropped events or connected
// WebSocket clients, to the health body under "runtime".
func (h *HealthHandler) WithGauge(name string, read func() uint64) *HealthHandler {
	h.gauges[name] = read
	return h
}

// HealthCheck pings every dependency and answers 503 if any fails.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{
		"status":       "ok",
		"pool":         h.pool,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(h.gauges) > 0 {
		runtime := make(map[string]uint64, len(h.gauges))
		for name, read := range h.gauges {
			runtime[name] = read()
		}
		body["runtime"] = runtime
	}
	if h.counters != nil {
		if c, err := h.counters(ctx); err == nil {
			body["events"] = c
		}
	}
	writeJSON(w, status, body)
}
