package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// AuditHandler serves the pool's audit trail. store may be nil when the
// pool runs without a database.
type AuditHandler struct {
	store  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logHandler(logger, "audit")}
}

type auditResponse struct {
	ID     int64          `json:"id"`
	Action string         `json:"action"`
	Actor  string         `json:"actor,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
	At     time.Time      `json:"at"`
}

// ListAudit returns the most recent audit records, newest first.
// GET /api/audit?limit=N
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "audit trail is not configured")
		return
	}
	recs, err := h.store.Recent(r.Context(), parsePage(r).limit)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out := make([]auditResponse, 0, len(recs))
	for _, rec := range recs {
		item := auditResponse{ID: rec.ID, Action: rec.Action, Detail: rec.Detail, At: rec.At}
		if rec.Actor != (common.Address{}) {
			item.Actor = rec.Actor.Hex()
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": out})
}
