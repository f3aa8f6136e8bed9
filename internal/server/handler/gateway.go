package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/prodepool/internal/domain"
	"github.com/alanyoungcy/prodepool/internal/service"
	"github.com/alanyoungcy/prodepool/internal/settlement"
)

// Gateway submit actions.
const (
	actionRecordResult    = "record_result"
	actionCalculatePoints = "calculate_points"
)

// GatewayHandler serves the authorization gateway.
type GatewayHandler struct {
	svc    *service.PoolService
	logger *slog.Logger
}

// NewGatewayHandler creates a GatewayHandler.
func NewGatewayHandler(svc *service.PoolService, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{svc: svc, logger: logHandler(logger, "gateway")}
}

// GetGateway returns the approver set. With ?address= it also answers
// whether that address may approve.
// GET /api/gateway
func (h *GatewayHandler) GetGateway(w http.ResponseWriter, r *http.Request) {
	g := h.svc.Gateway()
	approvers := make([]string, 0)
	for _, a := range g.Approvers() {
		approvers = append(approvers, a.Hex())
	}
	body := map[string]any{
		"address":   g.Address().Hex(),
		"target":    h.svc.EngineAddress().Hex(),
		"approvers": approvers,
		"threshold": g.Threshold(),
		"epoch":     g.Epoch(),
	}
	if raw := r.URL.Query().Get("address"); raw != "" {
		if !common.IsHexAddress(raw) {
			writeError(w, http.StatusBadRequest, "invalid address")
			return
		}
		body["is_approver"] = g.IsApprover(common.HexToAddress(raw))
	}
	writeJSON(w, http.StatusOK, body)
}

type requestResponse struct {
	ID          uint64               `json:"id"`
	Status      domain.RequestStatus `json:"status"`
	Target      string               `json:"target"`
	Payload     hexutil.Bytes        `json:"payload"`
	Method      string               `json:"method"`
	Args        map[string]any       `json:"args,omitempty"`
	Submitter   string               `json:"submitter"`
	Epoch       uint64               `json:"epoch"`
	Approvals   []string             `json:"approvals"`
	SubmittedAt time.Time            `json:"submitted_at"`
	ExecutedAt  *time.Time           `json:"executed_at,omitempty"`
}

func toRequestResponse(req domain.Request) requestResponse {
	method, args := settlement.DescribeCall(req.Payload)
	approvals := make([]string, 0, len(req.Approvals))
	for _, a := range req.Approvals {
		approvals = append(approvals, a.Hex())
	}
	return requestResponse{
		ID:          req.ID,
		Status:      req.Status(),
		Target:      req.Target.Hex(),
		Payload:     req.Payload,
		Method:      method,
		Args:        args,
		Submitter:   req.Submitter.Hex(),
		Epoch:       req.Epoch,
		Approvals:   approvals,
		SubmittedAt: req.SubmittedAt,
		ExecutedAt:  req.ExecutedAt,
	}
}

// ListRequests returns requests in id order, optionally filtered by
// ?status=pending|executed.
// GET /api/gateway/requests
func (h *GatewayHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	pg := parsePage(r)
	status := domain.RequestStatus(r.URL.Query().Get("status"))

	out := make([]requestResponse, 0)
	skipped := 0
	for _, req := range h.svc.Gateway().Requests() {
		if status != "" && req.Status() != status {
			continue
		}
		if skipped < pg.offset {
			skipped++
			continue
		}
		if len(out) == pg.limit {
			break
		}
		out = append(out, toRequestResponse(req))
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": out})
}

// GetRequest returns one request.
// GET /api/gateway/requests/{id}
func (h *GatewayHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	req, err := h.svc.Gateway().Request(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req))
}

type submitRequest struct {
	// Payload is raw calldata. When empty, Action selects a call the
	// server encodes.
	Payload hexutil.Bytes  `json:"payload"`
	Action  string         `json:"action"`
	Fixture int            `json:"fixture"`
	Result  domain.Outcome `json:"result"`
}

// SubmitRequest queues an engine call.
// POST /api/gateway/requests
func (h *GatewayHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var (
		id  uint64
		err error
	)
	switch {
	case len(req.Payload) > 0:
		id, err = h.svc.Submit(r.Context(), caller, req.Payload)
	case req.Action == actionRecordResult:
		id, err = h.svc.SubmitRecordResult(r.Context(), caller, req.Fixture, req.Result)
	case req.Action == actionCalculatePoints:
		id, err = h.svc.SubmitCalculatePoints(r.Context(), caller)
	default:
		writeError(w, http.StatusBadRequest, "payload or action (record_result, calculate_points) required")
		return
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	created, err := h.svc.Gateway().Request(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestResponse(created))
}

// ApproveRequest records the caller's approval.
// POST /api/gateway/requests/{id}/approve
func (h *GatewayHandler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	if err := h.svc.Approve(r.Context(), caller, id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	h.writeRequest(w, r, id)
}

// ExecuteRequest forwards an approved request. A rejected forward answers
// with the target's error, or 422 when the target reverted without one.
// POST /api/gateway/requests/{id}/execute
func (h *GatewayHandler) ExecuteRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	if _, err := h.svc.Execute(r.Context(), caller, id); err != nil {
		if domain.KindOf(err) == domain.KindUnknown {
			h.logger.WarnContext(r.Context(), "execution failed",
				slog.Uint64("request_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeDomainError(w, r, h.logger, err)
		return
	}
	h.writeRequest(w, r, id)
}

func (h *GatewayHandler) writeRequest(w http.ResponseWriter, r *http.Request, id uint64) {
	req, err := h.svc.Gateway().Request(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req))
}
