package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/prodepool/internal/domain"
	"github.com/alanyoungcy/prodepool/internal/prediction"
	"github.com/alanyoungcy/prodepool/internal/service"
)

// TicketHandler serves ticket purchase, lookup, transfer and claims.
type TicketHandler struct {
	svc    *service.PoolService
	logger *slog.Logger
}

// NewTicketHandler creates a TicketHandler.
func NewTicketHandler(svc *service.PoolService, logger *slog.Logger) *TicketHandler {
	return &TicketHandler{svc: svc, logger: logHandler(logger, "tickets")}
}

type buyRequest struct {
	// Predictions holds one outcome per fixture: "home", "tie" or "away".
	Predictions []domain.Outcome `json:"predictions"`
	// Payment is in wei; PaymentEther is accepted when Payment is empty.
	Payment      string `json:"payment"`
	PaymentEther string `json:"payment_ether"`
}

func (b buyRequest) payment() (*big.Int, error) {
	if b.Payment != "" {
		wei, ok := new(big.Int).SetString(b.Payment, 10)
		if !ok {
			return nil, domain.ErrInvalidPrice
		}
		return wei, nil
	}
	if b.PaymentEther != "" {
		wei, err := domain.ParseEther(b.PaymentEther)
		if err != nil {
			return nil, domain.ErrInvalidPrice
		}
		return wei, nil
	}
	return nil, domain.ErrInvalidPrice
}

// BuyTicket buys a ticket for the signed caller.
// POST /api/tickets
func (h *TicketHandler) BuyTicket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	payment, err := req.payment()
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	id, err := h.svc.BuyTicket(r.Context(), caller, req.Predictions, payment)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "owner": caller.Hex()})
}

type ticketResponse struct {
	ID          uint64           `json:"id"`
	Owner       string           `json:"owner"`
	Prediction  string           `json:"prediction"`
	Predictions []domain.Outcome `json:"predictions"`
	Points      int              `json:"points"`
	Winner      bool             `json:"winner"`
	Claimed     bool             `json:"claimed"`
}

// GetTicket returns a ticket with its settlement state.
// GET /api/tickets/{id}
func (h *TicketHandler) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid ticket id")
		return
	}
	t, err := h.svc.Engine().Ticket(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ticketResponse{
		ID:          t.ID,
		Owner:       t.Owner.Hex(),
		Prediction:  t.Prediction.Dec(),
		Predictions: prediction.DecodeAll(t.Prediction, h.svc.Engine().FixtureCount()),
		Points:      t.Points,
		Winner:      t.Winner,
		Claimed:     t.Claimed,
	})
}

// TransferTicket hands a ticket from the signed caller to another address.
// POST /api/tickets/{id}/transfer
func (h *TicketHandler) TransferTicket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid ticket id")
		return
	}
	var req struct {
		To string `json:"to"`
	}
	if err := decodeBody(r, &req); err != nil || !common.IsHexAddress(req.To) {
		writeError(w, http.StatusBadRequest, "body must be {\"to\": <address>}")
		return
	}
	to := common.HexToAddress(req.To)
	if err := h.svc.TransferTicket(r.Context(), caller, to, id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "owner": to.Hex()})
}

// ClaimPrize credits the prize of a winning ticket to the signed caller.
// POST /api/tickets/{id}/claim
func (h *TicketHandler) ClaimPrize(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid ticket id")
		return
	}
	paid, err := h.svc.ClaimPrize(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"amount": newAmount(paid),
		"payout": newAmount(h.svc.Engine().PayoutOf(caller)),
	})
}
