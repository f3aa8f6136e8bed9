package handler

import (
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/prodepool/internal/domain"
	"github.com/alanyoungcy/prodepool/internal/service"
)

// amount renders wei alongside its ether value.
type amount struct {
	Wei   string `json:"wei"`
	Ether string `json:"ether"`
}

func newAmount(wei *big.Int) amount {
	if wei == nil {
		wei = new(big.Int)
	}
	return amount{Wei: wei.String(), Ether: domain.FormatEther(wei)}
}

// PoolHandler serves pool-wide read endpoints.
type PoolHandler struct {
	svc    *service.PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(svc *service.PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{svc: svc, logger: logHandler(logger, "pool")}
}

type poolResponse struct {
	Pool             string       `json:"pool"`
	Phase            domain.Phase `json:"phase"`
	Deadline         time.Time    `json:"deadline"`
	TicketPrice      amount       `json:"ticket_price"`
	Collected        amount       `json:"collected"`
	Prize            amount       `json:"prize"`
	PaidOut          amount       `json:"paid_out"`
	FixtureCount     int          `json:"fixture_count"`
	ResolvedFixtures int          `json:"resolved_fixtures"`
	TicketsSold      int          `json:"tickets_sold"`
	Forwarder        string       `json:"forwarder"`
	Registry         registryMeta `json:"registry"`
}

type registryMeta struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// GetPool returns the pool summary.
// GET /api/pool
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	e := h.svc.Engine()
	writeJSON(w, http.StatusOK, poolResponse{
		Pool:             h.svc.Pool(),
		Phase:            e.Phase(),
		Deadline:         e.Deadline(),
		TicketPrice:      newAmount(e.TicketPrice()),
		Collected:        newAmount(e.Collected()),
		Prize:            newAmount(e.Prize()),
		PaidOut:          newAmount(e.PaidOut()),
		FixtureCount:     e.FixtureCount(),
		ResolvedFixtures: e.ResolvedFixtures(),
		TicketsSold:      e.TicketsSold(),
		Forwarder:        e.Forwarder().Hex(),
		Registry:         registryMeta{Name: domain.RegistryName, Symbol: domain.RegistrySymbol},
	})
}

// ListFixtures returns the slate with recorded results.
// GET /api/fixtures
func (h *PoolHandler) ListFixtures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"fixtures": h.svc.Engine().Fixtures()})
}

// GetWinners returns the winning tickets and their share.
// GET /api/winners
func (h *PoolHandler) GetWinners(w http.ResponseWriter, r *http.Request) {
	e := h.svc.Engine()
	winners, err := e.Winners()
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	share, err := e.PrizePerWinner()
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	maxPoints, err := e.MaxPoints()
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"winners":          winners,
		"max_points":       maxPoints,
		"prize_per_winner": newAmount(share),
	})
}

// GetPayout returns the prizes credited to an address.
// GET /api/payouts/{address}
func (h *PoolHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	addr := common.HexToAddress(raw)
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr.Hex(),
		"payout":  newAmount(h.svc.Engine().PayoutOf(addr)),
	})
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
