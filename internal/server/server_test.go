package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prodepool/internal/crypto"
	"github.com/alanyoungcy/prodepool/internal/domain"
	"github.com/alanyoungcy/prodepool/internal/events"
	"github.com/alanyoungcy/prodepool/internal/gateway"
	"github.com/alanyoungcy/prodepool/internal/registry"
	"github.com/alanyoungcy/prodepool/internal/server/handler"
	"github.com/alanyoungcy/prodepool/internal/service"
	"github.com/alanyoungcy/prodepool/internal/settlement"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memAudit struct {
	mu   sync.Mutex
	recs []domain.AuditRecord
}

func (m *memAudit) Record(_ context.Context, rec domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.recs) + 1)
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memAudit) Recent(_ context.Context, limit int) ([]domain.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditRecord
	for i := len(m.recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.recs[i])
	}
	return out, nil
}

type testAPI struct {
	h         http.Handler
	audit     *memAudit
	clock     *fakeClock
	player    *crypto.Signer
	approverA *crypto.Signer
	approverB *crypto.Signer
	outsider  *crypto.Signer
}

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return crypto.NewSigner(key, 1)
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	api := &testAPI{
		audit:     &memAudit{},
		clock:     &fakeClock{t: start},
		player:    newSigner(t),
		approverA: newSigner(t),
		approverB: newSigner(t),
		outsider:  newSigner(t),
	}
	gateAddr := common.HexToAddress("0x0000000000000000000000000000000000006a7e")
	journal := events.NewJournal(events.NewMemoryStore(), nil)
	reg := registry.NewMemory()

	engine, err := settlement.NewEngine(settlement.Config{
		Registry:    reg,
		Deadline:    start.Add(time.Hour),
		Schedule:    []time.Time{start.Add(2 * time.Hour)},
		TicketPrice: big.NewInt(1e17),
		Forwarder:   gateAddr,
		Clock:       api.clock,
		Log:         journal,
		Logger:      logger,
	})
	require.NoError(t, err)
	gw, err := gateway.New(gateway.Config{
		Self:      gateAddr,
		Approvers: []common.Address{api.approverA.Address(), api.approverB.Address()},
		Threshold: 2,
		Clock:     api.clock,
		Log:       journal,
		Logger:    logger,
	})
	require.NoError(t, err)
	svc, err := service.NewPoolService(service.PoolConfig{
		Pool:          "worldcup",
		Engine:        engine,
		Gateway:       gw,
		Registry:      reg,
		EngineAddress: common.HexToAddress("0x00000000000000000000000000000000000e4a1e"),
		Audit:         api.audit,
		Logger:        logger,
	})
	require.NoError(t, err)

	srv := NewServer(Config{Port: 0}, Handlers{
		Health: handler.NewHealthHandler("worldcup", map[string]handler.Check{"memory": func(context.Context) error { return nil }}, nil, logger).
			WithGauge("dropped_events", func() uint64 { return 0 }),
		Pool:    handler.NewPoolHandler(svc, logger),
		Tickets: handler.NewTicketHandler(svc, logger),
		Gateway: handler.NewGatewayHandler(svc, logger),
		Reports: handler.NewReportHandler(nil, logger),
		Audit:   handler.NewAuditHandler(api.audit, logger),
	}, nil, nil, logger)
	api.h = srv.Handler()
	return api
}

func (a *testAPI) do(t *testing.T, s *crypto.Signer, method, path, body string) (int, map[string]any) {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if s != nil {
		headers, err := s.RequestHeaders(method, path, body)
		require.NoError(t, err)
		for k, v := range headers {
			r.Header.Set(k, v)
		}
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, r)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (a *testAPI) runRequest(t *testing.T, body string) {
	t.Helper()
	code, out := a.do(t, a.approverA, http.MethodPost, "/api/gateway/requests", body)
	require.Equal(t, http.StatusCreated, code, out)
	id := int(out["id"].(float64))
	base := "/api/gateway/requests/" + itoa(id)

	code, _ = a.do(t, a.approverA, http.MethodPost, base+"/approve", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = a.do(t, a.player, http.MethodPost, base+"/execute", "")
	require.Equal(t, http.StatusBadRequest, code, "quorum not met yet")
	code, _ = a.do(t, a.approverB, http.MethodPost, base+"/approve", "")
	require.Equal(t, http.StatusOK, code)
	code, out = a.do(t, a.player, http.MethodPost, base+"/execute", "")
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "executed", out["status"])
}

func TestAPI_FullPoolLifecycle(t *testing.T) {
	api := newTestAPI(t)

	code, out := api.do(t, nil, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, float64(0), out["runtime"].(map[string]any)["dropped_events"])

	code, _ = api.do(t, nil, http.MethodPost, "/api/tickets", `{"predictions":["home"],"payment_ether":"0.1"}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, out = api.do(t, api.player, http.MethodPost, "/api/tickets", `{"predictions":["home"],"payment":"1"}`)
	assert.Equal(t, http.StatusBadRequest, code, out)

	code, out = api.do(t, api.player, http.MethodPost, "/api/tickets", `{"predictions":["home"],"payment_ether":"0.1"}`)
	require.Equal(t, http.StatusCreated, code, out)
	assert.Equal(t, float64(1), out["id"])

	code, out = api.do(t, nil, http.MethodGet, "/api/tickets/1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, api.player.Address().Hex(), out["owner"])
	assert.Equal(t, []any{"home"}, out["predictions"])

	code, _ = api.do(t, nil, http.MethodGet, "/api/tickets/9", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = api.do(t, nil, http.MethodGet, "/api/winners", "")
	assert.Equal(t, http.StatusConflict, code)

	code, _ = api.do(t, api.outsider, http.MethodPost, "/api/gateway/requests", `{"action":"calculate_points"}`)
	assert.Equal(t, http.StatusForbidden, code)

	api.clock.Advance(3 * time.Hour)
	code, _ = api.do(t, api.player, http.MethodPost, "/api/tickets", `{"predictions":["home"],"payment_ether":"0.1"}`)
	assert.Equal(t, http.StatusConflict, code)

	api.runRequest(t, `{"action":"record_result","fixture":0,"result":"home"}`)
	api.runRequest(t, `{"action":"calculate_points"}`)

	code, out = api.do(t, nil, http.MethodGet, "/api/winners", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{float64(1)}, out["winners"])
	assert.Equal(t, float64(1), out["max_points"])
	assert.Equal(t, "80000000000000000", out["prize_per_winner"].(map[string]any)["wei"])

	code, _ = api.do(t, api.outsider, http.MethodPost, "/api/tickets/1/claim", "")
	assert.Equal(t, http.StatusForbidden, code)
	code, out = api.do(t, api.player, http.MethodPost, "/api/tickets/1/claim", "")
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "0.08", out["amount"].(map[string]any)["ether"])
	code, _ = api.do(t, api.player, http.MethodPost, "/api/tickets/1/claim", "")
	assert.Equal(t, http.StatusConflict, code)

	code, out = api.do(t, nil, http.MethodGet, "/api/payouts/"+api.player.Address().Hex(), "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "80000000000000000", out["payout"].(map[string]any)["wei"])

	code, out = api.do(t, nil, http.MethodGet, "/api/pool", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", out["phase"])
	assert.Equal(t, float64(1), out["tickets_sold"])
	assert.Equal(t, "PTO", out["registry"].(map[string]any)["symbol"])
}

func TestAPI_GatewayRequests(t *testing.T) {
	api := newTestAPI(t)

	code, out := api.do(t, nil, http.MethodGet, "/api/gateway", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), out["threshold"])
	assert.Equal(t, float64(1), out["epoch"])
	assert.NotContains(t, out, "is_approver")

	code, out = api.do(t, nil, http.MethodGet, "/api/gateway?address="+api.approverB.Address().Hex(), "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["is_approver"])
	code, out = api.do(t, nil, http.MethodGet, "/api/gateway?address="+api.outsider.Address().Hex(), "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["is_approver"])
	code, _ = api.do(t, nil, http.MethodGet, "/api/gateway?address=0xnope", "")
	assert.Equal(t, http.StatusBadRequest, code)

	payload := settlement.EncodeCalculatePoints()
	code, out = api.do(t, api.approverA, http.MethodPost, "/api/gateway/requests",
		`{"payload":"0x`+common.Bytes2Hex(payload)+`"}`)
	require.Equal(t, http.StatusCreated, code, out)
	assert.Equal(t, "calculatePoints", out["method"])
	assert.Equal(t, "pending", out["status"])

	code, _ = api.do(t, api.approverA, http.MethodPost, "/api/gateway/requests", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = api.do(t, api.approverA, http.MethodPost, "/api/gateway/requests/0/approve", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = api.do(t, api.approverA, http.MethodPost, "/api/gateway/requests/0/approve", "")
	assert.Equal(t, http.StatusConflict, code)
	code, _ = api.do(t, api.approverB, http.MethodPost, "/api/gateway/requests/0/approve", "")
	require.Equal(t, http.StatusOK, code)

	// Results are still pending, so the engine rejects the forwarded call.
	code, _ = api.do(t, api.approverB, http.MethodPost, "/api/gateway/requests/0/execute", "")
	assert.Equal(t, http.StatusConflict, code)

	code, out = api.do(t, nil, http.MethodGet, "/api/gateway/requests?status=pending", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["requests"], 1)

	code, _ = api.do(t, nil, http.MethodGet, "/api/reports", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPI_TransferIsAudited(t *testing.T) {
	api := newTestAPI(t)

	code, _ := api.do(t, api.player, http.MethodPost, "/api/tickets", `{"predictions":["away"],"payment_ether":"0.1"}`)
	require.Equal(t, http.StatusCreated, code)

	body := `{"to":"` + api.outsider.Address().Hex() + `"}`
	code, _ = api.do(t, api.outsider, http.MethodPost, "/api/tickets/1/transfer", body)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = api.do(t, api.player, http.MethodPost, "/api/tickets/1/transfer", `{"to":"nobody"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, out := api.do(t, api.player, http.MethodPost, "/api/tickets/1/transfer", body)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, api.outsider.Address().Hex(), out["owner"])

	code, out = api.do(t, nil, http.MethodGet, "/api/tickets/1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, api.outsider.Address().Hex(), out["owner"])

	code, out = api.do(t, nil, http.MethodGet, "/api/audit?limit=10", "")
	require.Equal(t, http.StatusOK, code)
	records := out["records"].([]any)
	require.Len(t, records, 1)
	rec := records[0].(map[string]any)
	assert.Equal(t, "ticket.transferred", rec["action"])
	assert.Equal(t, api.player.Address().Hex(), rec["actor"])
}
