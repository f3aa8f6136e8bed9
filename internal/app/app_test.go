package app

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prodepool/internal/config"
	"github.com/alanyoungcy/prodepool/internal/domain"
	"github.com/alanyoungcy/prodepool/internal/events"
	"github.com/alanyoungcy/prodepool/internal/notify"
	"github.com/alanyoungcy/prodepool/internal/registry"
	"github.com/alanyoungcy/prodepool/internal/server/handler"
)

var player = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	now := time.Now().UTC()
	cfg.Pool.Deadline = now.Add(24 * time.Hour).Format(time.RFC3339)
	cfg.Pool.FirstResultAt = now.Add(48 * time.Hour).Format(time.RFC3339)
	cfg.Pool.FixtureCount = 2
	cfg.Gateway.Approvers = []string{"0x70997970C51812dc3A010C7d01b50e0d17dc79C8"}
	return &cfg
}

func memoryDeps(logger *slog.Logger) *Dependencies {
	return &Dependencies{
		Registry:   registry.NewMemory(),
		EventStore: events.NewMemoryStore(),
		Notifier:   notify.NewNotifier(nil, nil, logger),
		Checks:     map[string]handler.Check{},
	}
}

func TestBuildPool_InMemory(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())
	logger := testLogger()

	rt, err := buildPool(cfg, memoryDeps(logger), logger)
	require.NoError(t, err)
	assert.Nil(t, rt.archiver)
	assert.Equal(t, 2, rt.engine.FixtureCount())
	assert.Equal(t, domain.PhaseBetting, rt.engine.Phase())
	assert.Equal(t, 1, rt.gateway.Threshold())
	assert.Equal(t, common.HexToAddress(cfg.Gateway.Address), rt.engine.Forwarder())
	assert.Equal(t, common.HexToAddress(cfg.Gateway.EngineAddress), rt.service.EngineAddress())
}

func TestBuildPool_RebuildsFromSharedJournal(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	logger := testLogger()
	deps := memoryDeps(logger)

	first, err := buildPool(cfg, deps, logger)
	require.NoError(t, err)
	_, err = first.service.BuyTicket(ctx, player, []domain.Outcome{domain.OutcomeHome, domain.OutcomeAway}, big.NewInt(1e17))
	require.NoError(t, err)

	second, err := buildPool(cfg, deps, logger)
	require.NoError(t, err)
	n, err := second.service.Rebuild(ctx, second.journal)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, second.engine.TicketsSold())
	assert.Equal(t, "100000000000000000", second.engine.Collected().String())

	require.NoError(t, New(cfg, logger).ReplayMode(ctx, second))
}

func TestBuildPool_RejectsBadPoolConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Pool.TicketPrice = "free"
	logger := testLogger()

	_, err := buildPool(cfg, memoryDeps(logger), logger)
	assert.Error(t, err)
}
