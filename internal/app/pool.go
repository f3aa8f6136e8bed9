package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/prodepool/internal/blob/s3"
	"github.com/alanyoungcy/prodepool/internal/config"
	"github.com/alanyoungcy/prodepool/internal/domain"
	"github.com/alanyoungcy/prodepool/internal/events"
	"github.com/alanyoungcy/prodepool/internal/gateway"
	"github.com/alanyoungcy/prodepool/internal/notify"
	"github.com/alanyoungcy/prodepool/internal/service"
	"github.com/alanyoungcy/prodepool/internal/settlement"
)

// poolRuntime is one pool assembled on top of the dependencies.
type poolRuntime struct {
	journal    *events.Journal
	dispatcher *events.Dispatcher
	engine     *settlement.Engine
	gateway    *gateway.Gateway
	service    *service.PoolService
	// archiver is nil when S3 is disabled.
	archiver *s3blob.ReportArchiver
}

// snapshotFunc adapts a function to s3blob.Snapshotter.
type snapshotFunc func(ctx context.Context, pool string) (domain.Report, error)

func (f snapshotFunc) Snapshot(ctx context.Context, pool string) (domain.Report, error) {
	return f(ctx, pool)
}

// buildPool assembles the journal, its sinks, the engine, the gateway and the
// pool service. Sinks are delivered to in registration order.
func buildPool(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*poolRuntime, error) {
	rt := &poolRuntime{}
	pool := cfg.Pool.Name

	var sinks []domain.EventSink
	if deps.SignalBus != nil {
		var counters events.Counter
		if deps.Counters != nil {
			counters = deps.Counters
		}
		sinks = append(sinks, events.NewBusSink(deps.SignalBus, counters))
	}
	if deps.AuditStore != nil {
		sinks = append(sinks, events.NewAuditSink(deps.AuditStore))
	}
	if deps.AMQP != nil {
		sinks = append(sinks, deps.AMQP)
	}
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		formatter := notify.NewFormatter(pool, settlement.DescribeCall)
		sinks = append(sinks, events.NewNotifySink(deps.Notifier, formatter.Format))
	}
	if deps.BlobWriter != nil && deps.BlobReader != nil {
		// The engine is built below; the archiver only runs once events flow.
		source := snapshotFunc(func(ctx context.Context, name string) (domain.Report, error) {
			return rt.engine.Snapshot(ctx, name)
		})
		var signer s3blob.ReportSigner
		if deps.Signer != nil {
			signer = deps.Signer
		}
		rt.archiver = s3blob.NewReportArchiver(pool, source, signer, deps.BlobWriter, deps.BlobReader, deps.AuditStore, logger)
		sinks = append(sinks, rt.archiver)
	}

	rt.dispatcher = events.NewDispatcher(sinks, dispatcherConfig(cfg), logger)
	rt.journal = events.NewJournal(deps.EventStore, rt.dispatcher)

	deadline, err := cfg.Pool.DeadlineTime()
	if err != nil {
		return nil, fmt.Errorf("app: pool: %w", err)
	}
	schedule, err := cfg.Pool.ScheduleTimes()
	if err != nil {
		return nil, fmt.Errorf("app: pool: %w", err)
	}
	price, err := cfg.Pool.TicketPriceWei()
	if err != nil {
		return nil, fmt.Errorf("app: pool: %w", err)
	}
	approvers, err := cfg.Gateway.ApproverAddresses()
	if err != nil {
		return nil, fmt.Errorf("app: gateway: %w", err)
	}
	gatewayAddr := common.HexToAddress(cfg.Gateway.Address)

	rt.engine, err = settlement.NewEngine(settlement.Config{
		Registry:     deps.Registry,
		Deadline:     deadline,
		Schedule:     schedule,
		TicketPrice:  price,
		PrizePercent: cfg.Pool.PrizePercent,
		Forwarder:    gatewayAddr,
		Clock:        domain.SystemClock{},
		Log:          rt.journal,
		Units:        deps.Units,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	rt.gateway, err = gateway.New(gateway.Config{
		Self:      gatewayAddr,
		Approvers: approvers,
		Threshold: cfg.Gateway.Threshold,
		Clock:     domain.SystemClock{},
		Log:       rt.journal,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	rt.service, err = service.NewPoolService(service.PoolConfig{
		Pool:          pool,
		Engine:        rt.engine,
		Gateway:       rt.gateway,
		Registry:      deps.Registry,
		Journal:       rt.journal,
		EngineAddress: common.HexToAddress(cfg.Gateway.EngineAddress),
		Locks:         deps.LockManager,
		Audit:         deps.AuditStore,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return rt, nil
}
