package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	pollregistry "agora/contexts/governance/poll-registry"
	"agora/contexts/governance/poll-registry/adapters/evm"
	"agora/contexts/governance/poll-registry/adapters/memory"
	postgresadapter "agora/contexts/governance/poll-registry/adapters/postgres"
	sqliteadapter "agora/contexts/governance/poll-registry/adapters/sqlite"
	"agora/contexts/governance/poll-registry/adapters/tracing"
	workerapp "agora/contexts/governance/poll-registry/application/workers"
	"agora/contexts/governance/poll-registry/domain/entities"
	"agora/contexts/governance/poll-registry/domain/services"
	"agora/contexts/governance/poll-registry/ports"
	"agora/internal/platform/config"
	"agora/internal/platform/db"
	"agora/internal/platform/httpserver"
	"agora/internal/platform/messaging"
	"agora/internal/platform/metrics"
	"agora/internal/platform/otel"

	"golang.org/x/sync/errgroup"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

// LedgerStack is one ledger backend together with the worker-side stores that
// live next to it.
type LedgerStack struct {
	Driver      string
	Ledger      ports.Ledger
	Outbox      ports.OutboxRepository
	Dedup       ports.EventDedupStore
	Projections ports.TallyProjectionStore
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	// Migrate creates or upgrades the backing schema. It is a no-op for memory.
	Migrate func(ctx context.Context) error

	closers []func() error
}

func (s *LedgerStack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenLedger connects the ledger selected by cfg.LedgerDriver. The postgres
// schema is not migrated here; callers run Migrate explicitly.
func OpenLedger(ctx context.Context, cfg config.Config, logger *slog.Logger) (*LedgerStack, error) {
	noMigrate := func(context.Context) error { return nil }
	switch cfg.LedgerDriver {
	case config.LedgerDriverMemory, "":
		store := memory.NewStore()
		return &LedgerStack{
			Driver:      config.LedgerDriverMemory,
			Ledger:      store,
			Outbox:      store,
			Dedup:       store,
			Projections: store,
			Clock:       store,
			IDGen:       store,
			Migrate:     noMigrate,
		}, nil
	case config.LedgerDriverPostgres:
		pg, err := db.Connect(ctx, cfg.PostgresDSN, db.DefaultPoolOptions(), logger)
		if err != nil {
			return nil, err
		}
		repo := postgresadapter.NewRepository(pg.DB, logger)
		return &LedgerStack{
			Driver:      config.LedgerDriverPostgres,
			Ledger:      repo,
			Outbox:      repo,
			Dedup:       repo,
			Projections: repo,
			Clock:       repo,
			IDGen:       repo,
			Migrate:     repo.Migrate,
			closers:     []func() error{pg.Close},
		}, nil
	case config.LedgerDriverSQLite:
		store, err := sqliteadapter.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &LedgerStack{
			Driver:      config.LedgerDriverSQLite,
			Ledger:      store,
			Outbox:      store,
			Dedup:       store,
			Projections: store,
			Clock:       store,
			IDGen:       store,
			Migrate:     noMigrate,
			closers:     []func() error{store.Close},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", cfg.LedgerDriver)
	}
}

// PollRules maps configuration onto the registry's enrollment rules.
func PollRules(cfg config.Config) services.PollRules {
	rules := services.DefaultPollRules()
	if cfg.PollMaxChoices > 0 {
		rules.MaxChoices = cfg.PollMaxChoices
	}
	rules.MinChoices = cfg.PollMinChoices
	if cfg.PollChoiceEnrollment != "" {
		rules.Enrollment = entities.Enrollment(cfg.PollChoiceEnrollment)
	}
	rules.OwnerOnlyChoices = cfg.PollOwnerOnlyChoices
	return rules
}

type APIApp struct {
	server   *httpserver.Server
	stack    *LedgerStack
	events   *eventLoop
	shutdown func(context.Context) error
	closers  []func()
	logger   *slog.Logger
}

type WorkerApp struct {
	stack         *LedgerStack
	events        *eventLoop
	metricsServer *http.Server
	shutdown      func(context.Context) error
	logger        *slog.Logger
}

// eventLoop is the relay plus projector pair. The API process runs one
// in-process when the ledger is memory-backed, since no separate worker can
// see that ledger.
type eventLoop struct {
	relay     workerapp.OutboxRelay
	projector workerapp.TallyProjector
	interval  time.Duration
	logger    *slog.Logger
}

func BuildAPI(ctx context.Context) (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")

	shutdown, err := otel.Setup(ctx, otel.Options{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTelEndpoint,
		Enabled:     cfg.OTelEnabled,
	})
	if err != nil {
		return nil, err
	}

	stack, err := OpenLedger(ctx, cfg, logger)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	if err := stack.Migrate(ctx); err != nil {
		_ = stack.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	assets, closeAssets, err := buildAssets(ctx, cfg, logger)
	if err != nil {
		_ = stack.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	module := pollregistry.NewModule(pollregistry.Dependencies{
		Ledger:         tracing.Ledger{Next: stack.Ledger, Driver: stack.Driver},
		Assets:         assets,
		Projections:    stack.Projections,
		Clock:          stack.Clock,
		IDGen:          stack.IDGen,
		Rules:          PollRules(cfg),
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         logger,
	})

	m := metrics.New()
	app := &APIApp{
		server:   httpserver.New(module, m, logger, normalizeAddr(cfg.HTTPPort)),
		stack:    stack,
		shutdown: shutdown,
		closers:  []func(){closeAssets},
		logger:   logger,
	}
	if stack.Driver == config.LedgerDriverMemory {
		bus, err := messaging.NewBus(cfg.KafkaBrokers, logger)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.events = newEventLoop(cfg, stack, metrics.CountingPublisher{Next: bus, Metrics: m}, bus, logger)
	}
	return app, nil
}

func BuildWorker(ctx context.Context) (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if cfg.LedgerDriver == config.LedgerDriverMemory {
		return nil, errors.New("worker requires a shared ledger; set LEDGER_DRIVER to postgres or sqlite")
	}

	shutdown, err := otel.Setup(ctx, otel.Options{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTelEndpoint,
		Enabled:     cfg.OTelEnabled,
	})
	if err != nil {
		return nil, err
	}

	stack, err := OpenLedger(ctx, cfg, logger)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	if err := stack.Migrate(ctx); err != nil {
		_ = stack.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	bus, err := messaging.NewBus(cfg.KafkaBrokers, logger)
	if err != nil {
		_ = stack.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	m := metrics.New()
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	return &WorkerApp{
		stack:  stack,
		events: newEventLoop(cfg, stack, metrics.CountingPublisher{Next: bus, Metrics: m}, bus, logger),
		metricsServer: &http.Server{
			Addr:              normalizeAddr(cfg.WorkerMetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		shutdown: shutdown,
		logger:   logger,
	}, nil
}

func newEventLoop(
	cfg config.Config,
	stack *LedgerStack,
	publisher ports.EventPublisher,
	subscriber ports.EventSubscriber,
	logger *slog.Logger,
) *eventLoop {
	return &eventLoop{
		relay: workerapp.OutboxRelay{
			Outbox:    stack.Outbox,
			Publisher: publisher,
			Clock:     stack.Clock,
			BatchSize: cfg.OutboxRelayBatchSize,
			Logger:    logger,
		},
		projector: workerapp.TallyProjector{
			Subscriber:    subscriber,
			Dedup:         stack.Dedup,
			Projections:   stack.Projections,
			Clock:         stack.Clock,
			ConsumerGroup: "poll-registry-tally-projector-cg",
			DedupTTL:      7 * 24 * time.Hour,
			Disabled:      !cfg.EnableTallyProjector,
			Logger:        logger,
		},
		interval: cfg.OutboxRelayInterval,
		logger:   logger,
	}
}

// run starts the projector subscriptions, then relays the outbox on every
// tick until ctx is done. Relay failures are retried on the next tick.
func (l *eventLoop) run(ctx context.Context) error {
	if err := l.projector.Start(ctx); err != nil {
		return err
	}
	interval := l.interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("event loop started",
		"event", "bootstrap_event_loop_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", interval.String(),
	)
	for {
		if err := l.relay.RunOnce(ctx); err != nil && ctx.Err() == nil {
			l.logger.Warn("outbox relay cycle failed; retrying next tick",
				"event", "bootstrap_relay_cycle_failed",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"error", err.Error(),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *APIApp) Run(ctx context.Context) error {
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"ledger_driver", a.stack.Driver,
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	if a.events != nil {
		g.Go(func() error {
			return a.events.run(gctx)
		})
	}
	return g.Wait()
}

func (a *APIApp) Close() error {
	for _, closeFn := range a.closers {
		closeFn()
	}
	var errs []error
	if a.stack != nil {
		errs = append(errs, a.stack.Close())
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(context.Background()))
	}
	return errors.Join(errs...)
}

func (w *WorkerApp) Run(ctx context.Context) error {
	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"ledger_driver", w.stack.Driver,
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.events.run(gctx)
	})
	g.Go(func() error {
		if err := w.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return w.metricsServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (w *WorkerApp) Close() error {
	var errs []error
	if w.stack != nil {
		errs = append(errs, w.stack.Close())
	}
	if w.shutdown != nil {
		errs = append(errs, w.shutdown(context.Background()))
	}
	return errors.Join(errs...)
}

// buildAssets dials the EVM gateway when an RPC URL is configured and
// otherwise falls back to an empty in-process asset book.
func buildAssets(ctx context.Context, cfg config.Config, logger *slog.Logger) (ports.AssetGateway, func(), error) {
	if strings.TrimSpace(cfg.EVMRPCURL) == "" {
		logger.Warn("no EVM RPC configured; weighted polls use an in-process asset book",
			"event", "bootstrap_assets_in_memory",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
		return memory.NewAssetBook(""), func() {}, nil
	}
	gateway, err := evm.Dial(ctx, cfg.EVMRPCURL, evm.Config{
		EscrowKeyHex: cfg.EVMEscrowPrivateKey,
		UnitDecimals: cfg.EVMUnitDecimals,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return gateway, gateway.Close, nil
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
