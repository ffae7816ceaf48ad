package bootstrap

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	confidentialvoting "concord/contexts/governance/confidential-voting"
	"concord/contexts/governance/confidential-voting/adapters/cipher"
	"concord/contexts/governance/confidential-voting/adapters/memory"
	"concord/contexts/governance/confidential-voting/adapters/metrics"
	postgresadapter "concord/contexts/governance/confidential-voting/adapters/postgres"
	"concord/internal/platform/config"
	"concord/internal/platform/db"
	"concord/internal/platform/httpserver"
	"concord/internal/platform/messaging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server   *httpserver.Server
	worker   *WorkerApp
	database *db.Database
	logger   *slog.Logger
}

type WorkerApp struct {
	module       confidentialvoting.Module
	database     *db.Database
	runOracle    bool
	pollInterval time.Duration
	logger       *slog.Logger
}

type runtime struct {
	module   confidentialvoting.Module
	database *db.Database
	gatherer prometheus.Gatherer
}

// BuildAPI builds the HTTP process. With the embedded oracle it also runs the
// background loops, since oracle requests and the event bus live in this
// process.
func BuildAPI(cfg config.Config, logger *slog.Logger) (*APIApp, error) {
	logger = logger.With("service", cfg.ServiceName, "process", "api")
	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		return nil, err
	}

	app := &APIApp{
		server:   httpserver.New(rt.module, rt.gatherer, logger, normalizeAddr(cfg.HTTPPort)),
		database: rt.database,
		logger:   logger,
	}
	if cfg.EmbeddedOracle || cfg.Storage == config.StorageMemory {
		app.worker = newWorker(cfg, rt, logger)
	}
	return app, nil
}

// BuildWorker builds a process that relays the outbox and sweeps timed-out
// reveals against shared storage.
func BuildWorker(cfg config.Config, logger *slog.Logger) (*WorkerApp, error) {
	logger = logger.With("service", cfg.ServiceName, "process", "worker")
	if cfg.Storage == config.StorageMemory {
		return nil, fmt.Errorf("worker needs shared storage, got %q", cfg.Storage)
	}
	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		return nil, err
	}
	worker := newWorker(cfg, rt, logger)
	worker.runOracle = false
	return worker, nil
}

func buildRuntime(cfg config.Config, logger *slog.Logger) (*runtime, error) {
	secretKey, err := hex.DecodeString(strings.TrimSpace(cfg.ElGamalSecretKey))
	if err != nil {
		return nil, fmt.Errorf("decode elgamal secret key: %w", err)
	}
	backend, err := cipher.New(cfg.CipherBackend, secretKey)
	if err != nil {
		return nil, err
	}

	bus := messaging.NewBus(cfg.KafkaBrokers, logger)

	deps := confidentialvoting.Dependencies{
		Publisher:  bus,
		Subscriber: bus,
		Cipher:     backend,
		Settings: confidentialvoting.Settings{
			Administrators:      cfg.Administrators,
			OracleIdentity:      cfg.OracleIdentity,
			SweeperIdentity:     cfg.SweeperIdentity,
			VotingPeriod:        cfg.VotingPeriod,
			RevealTimeout:       cfg.RevealTimeout,
			IdempotencyTTL:      cfg.IdempotencyTTL,
			DefaultMemberWeight: cfg.DefaultMemberWeight,
			AutoRegister:        cfg.AutoRegister,
			OutboxBatchSize:     cfg.OutboxBatchSize,
			OracleDelay:         cfg.OracleDelay,
			OracleRedeliver:     cfg.OracleRedeliver,
			ExternalOracle:      !cfg.EmbeddedOracle,
		},
		Logger: logger,
	}

	rt := &runtime{}
	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		deps.Metrics = metrics.NewPrometheus(registry)
		rt.gatherer = registry
	}
	switch cfg.Storage {
	case config.StorageMemory:
		store := memory.NewStore()
		deps.Repository = store
		deps.Idempotency = store
		deps.Outbox = store
		deps.Dedup = store
		deps.Clock = store
		deps.IDGen = store
	default:
		database, err := openDatabase(cfg)
		if err != nil {
			return nil, err
		}
		if err := postgresadapter.Migrate(database.DB); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("migrate voting schema: %w", err)
		}
		repo := postgresadapter.NewRepository(database.DB, logger)
		deps.Repository = repo
		deps.Idempotency = repo
		deps.Outbox = repo
		deps.Dedup = repo
		deps.Clock = postgresadapter.SystemClock{}
		deps.IDGen = postgresadapter.UUIDGenerator{}
		rt.database = database
	}

	rt.module = confidentialvoting.NewModule(deps)
	logger.Info("voting runtime built",
		"event", "bootstrap_runtime_built",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"storage", cfg.Storage,
		"cipher", backend.Name(),
	)
	return rt, nil
}

func openDatabase(cfg config.Config) (*db.Database, error) {
	if cfg.Storage == config.StoragePostgres {
		return db.ConnectPostgres(cfg.PostgresDSN)
	}
	return db.OpenSQLite(cfg.SQLitePath)
}

func newWorker(cfg config.Config, rt *runtime, logger *slog.Logger) *WorkerApp {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &WorkerApp{
		module:       rt.module,
		database:     rt.database,
		runOracle:    rt.module.Oracle != nil,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run serves HTTP until ctx is done. The background loop, when present,
// stops with it.
func (a *APIApp) Run(ctx context.Context) error {
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"background_worker", a.worker != nil,
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerErr := make(chan error, 1)
	if a.worker != nil {
		go func() {
			workerErr <- a.worker.Run(ctx)
		}()
	}
	err := a.server.Start(ctx)
	cancel()
	if a.worker != nil {
		if werr := <-workerErr; err == nil {
			err = werr
		}
	}
	return err
}

func (a *APIApp) Close() error {
	return a.database.Close()
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if w.runOracle {
		if err := w.module.RevealConsumer.Start(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
		"oracle", w.runOracle,
	)

	for {
		w.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs one cycle. Failures are logged and retried on the next
// cycle.
func (w *WorkerApp) RunOnce(ctx context.Context) {
	if _, err := w.module.TimeoutSweeper.RunOnce(ctx); err != nil {
		w.logCycleError("timeout_sweeper", err)
	}
	if w.runOracle {
		if _, err := w.module.Oracle.RunOnce(ctx); err != nil {
			w.logCycleError("oracle", err)
		}
	}
	if _, err := w.module.OutboxRelay.RunOnce(ctx); err != nil {
		w.logCycleError("outbox_relay", err)
	}
}

func (w *WorkerApp) Close() error {
	return w.database.Close()
}

func (w *WorkerApp) logCycleError(loop string, err error) {
	w.logger.Warn("worker cycle failed",
		"event", "bootstrap_worker_cycle_failed",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"loop", loop,
		"error", err.Error(),
	)
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.Contains(value, ":") {
		return value
	}
	return ":" + value
}
