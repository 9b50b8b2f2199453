package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/audiomesh/chainmirror/internal/core/config"
	"github.com/audiomesh/chainmirror/internal/indexing/aggregate"
	"github.com/audiomesh/chainmirror/internal/indexing/applier"
	"github.com/audiomesh/chainmirror/internal/indexing/health"
	"github.com/audiomesh/chainmirror/internal/indexing/indexer"
	"github.com/audiomesh/chainmirror/internal/indexing/reconcile"
	"github.com/audiomesh/chainmirror/internal/indexing/revert"
	"github.com/audiomesh/chainmirror/internal/infra/chain/evm"
	redisclient "github.com/audiomesh/chainmirror/internal/infra/redis"
	"github.com/audiomesh/chainmirror/internal/infra/storage/postgres"
)

// Mirror is the main application struct that wires every component and
// manages their lifecycle.
type Mirror struct {
	cfg          *config.AppConfig
	runner       *Runner
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger
}

// NewMirror creates a Mirror with all dependencies initialized: database
// (migrated), Redis, chain client, engines, runner and health server.
func NewMirror(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*Mirror, error) {
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate db: %w", err)
	}

	redisClient, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}

	addresses, err := cfg.Chain.AddressBook()
	if err != nil {
		return nil, err
	}

	store := postgres.NewStore(db)
	chainClient := evm.NewClient(cfg.Chain.RPC)

	idx, err := indexer.New(indexer.Config{
		Store:     store,
		Chain:     chainClient,
		Registry:  applier.DefaultRegistry(log),
		Addresses: addresses,
		Cache:     redisClient,
		Publisher: redisClient,
		Log:       log,
	})
	if err != nil {
		return nil, err
	}

	runner := NewRunner(RunnerConfig{
		Chain:      cfg.Chain,
		Store:      store,
		Client:     chainClient,
		Reconciler: reconcile.New(chainClient, store, log),
		Reverter:   revert.NewEngine(store, log),
		Indexer:    idx,
		Maintainer: aggregate.NewMaintainer(
			postgres.NewCheckpointRepo(db),
			postgres.NewAggregateUserRepo(db),
			log,
		),
		Locks:     redisClient,
		Publisher: redisClient,
		Log:       log,
	})

	monitor := health.NewMonitor(redisClient, db, redisClient)
	healthServer := health.NewServer(monitor, cfg.Server.Port)

	return &Mirror{
		cfg:          cfg,
		runner:       runner,
		healthServer: healthServer,
		db:           db,
		redisClient:  redisClient,
		log:          log,
	}, nil
}

// Run starts the health server and the cycle loops, blocking until the
// context is cancelled or a fatal error stops the runner.
func (m *Mirror) Run(ctx context.Context) error {
	go func() {
		if err := m.healthServer.Start(); err != nil {
			m.log.Error("health server stopped", "error", err)
		}
	}()

	return m.runner.Start(ctx)
}

// Stop shuts down the HTTP server and closes the backing connections.
func (m *Mirror) Stop(ctx context.Context) {
	if err := m.healthServer.Stop(ctx); err != nil {
		m.log.Warn("failed to stop health server", "error", err)
	}
	if err := m.redisClient.Close(); err != nil {
		m.log.Warn("failed to close redis", "error", err)
	}
	if err := m.db.Close(); err != nil {
		m.log.Warn("failed to close db", "error", err)
	}
}
