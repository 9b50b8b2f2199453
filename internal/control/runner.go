// Package control schedules and coordinates the mirror's two cycles: the
// index cycle (reconcile, revert, apply) and the aggregate cycle. Cycles
// are serialized across instances with Redis locks; a loser skips its
// tick rather than waiting.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/audiomesh/chainmirror/internal/core/config"
	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/indexing/aggregate"
	"github.com/audiomesh/chainmirror/internal/indexing/indexer"
	"github.com/audiomesh/chainmirror/internal/indexing/metrics"
	"github.com/audiomesh/chainmirror/internal/indexing/reconcile"
	"github.com/audiomesh/chainmirror/internal/indexing/revert"
	"github.com/audiomesh/chainmirror/internal/infra/chain"
	"github.com/audiomesh/chainmirror/internal/infra/storage"
)

// Lock names shared by every mirror instance.
const (
	LockIndex     = "index"
	LockAggregate = "aggregate"
)

// Locker is the distributed lock surface the runner needs.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error
}

// Publisher is the checkpoint surface health checks read.
type Publisher interface {
	SetLatestBlock(ctx context.Context, number int64, hash string) error
	PublishIndexed(ctx context.Context, number int64, hash string) error
}

// Runner drives both cycles against one chain.
type Runner struct {
	cfg        config.ChainConfig
	store      storage.Store
	chain      chain.Client
	reconciler *reconcile.Reconciler
	reverter   *revert.Engine
	indexer    *indexer.Indexer
	maintainer *aggregate.Maintainer
	locks      Locker
	publisher  Publisher
	log        *slog.Logger
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Chain      config.ChainConfig
	Store      storage.Store
	Client     chain.Client
	Reconciler *reconcile.Reconciler
	Reverter   *revert.Engine
	Indexer    *indexer.Indexer
	Maintainer *aggregate.Maintainer
	Locks      Locker
	Publisher  Publisher
	Log        *slog.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		cfg:        cfg.Chain,
		store:      cfg.Store,
		chain:      cfg.Client,
		reconciler: cfg.Reconciler,
		reverter:   cfg.Reverter,
		indexer:    cfg.Indexer,
		maintainer: cfg.Maintainer,
		locks:      cfg.Locks,
		publisher:  cfg.Publisher,
		log:        cfg.Log,
	}
}

// Start runs both cycle loops until the context is cancelled. A fatal
// invariant violation stops the loops and is returned; transient errors
// are logged and retried on the next tick.
func (r *Runner) Start(ctx context.Context) error {
	indexTicker := time.NewTicker(r.cfg.ScanInterval)
	defer indexTicker.Stop()
	aggTicker := time.NewTicker(r.cfg.AggregateInterval)
	defer aggTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-indexTicker.C:
			if err := r.RunIndexCycle(ctx); err != nil {
				if isFatal(err) {
					return fmt.Errorf("index cycle: %w", err)
				}
				r.log.Error("index cycle failed", "error", err)
			}
		case <-aggTicker.C:
			if err := r.RunAggregateCycle(ctx); err != nil {
				r.log.Error("aggregate cycle failed", "error", err)
			}
		}
	}
}

// isFatal reports whether an error means local state is corrupt or a
// reorg exceeds the recoverable bound. Retrying cannot help; an operator
// has to look.
func isFatal(err error) bool {
	return errors.Is(err, storage.ErrNotOneCurrentBlock) ||
		errors.Is(err, reconcile.ErrTooManyBlocksToRevert)
}

// RunIndexCycle performs one pass: publish the tip, take the lock, seed
// or load local state, plan against the window target, revert then index.
func (r *Runner) RunIndexCycle(ctx context.Context) error {
	runID := uuid.NewString()
	log := r.log.With("run_id", runID, "cycle", LockIndex)
	started := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues(LockIndex).Observe(time.Since(started).Seconds())
	}()

	// The tip is published before the lock so health checks track chain
	// progress even when another instance holds the cycle.
	latest, err := r.chain.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("fetch latest block: %w", err)
	}
	metrics.ChainLatestBlock.Set(float64(latest.Number))
	if err := r.publisher.SetLatestBlock(ctx, latest.Number, latest.Hash); err != nil {
		log.Warn("failed to publish latest block", "error", err)
	}

	acquired, err := r.locks.AcquireLock(ctx, LockIndex, r.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire index lock: %w", err)
	}
	if !acquired {
		metrics.LockSkips.WithLabelValues(LockIndex).Inc()
		log.Info("index lock held elsewhere, skipping tick")
		return nil
	}
	defer func() {
		if err := r.locks.ReleaseLock(ctx, LockIndex); err != nil {
			log.Warn("failed to release index lock", "error", err)
		}
	}()

	current, err := r.ensureInitialized(ctx)
	if err != nil {
		return err
	}

	target, err := r.windowTarget(ctx, current, latest)
	if err != nil {
		return err
	}
	if target == nil {
		log.Debug("nothing to index", "current", current.NumberOrZero(), "latest", latest.Number)
		return nil
	}

	plan, err := r.reconciler.Plan(ctx, target)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if len(plan.RevertList) > 0 {
		log.Warn("reverting blocks", "count", len(plan.RevertList), "intersection", plan.Intersection)
		if err := r.reverter.Revert(ctx, plan.RevertList); err != nil {
			return fmt.Errorf("revert: %w", err)
		}
	}
	if len(plan.IndexList) > 0 {
		if err := r.indexer.IndexBlocks(ctx, plan.IndexList); err != nil {
			return err
		}
	}
	log.Info("index cycle complete",
		"indexed", len(plan.IndexList), "reverted", len(plan.RevertList),
		"duration", time.Since(started))
	return nil
}

// ensureInitialized seeds an empty blocks table with the configured start
// block and returns the current block either way. An existing current
// block is republished so a fresh Redis starts with a valid checkpoint.
func (r *Runner) ensureInitialized(ctx context.Context) (*domain.Block, error) {
	count, err := r.store.CountBlocks(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		seed := &domain.Block{
			Hash:       r.cfg.StartBlockHash,
			ParentHash: domain.OriginBlockHash,
			IsCurrent:  true,
		}
		if seed.Hash != domain.OriginBlockHash {
			seed.Number = domain.Int64Ptr(r.cfg.StartBlockNumber)
		}
		uow, err := r.store.Begin(ctx)
		if err != nil {
			return nil, err
		}
		defer uow.Rollback()
		if err := uow.InsertBlock(ctx, seed); err != nil {
			return nil, fmt.Errorf("seed start block: %w", err)
		}
		if err := uow.Commit(); err != nil {
			return nil, fmt.Errorf("seed start block: %w", err)
		}
		r.log.Info("seeded empty blocks table", "blockhash", seed.Hash, "number", seed.NumberOrZero())
		return seed, nil
	}

	current, err := r.store.CurrentBlock(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.publisher.PublishIndexed(ctx, current.NumberOrZero(), current.Hash); err != nil {
		r.log.Warn("failed to republish indexed block", "error", err)
	}
	return current, nil
}

// windowTarget resolves the block this cycle reconciles against:
// min(current + window, chain latest). Nil means the mirror already sits
// on the tip.
func (r *Runner) windowTarget(ctx context.Context, current *domain.Block, latest *domain.ChainBlock) (*domain.ChainBlock, error) {
	targetNumber := current.NumberOrZero() + r.cfg.BlockProcessingWindow
	if targetNumber >= latest.Number {
		if current.Hash == latest.Hash {
			return nil, nil
		}
		return latest, nil
	}
	target, err := r.chain.BlockByNumber(ctx, targetNumber)
	if err != nil {
		return nil, fmt.Errorf("fetch window target %d: %w", targetNumber, err)
	}
	return target, nil
}

// RunAggregateCycle refreshes aggregate_user under its own lock.
func (r *Runner) RunAggregateCycle(ctx context.Context) error {
	runID := uuid.NewString()
	log := r.log.With("run_id", runID, "cycle", LockAggregate)
	started := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues(LockAggregate).Observe(time.Since(started).Seconds())
	}()

	acquired, err := r.locks.AcquireLock(ctx, LockAggregate, r.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire aggregate lock: %w", err)
	}
	if !acquired {
		metrics.LockSkips.WithLabelValues(LockAggregate).Inc()
		log.Info("aggregate lock held elsewhere, skipping tick")
		return nil
	}
	defer func() {
		if err := r.locks.ReleaseLock(ctx, LockAggregate); err != nil {
			log.Warn("failed to release aggregate lock", "error", err)
		}
	}()

	return r.maintainer.Run(ctx)
}
