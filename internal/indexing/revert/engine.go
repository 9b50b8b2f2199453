// Package revert undoes persisted state for blocks that are no longer on
// the canonical chain.
package revert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/indexing/metrics"
	"github.com/audiomesh/chainmirror/internal/indexing/reconcile"
	"github.com/audiomesh/chainmirror/internal/infra/storage"
)

// Engine rolls back blocks as one atomic batch. Blocks are processed most
// recent first; within a block, entity kinds are retired in reverse
// dependency order so nothing is deleted while something still references
// it.
type Engine struct {
	store storage.Store
	log   *slog.Logger
}

// NewEngine creates a revert engine.
func NewEngine(store storage.Store, log *slog.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// Revert undoes every block in the list inside a single transaction. An
// empty list is a no-op. On any error the whole batch rolls back.
func (e *Engine) Revert(ctx context.Context, blocks []*domain.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	if len(blocks) > reconcile.MaxRevertDepth {
		return fmt.Errorf("%w: %d blocks", reconcile.ErrTooManyBlocksToRevert, len(blocks))
	}

	e.log.Warn("reverting blocks", "count", len(blocks),
		"from", blocks[0].Hash, "to", blocks[len(blocks)-1].Hash)

	uow, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin revert batch: %w", err)
	}
	defer uow.Rollback()

	for _, block := range blocks {
		if err := e.revertBlock(ctx, uow, block); err != nil {
			return fmt.Errorf("revert block %s: %w", block.Hash, err)
		}
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("commit revert batch: %w", err)
	}

	metrics.BlocksReverted.Add(float64(len(blocks)))
	metrics.ReorgDepth.Observe(float64(len(blocks)))
	return nil
}

func (e *Engine) revertBlock(ctx context.Context, uow storage.UnitOfWork, block *domain.Block) error {
	e.log.Info("reverting block", "number", block.NumberOrZero(), "blockhash", block.Hash)

	for _, kind := range domain.RevertOrder {
		rows, err := uow.VersionsByBlockHash(ctx, kind, block.Hash)
		if err != nil {
			return fmt.Errorf("load %s versions: %w", kind, err)
		}
		for _, row := range rows {
			if err := e.revertVersion(ctx, uow, block, row); err != nil {
				return fmt.Errorf("revert %s %s: %w", kind, row.KeyString(), err)
			}
		}
	}

	if err := uow.DeleteBlock(ctx, block.Hash); err != nil {
		return fmt.Errorf("delete block row: %w", err)
	}
	if err := uow.SetBlockCurrent(ctx, block.ParentOrOrigin(), true); err != nil {
		return fmt.Errorf("restore parent block: %w", err)
	}
	return nil
}

// revertVersion restores the immediately preceding version of the same
// business key, then deletes the reverted row. A key with no predecessor
// simply has no current version afterward.
func (e *Engine) revertVersion(ctx context.Context, uow storage.UnitOfWork, block *domain.Block, row *domain.VersionRow) error {
	previous, err := uow.PreviousVersion(ctx, row.Kind, row.Key, block.NumberOrZero())
	if err != nil {
		return fmt.Errorf("find previous version: %w", err)
	}
	if previous != nil {
		if err := uow.SetVersionCurrent(ctx, row.Kind, previous.ID, true); err != nil {
			return fmt.Errorf("restore previous version: %w", err)
		}
	}
	return uow.DeleteVersion(ctx, row.Kind, row.ID)
}
