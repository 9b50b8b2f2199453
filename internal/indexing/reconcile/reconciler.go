// Package reconcile compares the chain tip against the persisted mirror
// and plans the work of one indexing cycle: which persisted blocks must be
// undone and which chain blocks must be applied.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/infra/chain"
	"github.com/audiomesh/chainmirror/internal/infra/storage"
)

// MaxRevertDepth bounds how many blocks a single reorg may undo. A revert
// deeper than this means a corrupted or malicious chain view, not a normal
// reorg, and is treated as fatal.
const MaxRevertDepth = 500

// ErrTooManyBlocksToRevert is returned when the revert list would exceed
// MaxRevertDepth. No mutation has been performed when it is returned.
var ErrTooManyBlocksToRevert = errors.New("revert list exceeds maximum depth")

// Plan is the ordered work of one cycle.
type Plan struct {
	// Intersection is the most recent hash present both on the canonical
	// chain and in local state (or the origin hash).
	Intersection string

	// IndexList holds new canonical blocks in ascending application order.
	IndexList []*domain.ChainBlock

	// RevertList holds persisted blocks no longer on the canonical chain,
	// most recent first.
	RevertList []*domain.Block
}

// Reconciler walks the chain tip backward to the intersection with local
// state.
type Reconciler struct {
	chain    chain.Client
	blocks   storage.BlockReader
	maxDepth int
	log      *slog.Logger
}

// New creates a reconciler bound to a chain client and the block table.
func New(client chain.Client, blocks storage.BlockReader, log *slog.Logger) *Reconciler {
	return &Reconciler{
		chain:    client,
		blocks:   blocks,
		maxDepth: MaxRevertDepth,
		log:      log,
	}
}

// Makes the depth bound overridable in tests.
func (r *Reconciler) withMaxDepth(depth int) *Reconciler {
	r.maxDepth = depth
	return r
}

// Plan walks backward from target following parent hashes until a hash
// known to local state is found, then walks the locally persisted chain
// from its current block to that intersection. It performs no mutation.
func (r *Reconciler) Plan(ctx context.Context, target *domain.ChainBlock) (*Plan, error) {
	intersection, discovered, err := r.findIntersection(ctx, target)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Intersection: intersection}

	// Discovery order is tip-first; application order is the reverse.
	plan.IndexList = make([]*domain.ChainBlock, len(discovered))
	for i, block := range discovered {
		plan.IndexList[len(discovered)-1-i] = block
	}

	plan.RevertList, err = r.findRevertList(ctx, intersection)
	if err != nil {
		return nil, err
	}

	r.log.Info("reconciliation planned",
		"intersection", intersection,
		"index_blocks", len(plan.IndexList),
		"revert_blocks", len(plan.RevertList))
	return plan, nil
}

func (r *Reconciler) findIntersection(ctx context.Context, target *domain.ChainBlock) (string, []*domain.ChainBlock, error) {
	var discovered []*domain.ChainBlock
	cursor := target

	for {
		persisted, err := r.blocks.BlockByHash(ctx, cursor.Hash)
		if err != nil {
			return "", nil, fmt.Errorf("lookup block %s: %w", cursor.Hash, err)
		}
		if persisted != nil && persisted.IsCurrent {
			// Up to date with this branch.
			return cursor.Hash, discovered, nil
		}

		discovered = append(discovered, cursor)
		if len(discovered)%50 == 0 {
			r.log.Info("walking chain tip backward", "visited", len(discovered))
		}

		parentHash := cursor.ParentHash
		known, err := r.blocks.HasBlock(ctx, parentHash)
		if err != nil {
			return "", nil, fmt.Errorf("lookup parent %s: %w", parentHash, err)
		}
		if known {
			return parentHash, discovered, nil
		}

		if parentHash == domain.ZeroParentHash {
			// Walked all the way to the chain origin.
			return domain.OriginBlockHash, discovered, nil
		}

		cursor, err = r.chain.BlockByHash(ctx, parentHash)
		if err != nil {
			return "", nil, fmt.Errorf("fetch parent block %s: %w", parentHash, err)
		}
	}
}

func (r *Reconciler) findRevertList(ctx context.Context, intersection string) ([]*domain.Block, error) {
	current, err := r.blocks.CurrentBlock(ctx)
	if err != nil {
		return nil, err
	}

	var revertList []*domain.Block
	traverse := current
	for traverse.Hash != intersection {
		revertList = append(revertList, traverse)
		if len(revertList) > r.maxDepth {
			return nil, fmt.Errorf("%w: depth %d from block %s", ErrTooManyBlocksToRevert, len(revertList), current.Hash)
		}

		parent, err := r.blocks.BlockByHash(ctx, traverse.ParentOrOrigin())
		if err != nil {
			return nil, fmt.Errorf("lookup parent %s: %w", traverse.ParentHash, err)
		}
		if parent == nil {
			r.log.Warn("revert walk stopped before intersection",
				"parenthash", traverse.ParentHash)
			break
		}
		traverse = parent
	}
	return revertList, nil
}
