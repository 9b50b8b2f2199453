// Package aggregate incrementally maintains the derived per-user counter
// table, bounded by a blocknumber checkpoint.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/audiomesh/chainmirror/internal/indexing/metrics"
	"github.com/audiomesh/chainmirror/internal/infra/storage"
)

// CheckpointName is the job key in the checkpoints table.
const CheckpointName = "aggregate_user"

// Maintainer recomputes counters for users whose current state advanced
// past the checkpoint. Touched users are recounted from scratch rather
// than delta-adjusted, so interleaved reverts cannot cause drift.
type Maintainer struct {
	checkpoints storage.CheckpointStore
	aggregates  storage.AggregateUserStore
	log         *slog.Logger
}

// NewMaintainer creates a maintainer.
func NewMaintainer(checkpoints storage.CheckpointStore, aggregates storage.AggregateUserStore, log *slog.Logger) *Maintainer {
	return &Maintainer{checkpoints: checkpoints, aggregates: aggregates, log: log}
}

// Run executes one maintenance pass. The caller holds the cycle lock.
func (m *Maintainer) Run(ctx context.Context) error {
	checkpoint, found, err := m.checkpoints.LastCheckpoint(ctx, CheckpointName)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}

	latest, err := m.aggregates.LatestIndexedBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("read latest blocknumber: %w", err)
	}

	if !found {
		// No checkpoint means a full rebuild.
		m.log.Info("no aggregate checkpoint, repopulating table")
		if err := m.aggregates.Truncate(ctx); err != nil {
			return fmt.Errorf("truncate aggregate table: %w", err)
		}
		checkpoint = 0
	} else if latest == checkpoint {
		m.log.Info("aggregate table up to date", "checkpoint", checkpoint)
		return nil
	}

	m.log.Info("updating aggregate table",
		"checkpoint", checkpoint, "latest_blocknumber", latest)

	updated, err := m.aggregates.RecomputeFrom(ctx, checkpoint)
	if err != nil {
		return fmt.Errorf("recompute aggregates: %w", err)
	}
	metrics.AggregateUsersUpdated.Add(float64(updated))

	if latest > 0 {
		if err := m.checkpoints.SaveCheckpoint(ctx, CheckpointName, latest); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}

	m.log.Info("aggregate table updated", "rows", updated, "new_checkpoint", latest)
	return nil
}
