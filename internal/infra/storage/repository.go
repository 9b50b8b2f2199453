package storage

import (
	"context"
	"errors"

	"github.com/audiomesh/chainmirror/internal/core/domain"
)

var (
	// ErrNotOneCurrentBlock means the blocks table does not hold exactly
	// one row marked current. Local state is corrupted; no automatic
	// recovery is attempted.
	ErrNotOneCurrentBlock = errors.New("expected single block row marked as current")

	// ErrTxDone is returned when a completed unit of work is reused.
	ErrTxDone = errors.New("transaction already completed")
)

// BlockReader provides read access to the persisted block chain.
type BlockReader interface {
	// CurrentBlock returns the single row marked current. It returns
	// ErrNotOneCurrentBlock when zero or more than one row is current.
	CurrentBlock(ctx context.Context) (*domain.Block, error)

	// BlockByHash returns a block row, or nil when absent.
	BlockByHash(ctx context.Context, hash string) (*domain.Block, error)

	// HasBlock reports whether a block row exists for the hash.
	HasBlock(ctx context.Context, hash string) (bool, error)

	// CountBlocks returns the number of persisted block rows.
	CountBlocks(ctx context.Context) (int64, error)
}

// UnitOfWork bundles every mutation of one block application or one revert
// batch into a single database transaction.
type UnitOfWork interface {
	BlockReader

	InsertBlock(ctx context.Context, block *domain.Block) error
	SetBlockCurrent(ctx context.Context, hash string, current bool) error
	DeleteBlock(ctx context.Context, hash string) error

	// InsertVersion appends a new entity version row. Appliers call this
	// from inside the block transaction.
	InsertVersion(ctx context.Context, row *domain.VersionRow) error

	// VersionsByBlockHash returns all version rows of a kind stamped with
	// the given block hash.
	VersionsByBlockHash(ctx context.Context, kind domain.EntityKind, blockHash string) ([]*domain.VersionRow, error)

	// PreviousVersion returns the newest version of the business key with
	// blocknumber strictly below beforeBlock, breaking blocknumber ties on
	// tx_index descending. Nil when no predecessor exists.
	PreviousVersion(ctx context.Context, kind domain.EntityKind, key []string, beforeBlock int64) (*domain.VersionRow, error)

	// CurrentVersion returns the row marked current for the business key,
	// or nil.
	CurrentVersion(ctx context.Context, kind domain.EntityKind, key []string) (*domain.VersionRow, error)

	SetVersionCurrent(ctx context.Context, kind domain.EntityKind, id int64, current bool) error
	DeleteVersion(ctx context.Context, kind domain.EntityKind, id int64) error

	Commit() error
	// Rollback is safe to call after Commit; it is a no-op then.
	Rollback() error
}

// Store is the root persistence handle handed to the engines.
type Store interface {
	BlockReader
	Begin(ctx context.Context) (UnitOfWork, error)
}

// CheckpointStore persists per-job last-processed blocknumbers.
type CheckpointStore interface {
	// LastCheckpoint returns the checkpoint for the job, with found=false
	// when none has been written yet.
	LastCheckpoint(ctx context.Context, tableName string) (value int64, found bool, err error)

	// SaveCheckpoint creates or overwrites the checkpoint for the job.
	SaveCheckpoint(ctx context.Context, tableName string, value int64) error
}

// AggregateUserStore maintains the derived per-user counter table.
type AggregateUserStore interface {
	// LatestIndexedBlockNumber returns the blocknumber of the current
	// block row, 0 for the origin.
	LatestIndexedBlockNumber(ctx context.Context) (int64, error)

	// Truncate drops every aggregate row, forcing a full rebuild.
	Truncate(ctx context.Context) error

	// RecomputeFrom recounts, from scratch, every counter of every user
	// whose current state changed after sinceBlock, and upserts the
	// results. It returns the number of rows written.
	RecomputeFrom(ctx context.Context, sinceBlock int64) (int64, error)

	// Get returns the aggregate row for a user, or nil when absent.
	Get(ctx context.Context, userID int64) (*domain.AggregateUser, error)
}
