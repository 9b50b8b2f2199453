package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/infra/storage"
)

// Store implements storage.Store on PostgreSQL.
type Store struct {
	db *DB
}

// NewStore creates a store over an open connection.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// CurrentBlock returns the single row marked current.
func (s *Store) CurrentBlock(ctx context.Context) (*domain.Block, error) {
	return currentBlock(ctx, s.db)
}

// BlockByHash returns a block row, or nil when absent.
func (s *Store) BlockByHash(ctx context.Context, hash string) (*domain.Block, error) {
	return blockByHash(ctx, s.db, hash)
}

// HasBlock reports whether a block row exists.
func (s *Store) HasBlock(ctx context.Context, hash string) (bool, error) {
	return hasBlock(ctx, s.db, hash)
}

// CountBlocks returns the number of block rows.
func (s *Store) CountBlocks(ctx context.Context) (int64, error) {
	return countBlocks(ctx, s.db)
}

// Begin opens a unit of work.
func (s *Store) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &unitOfWork{tx: tx}, nil
}

type blockRow struct {
	Hash       string        `db:"blockhash"`
	Number     sql.NullInt64 `db:"number"`
	ParentHash string        `db:"parenthash"`
	IsCurrent  bool          `db:"is_current"`
}

func (b *blockRow) toDomain() *domain.Block {
	block := &domain.Block{
		Hash:       b.Hash,
		ParentHash: b.ParentHash,
		IsCurrent:  b.IsCurrent,
	}
	if b.Number.Valid {
		block.Number = domain.Int64Ptr(b.Number.Int64)
	}
	return block
}

// Query helpers shared by the store and the unit of work; q is either the
// pool or an open transaction.

func currentBlock(ctx context.Context, q sqlx.QueryerContext) (*domain.Block, error) {
	var rows []blockRow
	if err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT blockhash, number, parenthash, is_current FROM blocks WHERE is_current = TRUE`,
	); err != nil {
		return nil, fmt.Errorf("failed to get current block: %w", err)
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("%w: found %d", storage.ErrNotOneCurrentBlock, len(rows))
	}
	return rows[0].toDomain(), nil
}

func blockByHash(ctx context.Context, q sqlx.QueryerContext, hash string) (*domain.Block, error) {
	var row blockRow
	err := sqlx.GetContext(ctx, q, &row,
		`SELECT blockhash, number, parenthash, is_current FROM blocks WHERE blockhash = $1`, hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", err)
	}
	return row.toDomain(), nil
}

func hasBlock(ctx context.Context, q sqlx.QueryerContext, hash string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists,
		`SELECT EXISTS (SELECT 1 FROM blocks WHERE blockhash = $1)`, hash)
	if err != nil {
		return false, fmt.Errorf("failed to check block: %w", err)
	}
	return exists, nil
}

func countBlocks(ctx context.Context, q sqlx.QueryerContext) (int64, error) {
	var count int64
	err := sqlx.GetContext(ctx, q, &count, `SELECT COUNT(*) FROM blocks`)
	if err != nil {
		return 0, fmt.Errorf("failed to count blocks: %w", err)
	}
	return count, nil
}
