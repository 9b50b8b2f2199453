package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// CheckpointRepo implements storage.CheckpointStore on the
// indexing_checkpoints table.
type CheckpointRepo struct {
	db *DB
}

func NewCheckpointRepo(db *DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

func (r *CheckpointRepo) LastCheckpoint(ctx context.Context, tableName string) (int64, bool, error) {
	var value int64
	err := r.db.GetContext(ctx, &value,
		`SELECT last_checkpoint FROM indexing_checkpoints WHERE tablename = $1`, tableName)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get checkpoint %s: %w", tableName, err)
	}
	return value, true, nil
}

func (r *CheckpointRepo) SaveCheckpoint(ctx context.Context, tableName string, value int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO indexing_checkpoints (tablename, last_checkpoint) VALUES ($1, $2)
		 ON CONFLICT (tablename) DO UPDATE SET last_checkpoint = EXCLUDED.last_checkpoint`,
		tableName, value)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", tableName, err)
	}
	return nil
}
