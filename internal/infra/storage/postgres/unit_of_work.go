package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/infra/storage"
)

// kindSpec maps an entity kind to its table layout: the table name, the
// business key columns, and the kind-specific field columns beyond the key.
type kindSpec struct {
	table   string
	keyCols []string
	keyInt  []bool // key column is BIGINT rather than TEXT
	fields  []fieldCol
}

type fieldCol struct {
	name string
	typ  string // "bigint", "boolean" or "jsonb"
}

var kindSpecs = map[domain.EntityKind]kindSpec{
	domain.KindUser: {
		table:   "users",
		keyCols: []string{"user_id"},
		keyInt:  []bool{true},
	},
	domain.KindTrack: {
		table:   "tracks",
		keyCols: []string{"track_id"},
		keyInt:  []bool{true},
		fields: []fieldCol{
			{name: "owner_id", typ: "bigint"},
			{name: "is_unlisted", typ: "boolean"},
			{name: "stem_of", typ: "jsonb"},
		},
	},
	domain.KindPlaylist: {
		table:   "playlists",
		keyCols: []string{"playlist_id"},
		keyInt:  []bool{true},
		fields: []fieldCol{
			{name: "playlist_owner_id", typ: "bigint"},
			{name: "is_album", typ: "boolean"},
			{name: "is_private", typ: "boolean"},
		},
	},
	domain.KindFollow: {
		table:   "follows",
		keyCols: []string{"follower_user_id", "followee_user_id"},
		keyInt:  []bool{true, true},
	},
	domain.KindRepost: {
		table:   "reposts",
		keyCols: []string{"user_id", "repost_item_id", "repost_type"},
		keyInt:  []bool{true, true, false},
	},
	domain.KindSave: {
		table:   "saves",
		keyCols: []string{"user_id", "save_item_id", "save_type"},
		keyInt:  []bool{true, true, false},
	},
}

func specFor(kind domain.EntityKind) (kindSpec, error) {
	spec, ok := kindSpecs[kind]
	if !ok {
		return kindSpec{}, fmt.Errorf("unknown entity kind %d", kind)
	}
	return spec, nil
}

// versionColumns builds the SELECT list returning every column of a kind's
// table, with key columns cast to text so scanning stays kind-agnostic.
func (s kindSpec) versionColumns() string {
	cols := []string{"id"}
	for _, k := range s.keyCols {
		cols = append(cols, k+"::text AS "+k)
	}
	for _, f := range s.fields {
		cols = append(cols, f.name)
	}
	cols = append(cols, "blockhash", "blocknumber", "txhash", "tx_index", "is_current", "is_delete", "created_at", "payload")
	return strings.Join(cols, ", ")
}

// unitOfWork implements storage.UnitOfWork over an open sqlx transaction.
type unitOfWork struct {
	tx   *sqlx.Tx
	done bool
}

func (u *unitOfWork) CurrentBlock(ctx context.Context) (*domain.Block, error) {
	if u.done {
		return nil, storage.ErrTxDone
	}
	return currentBlock(ctx, u.tx)
}

func (u *unitOfWork) BlockByHash(ctx context.Context, hash string) (*domain.Block, error) {
	if u.done {
		return nil, storage.ErrTxDone
	}
	return blockByHash(ctx, u.tx, hash)
}

func (u *unitOfWork) HasBlock(ctx context.Context, hash string) (bool, error) {
	if u.done {
		return false, storage.ErrTxDone
	}
	return hasBlock(ctx, u.tx, hash)
}

func (u *unitOfWork) CountBlocks(ctx context.Context) (int64, error) {
	if u.done {
		return 0, storage.ErrTxDone
	}
	return countBlocks(ctx, u.tx)
}

func (u *unitOfWork) InsertBlock(ctx context.Context, block *domain.Block) error {
	if u.done {
		return storage.ErrTxDone
	}
	var number sql.NullInt64
	if block.Number != nil {
		number = sql.NullInt64{Int64: *block.Number, Valid: true}
	}
	_, err := u.tx.ExecContext(ctx,
		`INSERT INTO blocks (blockhash, number, parenthash, is_current) VALUES ($1, $2, $3, $4)`,
		block.Hash, number, block.ParentHash, block.IsCurrent)
	if err != nil {
		return fmt.Errorf("failed to insert block %s: %w", block.Hash, err)
	}
	return nil
}

func (u *unitOfWork) SetBlockCurrent(ctx context.Context, hash string, current bool) error {
	if u.done {
		return storage.ErrTxDone
	}
	_, err := u.tx.ExecContext(ctx,
		`UPDATE blocks SET is_current = $2 WHERE blockhash = $1`, hash, current)
	if err != nil {
		return fmt.Errorf("failed to update block %s: %w", hash, err)
	}
	return nil
}

func (u *unitOfWork) DeleteBlock(ctx context.Context, hash string) error {
	if u.done {
		return storage.ErrTxDone
	}
	_, err := u.tx.ExecContext(ctx, `DELETE FROM blocks WHERE blockhash = $1`, hash)
	if err != nil {
		return fmt.Errorf("failed to delete block %s: %w", hash, err)
	}
	return nil
}

func (u *unitOfWork) InsertVersion(ctx context.Context, row *domain.VersionRow) error {
	if u.done {
		return storage.ErrTxDone
	}
	spec, err := specFor(row.Kind)
	if err != nil {
		return err
	}
	if len(row.Key) != len(spec.keyCols) {
		return fmt.Errorf("%s key has %d values, want %d", spec.table, len(row.Key), len(spec.keyCols))
	}

	cols := make([]string, 0, 8+len(spec.keyCols)+len(spec.fields))
	args := make([]any, 0, cap(cols))
	for i, k := range spec.keyCols {
		cols = append(cols, k)
		if spec.keyInt[i] {
			n, err := strconv.ParseInt(row.Key[i], 10, 64)
			if err != nil {
				return fmt.Errorf("%s.%s: non-numeric key %q", spec.table, k, row.Key[i])
			}
			args = append(args, n)
		} else {
			args = append(args, row.Key[i])
		}
	}
	for _, f := range spec.fields {
		val, ok := row.Fields[f.name]
		if !ok {
			continue
		}
		cols = append(cols, f.name)
		if f.typ == "jsonb" {
			raw, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", spec.table, f.name, err)
			}
			args = append(args, raw)
		} else {
			args = append(args, val)
		}
	}

	createdAt := row.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var payload any
	if row.Payload != nil {
		payload = row.Payload
	}
	cols = append(cols, "blockhash", "blocknumber", "txhash", "tx_index", "is_current", "is_delete", "created_at", "payload")
	args = append(args, row.BlockHash, row.BlockNumber, row.TxHash, row.TxIndex, row.IsCurrent, row.IsDelete, createdAt, payload)

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING id`,
		spec.table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if err := u.tx.QueryRowxContext(ctx, query, args...).Scan(&row.ID); err != nil {
		return fmt.Errorf("failed to insert %s version: %w", spec.table, err)
	}
	return nil
}

func (u *unitOfWork) VersionsByBlockHash(ctx context.Context, kind domain.EntityKind, blockHash string) ([]*domain.VersionRow, error) {
	if u.done {
		return nil, storage.ErrTxDone
	}
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE blockhash = $1 ORDER BY id`,
		spec.versionColumns(), spec.table)
	rows, err := u.tx.QueryxContext(ctx, query, blockHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s versions: %w", spec.table, err)
	}
	defer rows.Close()

	var out []*domain.VersionRow
	for rows.Next() {
		v, err := scanVersion(rows, kind, spec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (u *unitOfWork) PreviousVersion(ctx context.Context, kind domain.EntityKind, key []string, beforeBlock int64) (*domain.VersionRow, error) {
	if u.done {
		return nil, storage.ErrTxDone
	}
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	where, args, err := keyPredicate(spec, key, 1)
	if err != nil {
		return nil, err
	}
	args = append(args, beforeBlock)
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s AND blocknumber < $%d ORDER BY blocknumber DESC, tx_index DESC LIMIT 1`,
		spec.versionColumns(), spec.table, where, len(args))
	return u.getVersion(ctx, kind, spec, query, args)
}

func (u *unitOfWork) CurrentVersion(ctx context.Context, kind domain.EntityKind, key []string) (*domain.VersionRow, error) {
	if u.done {
		return nil, storage.ErrTxDone
	}
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	where, args, err := keyPredicate(spec, key, 1)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s AND is_current`,
		spec.versionColumns(), spec.table, where)
	return u.getVersion(ctx, kind, spec, query, args)
}

func (u *unitOfWork) getVersion(ctx context.Context, kind domain.EntityKind, spec kindSpec, query string, args []any) (*domain.VersionRow, error) {
	rows, err := u.tx.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", spec.table, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanVersion(rows, kind, spec)
}

func (u *unitOfWork) SetVersionCurrent(ctx context.Context, kind domain.EntityKind, id int64, current bool) error {
	if u.done {
		return storage.ErrTxDone
	}
	spec, err := specFor(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET is_current = $2 WHERE id = $1`, spec.table)
	if _, err := u.tx.ExecContext(ctx, query, id, current); err != nil {
		return fmt.Errorf("failed to update %s version %d: %w", spec.table, id, err)
	}
	return nil
}

func (u *unitOfWork) DeleteVersion(ctx context.Context, kind domain.EntityKind, id int64) error {
	if u.done {
		return storage.ErrTxDone
	}
	spec, err := specFor(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, spec.table)
	if _, err := u.tx.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete %s version %d: %w", spec.table, id, err)
	}
	return nil
}

func (u *unitOfWork) Commit() error {
	if u.done {
		return storage.ErrTxDone
	}
	u.done = true
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	return u.tx.Rollback()
}

// keyPredicate builds "col1 = $1 AND col2 = $2 ..." with typed arguments.
func keyPredicate(spec kindSpec, key []string, firstArg int) (string, []any, error) {
	if len(key) != len(spec.keyCols) {
		return "", nil, fmt.Errorf("%s key has %d values, want %d", spec.table, len(key), len(spec.keyCols))
	}
	parts := make([]string, len(key))
	args := make([]any, len(key))
	for i, col := range spec.keyCols {
		parts[i] = fmt.Sprintf("%s = $%d", col, firstArg+i)
		if spec.keyInt[i] {
			n, err := strconv.ParseInt(key[i], 10, 64)
			if err != nil {
				return "", nil, fmt.Errorf("%s.%s: non-numeric key %q", spec.table, col, key[i])
			}
			args[i] = n
		} else {
			args[i] = key[i]
		}
	}
	return strings.Join(parts, " AND "), args, nil
}

func scanVersion(rows *sqlx.Rows, kind domain.EntityKind, spec kindSpec) (*domain.VersionRow, error) {
	raw := map[string]any{}
	if err := rows.MapScan(raw); err != nil {
		return nil, fmt.Errorf("failed to scan %s row: %w", spec.table, err)
	}

	v := &domain.VersionRow{Kind: kind, Fields: map[string]any{}}
	v.ID, _ = rawInt64(raw["id"])
	for _, k := range spec.keyCols {
		v.Key = append(v.Key, rawString(raw[k]))
	}
	for _, f := range spec.fields {
		val, ok := raw[f.name]
		if !ok || val == nil {
			continue
		}
		switch f.typ {
		case "bigint":
			if n, ok := rawInt64(val); ok {
				v.Fields[f.name] = n
			}
		case "boolean":
			if b, ok := val.(bool); ok {
				v.Fields[f.name] = b
			}
		case "jsonb":
			if raw, ok := val.([]byte); ok {
				var decoded any
				if err := json.Unmarshal(raw, &decoded); err == nil {
					v.Fields[f.name] = decoded
				}
			}
		}
	}
	v.BlockHash = rawString(raw["blockhash"])
	v.BlockNumber, _ = rawInt64(raw["blocknumber"])
	v.TxHash = rawString(raw["txhash"])
	if n, ok := rawInt64(raw["tx_index"]); ok {
		v.TxIndex = int(n)
	}
	v.IsCurrent, _ = raw["is_current"].(bool)
	v.IsDelete, _ = raw["is_delete"].(bool)
	if t, ok := raw["created_at"].(time.Time); ok {
		v.CreatedAt = t
	}
	if p, ok := raw["payload"].([]byte); ok {
		v.Payload = p
	}
	return v, nil
}

func rawInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case []byte:
		parsed, err := strconv.ParseInt(string(n), 10, 64)
		return parsed, err == nil
	}
	return 0, false
}

func rawString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}
