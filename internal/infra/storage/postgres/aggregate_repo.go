package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/audiomesh/chainmirror/internal/core/domain"
)

// AggregateUserRepo implements storage.AggregateUserStore on the
// aggregate_user table.
type AggregateUserRepo struct {
	db *DB
}

func NewAggregateUserRepo(db *DB) *AggregateUserRepo {
	return &AggregateUserRepo{db: db}
}

func (r *AggregateUserRepo) LatestIndexedBlockNumber(ctx context.Context) (int64, error) {
	var number int64
	err := r.db.GetContext(ctx, &number,
		`SELECT COALESCE(number, 0) FROM blocks WHERE is_current = TRUE`)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get latest indexed block: %w", err)
	}
	return number, nil
}

func (r *AggregateUserRepo) Truncate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `TRUNCATE aggregate_user`); err != nil {
		return fmt.Errorf("failed to truncate aggregate_user: %w", err)
	}
	return nil
}

// recomputeQuery recounts every counter from the full current state of the
// entity tables, but only for users whose rows changed after the checkpoint.
// Counts are absolute, never deltas, so a revert between runs self-heals.
const recomputeQuery = `
WITH changed_users AS (
    SELECT user_id FROM users WHERE blocknumber > $1
    UNION
    SELECT owner_id FROM tracks WHERE blocknumber > $1
    UNION
    SELECT playlist_owner_id FROM playlists WHERE blocknumber > $1
    UNION
    SELECT follower_user_id FROM follows WHERE blocknumber > $1
    UNION
    SELECT followee_user_id FROM follows WHERE blocknumber > $1
    UNION
    SELECT user_id FROM reposts WHERE blocknumber > $1
    UNION
    SELECT user_id FROM saves WHERE blocknumber > $1 AND save_type = 'track'
)
INSERT INTO aggregate_user (
    user_id, track_count, playlist_count, album_count,
    follower_count, following_count, repost_count, track_save_count
)
SELECT
    u.user_id,
    (SELECT COUNT(*) FROM tracks t
      WHERE t.is_current AND NOT t.is_delete AND NOT t.is_unlisted
        AND t.stem_of IS NULL AND t.owner_id = u.user_id),
    (SELECT COUNT(*) FROM playlists p
      WHERE p.is_current AND NOT p.is_delete AND NOT p.is_album
        AND NOT p.is_private AND p.playlist_owner_id = u.user_id),
    (SELECT COUNT(*) FROM playlists p
      WHERE p.is_current AND NOT p.is_delete AND p.is_album
        AND NOT p.is_private AND p.playlist_owner_id = u.user_id),
    (SELECT COUNT(*) FROM follows f
      WHERE f.is_current AND NOT f.is_delete AND f.followee_user_id = u.user_id),
    (SELECT COUNT(*) FROM follows f
      WHERE f.is_current AND NOT f.is_delete AND f.follower_user_id = u.user_id),
    (SELECT COUNT(*) FROM reposts r
      WHERE r.is_current AND NOT r.is_delete AND r.user_id = u.user_id),
    (SELECT COUNT(*) FROM saves s
      WHERE s.is_current AND NOT s.is_delete AND s.save_type = 'track'
        AND s.user_id = u.user_id)
FROM (
    SELECT DISTINCT user_id FROM users
     WHERE is_current AND user_id IN (SELECT user_id FROM changed_users)
) u
ON CONFLICT (user_id) DO UPDATE SET
    track_count      = EXCLUDED.track_count,
    playlist_count   = EXCLUDED.playlist_count,
    album_count      = EXCLUDED.album_count,
    follower_count   = EXCLUDED.follower_count,
    following_count  = EXCLUDED.following_count,
    repost_count     = EXCLUDED.repost_count,
    track_save_count = EXCLUDED.track_save_count
`

func (r *AggregateUserRepo) RecomputeFrom(ctx context.Context, sinceBlock int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, recomputeQuery, sinceBlock)
	if err != nil {
		return 0, fmt.Errorf("failed to recompute aggregate_user: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count recomputed rows: %w", err)
	}
	return rows, nil
}

func (r *AggregateUserRepo) Get(ctx context.Context, userID int64) (*domain.AggregateUser, error) {
	var row struct {
		UserID         int64 `db:"user_id"`
		TrackCount     int64 `db:"track_count"`
		PlaylistCount  int64 `db:"playlist_count"`
		AlbumCount     int64 `db:"album_count"`
		FollowerCount  int64 `db:"follower_count"`
		FollowingCount int64 `db:"following_count"`
		RepostCount    int64 `db:"repost_count"`
		TrackSaveCount int64 `db:"track_save_count"`
	}
	err := r.db.GetContext(ctx, &row,
		`SELECT user_id, track_count, playlist_count, album_count,
		        follower_count, following_count, repost_count, track_save_count
		   FROM aggregate_user WHERE user_id = $1`, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregate_user %d: %w", userID, err)
	}
	return &domain.AggregateUser{
		UserID:         row.UserID,
		TrackCount:     row.TrackCount,
		PlaylistCount:  row.PlaylistCount,
		AlbumCount:     row.AlbumCount,
		FollowerCount:  row.FollowerCount,
		FollowingCount: row.FollowingCount,
		RepostCount:    row.RepostCount,
		TrackSaveCount: row.TrackSaveCount,
	}, nil
}
