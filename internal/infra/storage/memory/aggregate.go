package memory

import (
	"context"
	"strconv"

	"github.com/audiomesh/chainmirror/internal/core/domain"
)

// LastCheckpoint implements storage.CheckpointStore.
func (s *Storage) LastCheckpoint(ctx context.Context, tableName string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.checkpoints[tableName]
	return value, ok, nil
}

// SaveCheckpoint implements storage.CheckpointStore.
func (s *Storage) SaveCheckpoint(ctx context.Context, tableName string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[tableName] = value
	return nil
}

// LatestIndexedBlockNumber returns the current block's number, 0 for the
// origin row.
func (s *Storage) LatestIndexedBlockNumber(ctx context.Context) (int64, error) {
	cur, err := s.CurrentBlock(ctx)
	if err != nil {
		return 0, err
	}
	return cur.NumberOrZero(), nil
}

// Truncate implements storage.AggregateUserStore.
func (s *Storage) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggregates = make(map[int64]*domain.AggregateUser)
	return nil
}

// Get implements storage.AggregateUserStore.
func (s *Storage) Get(ctx context.Context, userID int64) (*domain.AggregateUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.aggregates[userID]
	if !ok {
		return nil, nil
	}
	cp := *agg
	return &cp, nil
}

// RecomputeFrom recounts every counter for users whose current state
// changed after sinceBlock. Counts are rebuilt from scratch rather than
// adjusted by deltas, so interleaved reverts cannot introduce drift.
func (s *Storage) RecomputeFrom(ctx context.Context, sinceBlock int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.changedUserIDs(sinceBlock)

	var written int64
	for userID := range changed {
		if !s.hasCurrentUser(userID) {
			continue
		}
		s.aggregates[userID] = s.recountUser(userID)
		written++
	}
	return written, nil
}

func (s *Storage) changedUserIDs(sinceBlock int64) map[int64]struct{} {
	changed := make(map[int64]struct{})
	add := func(id int64, ok bool) {
		if ok {
			changed[id] = struct{}{}
		}
	}

	for _, row := range s.st.versions[domain.KindUser] {
		if row.IsCurrent && row.BlockNumber > sinceBlock {
			add(keyInt(row, 0))
		}
	}
	for _, row := range s.st.versions[domain.KindTrack] {
		if row.IsCurrent && row.BlockNumber > sinceBlock {
			add(row.FieldInt64("owner_id"))
		}
	}
	for _, row := range s.st.versions[domain.KindPlaylist] {
		if row.IsCurrent && row.BlockNumber > sinceBlock {
			add(row.FieldInt64("playlist_owner_id"))
		}
	}
	for _, row := range s.st.versions[domain.KindFollow] {
		if row.IsCurrent && row.BlockNumber > sinceBlock {
			add(keyInt(row, 0))
			add(keyInt(row, 1))
		}
	}
	for _, row := range s.st.versions[domain.KindRepost] {
		if row.IsCurrent && row.BlockNumber > sinceBlock {
			add(keyInt(row, 0))
		}
	}
	for _, row := range s.st.versions[domain.KindSave] {
		if row.IsCurrent && row.BlockNumber > sinceBlock && keyStr(row, 2) == "track" {
			add(keyInt(row, 0))
		}
	}
	return changed
}

func (s *Storage) hasCurrentUser(userID int64) bool {
	for _, row := range s.st.versions[domain.KindUser] {
		if row.IsCurrent {
			if id, ok := keyInt(row, 0); ok && id == userID {
				return true
			}
		}
	}
	return false
}

func (s *Storage) recountUser(userID int64) *domain.AggregateUser {
	agg := &domain.AggregateUser{UserID: userID}

	for _, row := range s.st.versions[domain.KindTrack] {
		if !row.IsCurrent || row.IsDelete {
			continue
		}
		owner, _ := row.FieldInt64("owner_id")
		if owner != userID || row.FieldBool("is_unlisted") || row.Fields["stem_of"] != nil {
			continue
		}
		agg.TrackCount++
	}

	for _, row := range s.st.versions[domain.KindPlaylist] {
		if !row.IsCurrent || row.IsDelete || row.FieldBool("is_private") {
			continue
		}
		owner, _ := row.FieldInt64("playlist_owner_id")
		if owner != userID {
			continue
		}
		if row.FieldBool("is_album") {
			agg.AlbumCount++
		} else {
			agg.PlaylistCount++
		}
	}

	for _, row := range s.st.versions[domain.KindFollow] {
		if !row.IsCurrent || row.IsDelete {
			continue
		}
		if follower, ok := keyInt(row, 0); ok && follower == userID {
			agg.FollowingCount++
		}
		if followee, ok := keyInt(row, 1); ok && followee == userID {
			agg.FollowerCount++
		}
	}

	for _, row := range s.st.versions[domain.KindRepost] {
		if !row.IsCurrent || row.IsDelete {
			continue
		}
		if id, ok := keyInt(row, 0); ok && id == userID {
			agg.RepostCount++
		}
	}

	for _, row := range s.st.versions[domain.KindSave] {
		if !row.IsCurrent || row.IsDelete || keyStr(row, 2) != "track" {
			continue
		}
		if id, ok := keyInt(row, 0); ok && id == userID {
			agg.TrackSaveCount++
		}
	}

	return agg
}

func keyStr(row *domain.VersionRow, idx int) string {
	if idx >= len(row.Key) {
		return ""
	}
	return row.Key[idx]
}

func keyInt(row *domain.VersionRow, idx int) (int64, bool) {
	if idx >= len(row.Key) {
		return 0, false
	}
	n, err := strconv.ParseInt(row.Key[idx], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
