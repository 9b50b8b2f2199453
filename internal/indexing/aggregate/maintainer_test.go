package aggregate

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/infra/storage/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedCurrentBlock(t *testing.T, store *memory.Storage, number int64) {
	t.Helper()
	ctx := context.Background()
	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := uow.InsertBlock(ctx, &domain.Block{
		Hash: "0xtip", Number: domain.Int64Ptr(number),
		ParentHash: domain.ZeroParentHash, IsCurrent: true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatal(err)
	}
}

func insertVersions(t *testing.T, store *memory.Storage, rows ...*domain.VersionRow) {
	t.Helper()
	ctx := context.Background()
	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range rows {
		if err := uow.InsertVersion(ctx, row); err != nil {
			t.Fatal(err)
		}
	}
	if err := uow.Commit(); err != nil {
		t.Fatal(err)
	}
}

func current(kind domain.EntityKind, key []string, blockNumber int64, fields map[string]any) *domain.VersionRow {
	return &domain.VersionRow{
		Kind: kind, Key: key, BlockHash: "0xtip",
		BlockNumber: blockNumber, IsCurrent: true, Fields: fields,
	}
}

func TestRunSkipsWhenCheckpointCurrent(t *testing.T) {
	store := memory.NewStorage()
	seedCurrentBlock(t, store, 5)
	if err := store.SaveCheckpoint(context.Background(), CheckpointName, 5); err != nil {
		t.Fatal(err)
	}
	insertVersions(t, store, current(domain.KindUser, []string{"7"}, 5, nil))

	m := NewMaintainer(store, store, testLogger())
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// No recompute ran, so no aggregate row was written.
	agg, err := store.Get(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if agg != nil {
		t.Errorf("aggregate row written on a no-op pass: %+v", agg)
	}
}

func TestRunRebuildsWhenCheckpointAbsent(t *testing.T) {
	store := memory.NewStorage()
	seedCurrentBlock(t, store, 3)
	insertVersions(t, store,
		current(domain.KindUser, []string{"7"}, 1, nil),
		current(domain.KindTrack, []string{"42"}, 2, map[string]any{"owner_id": int64(7)}),
	)
	// A stale row that a full rebuild must replace.
	store.SaveCheckpoint(context.Background(), "other_table", 99)

	m := NewMaintainer(store, store, testLogger())
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	agg, err := store.Get(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if agg == nil || agg.TrackCount != 1 {
		t.Errorf("aggregate after rebuild = %+v, want track_count 1", agg)
	}

	checkpoint, found, err := store.LastCheckpoint(context.Background(), CheckpointName)
	if err != nil {
		t.Fatal(err)
	}
	if !found || checkpoint != 3 {
		t.Errorf("checkpoint = %d (found=%v), want 3", checkpoint, found)
	}
}

func TestRunCountsVisibilityRules(t *testing.T) {
	store := memory.NewStorage()
	seedCurrentBlock(t, store, 10)
	insertVersions(t, store,
		current(domain.KindUser, []string{"7"}, 1, nil),
		current(domain.KindUser, []string{"8"}, 1, nil),

		// Unlisted and stem tracks do not count.
		current(domain.KindTrack, []string{"1"}, 2, map[string]any{"owner_id": int64(7), "is_unlisted": true}),
		current(domain.KindTrack, []string{"2"}, 2, map[string]any{"owner_id": int64(7), "stem_of": map[string]any{"parent_track_id": float64(1)}}),

		// One public playlist, one album.
		current(domain.KindPlaylist, []string{"11"}, 3, map[string]any{"playlist_owner_id": int64(7)}),
		current(domain.KindPlaylist, []string{"12"}, 3, map[string]any{"playlist_owner_id": int64(7), "is_album": true}),
		// Private playlists do not count.
		current(domain.KindPlaylist, []string{"13"}, 3, map[string]any{"playlist_owner_id": int64(7), "is_private": true}),

		// User 7 follows user 8.
		current(domain.KindFollow, []string{"7", "8"}, 4, nil),

		current(domain.KindRepost, []string{"7", "11", "playlist"}, 5, nil),

		// Only track saves count toward track_save_count.
		current(domain.KindSave, []string{"7", "1", "track"}, 6, nil),
		current(domain.KindSave, []string{"7", "11", "playlist"}, 6, nil),
	)

	m := NewMaintainer(store, store, testLogger())
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	agg, err := store.Get(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if agg == nil {
		t.Fatal("no aggregate row for user 7")
	}
	if agg.TrackCount != 0 {
		t.Errorf("track_count = %d, want 0", agg.TrackCount)
	}
	if agg.PlaylistCount != 1 {
		t.Errorf("playlist_count = %d, want 1", agg.PlaylistCount)
	}
	if agg.AlbumCount != 1 {
		t.Errorf("album_count = %d, want 1", agg.AlbumCount)
	}
	if agg.FollowerCount != 0 {
		t.Errorf("follower_count = %d, want 0", agg.FollowerCount)
	}
	if agg.FollowingCount != 1 {
		t.Errorf("following_count = %d, want 1", agg.FollowingCount)
	}
	if agg.RepostCount != 1 {
		t.Errorf("repost_count = %d, want 1", agg.RepostCount)
	}
	if agg.TrackSaveCount != 1 {
		t.Errorf("track_save_count = %d, want 1", agg.TrackSaveCount)
	}

	other, err := store.Get(context.Background(), 8)
	if err != nil {
		t.Fatal(err)
	}
	if other == nil || other.FollowerCount != 1 {
		t.Errorf("user 8 aggregate = %+v, want follower_count 1", other)
	}
}
