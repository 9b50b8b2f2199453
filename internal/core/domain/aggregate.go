package domain

// AggregateUser holds the derived per-user counters. Rows are fully
// recomputed and overwritten, never versioned.
type AggregateUser struct {
	UserID         int64
	TrackCount     int64
	PlaylistCount  int64
	AlbumCount     int64
	FollowerCount  int64
	FollowingCount int64
	RepostCount    int64
	TrackSaveCount int64
}

// Checkpoint marks the last blocknumber fully processed by a named job.
type Checkpoint struct {
	TableName      string
	LastCheckpoint int64
}
