package domain

import (
	"strings"
	"time"
)

// EntityKind identifies one of the six versioned entity tables.
type EntityKind int

const (
	KindUser EntityKind = iota
	KindTrack
	KindPlaylist
	KindFollow
	KindRepost
	KindSave
)

// EntityKinds lists all kinds in creation dependency order: entities that
// others reference come first.
var EntityKinds = []EntityKind{KindUser, KindTrack, KindPlaylist, KindFollow, KindRepost, KindSave}

// RevertOrder lists kinds in reverse dependency order. Social features
// reference playlists, tracks and users, so they are retired first.
var RevertOrder = []EntityKind{KindSave, KindRepost, KindFollow, KindPlaylist, KindTrack, KindUser}

func (k EntityKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindTrack:
		return "track"
	case KindPlaylist:
		return "playlist"
	case KindFollow:
		return "follow"
	case KindRepost:
		return "repost"
	case KindSave:
		return "save"
	}
	return "unknown"
}

// VersionRow is one version of a business entity. Rows are append-only;
// only the is_current flag is ever flipped, and a row is deleted only when
// its block is reverted.
type VersionRow struct {
	ID          int64
	Kind        EntityKind
	Key         []string // business key values, in the kind's key-column order
	BlockHash   string
	BlockNumber int64
	TxHash      string
	TxIndex     int
	IsCurrent   bool
	IsDelete    bool
	CreatedAt   time.Time

	// Fields carries kind-specific columns beyond the business key
	// (owner_id, is_album, is_unlisted, ...). Appliers populate it;
	// aggregate maintenance reads it.
	Fields map[string]any

	// Payload is the decoded entity body, stored as JSONB.
	Payload []byte
}

// KeyString joins the business key values for use as a map key.
func (v *VersionRow) KeyString() string {
	return strings.Join(v.Key, ":")
}

// FieldInt64 reads a numeric field, tolerating the int widths appliers
// tend to hand over.
func (v *VersionRow) FieldInt64(name string) (int64, bool) {
	raw, ok := v.Fields[name]
	if !ok {
		return 0, false
	}
	switch n := raw.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// FieldBool reads a boolean field, absent meaning false.
func (v *VersionRow) FieldBool(name string) bool {
	b, ok := v.Fields[name].(bool)
	return ok && b
}

// FieldString reads a string field, absent meaning "".
func (v *VersionRow) FieldString(name string) string {
	s, _ := v.Fields[name].(string)
	return s
}
