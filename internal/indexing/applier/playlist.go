package applier

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/infra/storage"
)

// PlaylistApplier mirrors playlist factory events into the playlists
// table. Albums are playlists with is_album set; the aggregate maintainer
// counts them separately.
type PlaylistApplier struct {
	log *slog.Logger
}

func NewPlaylistApplier(log *slog.Logger) *PlaylistApplier {
	return &PlaylistApplier{log: log}
}

type playlistEvent struct {
	PlaylistID      int64 `json:"playlist_id"`
	PlaylistOwnerID int64 `json:"playlist_owner_id"`
	IsAlbum         bool  `json:"is_album"`
	IsPrivate       bool  `json:"is_private"`
}

func (a *PlaylistApplier) Apply(ctx context.Context, tx storage.UnitOfWork, receipts []*domain.Receipt, block BlockContext) (Result, error) {
	var res Result
	for _, receipt := range receipts {
		events, err := decodeEvents(receipt)
		if err != nil {
			a.log.Warn("skipping malformed playlist transaction", "txhash", receipt.TxHash, "error", err)
			continue
		}
		for _, ev := range events {
			var body playlistEvent
			if err := json.Unmarshal(ev.Body, &body); err != nil || body.PlaylistID == 0 {
				a.log.Warn("skipping malformed playlist event", "txhash", receipt.TxHash, "event", ev.Name, "error", err)
				continue
			}
			var isDelete bool
			switch ev.Name {
			case "PlaylistCreated", "PlaylistUpdated":
			case "PlaylistDeleted":
				isDelete = true
			default:
				continue
			}
			fields := map[string]any{
				"playlist_owner_id": body.PlaylistOwnerID,
				"is_album":          body.IsAlbum,
				"is_private":        body.IsPrivate,
			}
			key := []string{strconv.FormatInt(body.PlaylistID, 10)}
			if err := writeVersion(ctx, tx, receipt, block, domain.KindPlaylist, key, fields, ev.Body, isDelete); err != nil {
				return Result{}, err
			}
			res.RowsChanged++
			res.AffectedIDs = append(res.AffectedIDs, body.PlaylistID)
		}
	}
	return res, nil
}
