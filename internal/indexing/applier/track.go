package applier

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/infra/storage"
)

// TrackApplier mirrors track factory events into the tracks table. The
// visibility columns it extracts (owner_id, is_unlisted, stem_of) drive
// aggregate counting later.
type TrackApplier struct {
	log *slog.Logger
}

func NewTrackApplier(log *slog.Logger) *TrackApplier {
	return &TrackApplier{log: log}
}

type trackEvent struct {
	TrackID    int64           `json:"track_id"`
	OwnerID    int64           `json:"owner_id"`
	IsUnlisted bool            `json:"is_unlisted"`
	StemOf     json.RawMessage `json:"stem_of"`
}

func (a *TrackApplier) Apply(ctx context.Context, tx storage.UnitOfWork, receipts []*domain.Receipt, block BlockContext) (Result, error) {
	var res Result
	for _, receipt := range receipts {
		events, err := decodeEvents(receipt)
		if err != nil {
			a.log.Warn("skipping malformed track transaction", "txhash", receipt.TxHash, "error", err)
			continue
		}
		for _, ev := range events {
			var body trackEvent
			if err := json.Unmarshal(ev.Body, &body); err != nil || body.TrackID == 0 {
				a.log.Warn("skipping malformed track event", "txhash", receipt.TxHash, "event", ev.Name, "error", err)
				continue
			}
			var isDelete bool
			switch ev.Name {
			case "TrackCreated", "TrackUpdated":
			case "TrackDeleted":
				isDelete = true
			default:
				continue
			}
			fields := map[string]any{
				"owner_id":    body.OwnerID,
				"is_unlisted": body.IsUnlisted,
			}
			if len(body.StemOf) > 0 && string(body.StemOf) != "null" {
				var stemOf any
				if err := json.Unmarshal(body.StemOf, &stemOf); err == nil {
					fields["stem_of"] = stemOf
				}
			}
			key := []string{strconv.FormatInt(body.TrackID, 10)}
			if err := writeVersion(ctx, tx, receipt, block, domain.KindTrack, key, fields, ev.Body, isDelete); err != nil {
				return Result{}, err
			}
			res.RowsChanged++
			res.AffectedIDs = append(res.AffectedIDs, body.TrackID)
		}
	}
	return res, nil
}
