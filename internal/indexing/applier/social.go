package applier

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/infra/storage"
)

// SocialFeatureApplier mirrors follow and repost events. Both entity
// kinds live behind the same factory contract, so one applier handles
// the bucket and routes per event name.
type SocialFeatureApplier struct {
	log *slog.Logger
}

func NewSocialFeatureApplier(log *slog.Logger) *SocialFeatureApplier {
	return &SocialFeatureApplier{log: log}
}

type followEvent struct {
	FollowerUserID int64 `json:"follower_user_id"`
	FolloweeUserID int64 `json:"followee_user_id"`
}

type repostEvent struct {
	UserID       int64  `json:"user_id"`
	RepostItemID int64  `json:"repost_item_id"`
	RepostType   string `json:"repost_type"`
}

func (a *SocialFeatureApplier) Apply(ctx context.Context, tx storage.UnitOfWork, receipts []*domain.Receipt, block BlockContext) (Result, error) {
	var res Result
	for _, receipt := range receipts {
		events, err := decodeEvents(receipt)
		if err != nil {
			a.log.Warn("skipping malformed social transaction", "txhash", receipt.TxHash, "error", err)
			continue
		}
		for _, ev := range events {
			switch ev.Name {
			case "FollowAdded", "FollowDeleted":
				var body followEvent
				if err := json.Unmarshal(ev.Body, &body); err != nil || body.FollowerUserID == 0 || body.FolloweeUserID == 0 {
					a.log.Warn("skipping malformed follow event", "txhash", receipt.TxHash, "error", err)
					continue
				}
				key := []string{
					strconv.FormatInt(body.FollowerUserID, 10),
					strconv.FormatInt(body.FolloweeUserID, 10),
				}
				if err := writeVersion(ctx, tx, receipt, block, domain.KindFollow, key, nil, ev.Body, ev.Name == "FollowDeleted"); err != nil {
					return Result{}, err
				}
				res.RowsChanged++
				res.AffectedIDs = append(res.AffectedIDs, body.FollowerUserID, body.FolloweeUserID)

			case "RepostAdded", "RepostDeleted":
				var body repostEvent
				if err := json.Unmarshal(ev.Body, &body); err != nil || body.UserID == 0 || body.RepostType == "" {
					a.log.Warn("skipping malformed repost event", "txhash", receipt.TxHash, "error", err)
					continue
				}
				key := []string{
					strconv.FormatInt(body.UserID, 10),
					strconv.FormatInt(body.RepostItemID, 10),
					body.RepostType,
				}
				if err := writeVersion(ctx, tx, receipt, block, domain.KindRepost, key, nil, ev.Body, ev.Name == "RepostDeleted"); err != nil {
					return Result{}, err
				}
				res.RowsChanged++
				res.AffectedIDs = append(res.AffectedIDs, body.UserID)
			}
		}
	}
	return res, nil
}
