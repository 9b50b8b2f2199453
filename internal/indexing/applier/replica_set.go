package applier

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/infra/storage"
)

// ReplicaSetApplier mirrors replica set assignments. A replica set change
// is a user mutation: it writes a fresh user version whose payload carries
// the new replica fields merged over the current user body.
type ReplicaSetApplier struct {
	log *slog.Logger
}

func NewReplicaSetApplier(log *slog.Logger) *ReplicaSetApplier {
	return &ReplicaSetApplier{log: log}
}

type replicaSetEvent struct {
	UserID       int64   `json:"user_id"`
	PrimaryID    int64   `json:"primary_id"`
	SecondaryIDs []int64 `json:"secondary_ids"`
}

func (a *ReplicaSetApplier) Apply(ctx context.Context, tx storage.UnitOfWork, receipts []*domain.Receipt, block BlockContext) (Result, error) {
	var res Result
	for _, receipt := range receipts {
		events, err := decodeEvents(receipt)
		if err != nil {
			a.log.Warn("skipping malformed replica set transaction", "txhash", receipt.TxHash, "error", err)
			continue
		}
		for _, ev := range events {
			if ev.Name != "ReplicaSetUpdated" {
				continue
			}
			var body replicaSetEvent
			if err := json.Unmarshal(ev.Body, &body); err != nil || body.UserID == 0 {
				a.log.Warn("skipping malformed replica set event", "txhash", receipt.TxHash, "error", err)
				continue
			}
			key := []string{strconv.FormatInt(body.UserID, 10)}
			former, err := tx.CurrentVersion(ctx, domain.KindUser, key)
			if err != nil {
				return Result{}, err
			}
			if former == nil {
				// An assignment for a user this mirror has never seen;
				// nothing to attach it to.
				a.log.Warn("replica set update for unknown user", "user_id", body.UserID, "txhash", receipt.TxHash)
				continue
			}
			payload, err := mergePayload(former.Payload, ev.Body)
			if err != nil {
				a.log.Warn("skipping unmergeable replica set event", "user_id", body.UserID, "txhash", receipt.TxHash, "error", err)
				continue
			}
			if err := writeVersion(ctx, tx, receipt, block, domain.KindUser, key, nil, payload, former.IsDelete); err != nil {
				return Result{}, err
			}
			res.RowsChanged++
			res.AffectedIDs = append(res.AffectedIDs, body.UserID)
		}
	}
	return res, nil
}

// mergePayload overlays the update's fields on the base JSON object.
func mergePayload(base, update []byte) ([]byte, error) {
	merged := map[string]any{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &merged); err != nil {
			return nil, err
		}
	}
	var over map[string]any
	if err := json.Unmarshal(update, &over); err != nil {
		return nil, err
	}
	for k, v := range over {
		merged[k] = v
	}
	return json.Marshal(merged)
}
