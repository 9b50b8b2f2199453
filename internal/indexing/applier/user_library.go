package applier

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/infra/storage"
)

// UserLibraryApplier mirrors save events into the saves table.
type UserLibraryApplier struct {
	log *slog.Logger
}

func NewUserLibraryApplier(log *slog.Logger) *UserLibraryApplier {
	return &UserLibraryApplier{log: log}
}

type saveEvent struct {
	UserID     int64  `json:"user_id"`
	SaveItemID int64  `json:"save_item_id"`
	SaveType   string `json:"save_type"`
}

func (a *UserLibraryApplier) Apply(ctx context.Context, tx storage.UnitOfWork, receipts []*domain.Receipt, block BlockContext) (Result, error) {
	var res Result
	for _, receipt := range receipts {
		events, err := decodeEvents(receipt)
		if err != nil {
			a.log.Warn("skipping malformed save transaction", "txhash", receipt.TxHash, "error", err)
			continue
		}
		for _, ev := range events {
			var body saveEvent
			if err := json.Unmarshal(ev.Body, &body); err != nil || body.UserID == 0 || body.SaveType == "" {
				a.log.Warn("skipping malformed save event", "txhash", receipt.TxHash, "event", ev.Name, "error", err)
				continue
			}
			var isDelete bool
			switch ev.Name {
			case "SaveAdded":
			case "SaveDeleted":
				isDelete = true
			default:
				continue
			}
			key := []string{
				strconv.FormatInt(body.UserID, 10),
				strconv.FormatInt(body.SaveItemID, 10),
				body.SaveType,
			}
			if err := writeVersion(ctx, tx, receipt, block, domain.KindSave, key, nil, ev.Body, isDelete); err != nil {
				return Result{}, err
			}
			res.RowsChanged++
			res.AffectedIDs = append(res.AffectedIDs, body.UserID)
		}
	}
	return res, nil
}
