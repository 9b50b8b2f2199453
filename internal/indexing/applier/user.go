package applier

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/infra/storage"
)

// UserApplier mirrors user factory events into the users table.
type UserApplier struct {
	log *slog.Logger
}

func NewUserApplier(log *slog.Logger) *UserApplier {
	return &UserApplier{log: log}
}

type userEvent struct {
	UserID int64 `json:"user_id"`
}

func (a *UserApplier) Apply(ctx context.Context, tx storage.UnitOfWork, receipts []*domain.Receipt, block BlockContext) (Result, error) {
	var res Result
	for _, receipt := range receipts {
		events, err := decodeEvents(receipt)
		if err != nil {
			a.log.Warn("skipping malformed user transaction", "txhash", receipt.TxHash, "error", err)
			continue
		}
		for _, ev := range events {
			var body userEvent
			if err := json.Unmarshal(ev.Body, &body); err != nil || body.UserID == 0 {
				a.log.Warn("skipping malformed user event", "txhash", receipt.TxHash, "event", ev.Name, "error", err)
				continue
			}
			var isDelete bool
			switch ev.Name {
			case "UserCreated", "UserUpdated":
			case "UserDeleted":
				isDelete = true
			default:
				continue
			}
			key := []string{strconv.FormatInt(body.UserID, 10)}
			if err := writeVersion(ctx, tx, receipt, block, domain.KindUser, key, nil, ev.Body, isDelete); err != nil {
				return Result{}, err
			}
			res.RowsChanged++
			res.AffectedIDs = append(res.AffectedIDs, body.UserID)
		}
	}
	return res, nil
}
