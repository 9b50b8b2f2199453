package applier

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/infra/storage"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// event is the decoded body of one contract log. The first topic names
// the event; the data field is hex-encoded JSON.
type event struct {
	Name string
	Body json.RawMessage
}

// decodeEvents decodes every log of a successful receipt. Failed
// transactions carry no state change and yield nothing.
func decodeEvents(receipt *domain.Receipt) ([]event, error) {
	if receipt.Status != 1 {
		return nil, nil
	}
	events := make([]event, 0, len(receipt.Logs))
	for i, lg := range receipt.Logs {
		if len(lg.Topics) == 0 {
			return nil, fmt.Errorf("log %d of %s has no topics", i, receipt.TxHash)
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(lg.Data, "0x"))
		if err != nil {
			return nil, fmt.Errorf("log %d of %s: %w", i, receipt.TxHash, err)
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("log %d of %s: data is not valid JSON", i, receipt.TxHash)
		}
		events = append(events, event{Name: lg.Topics[0], Body: json.RawMessage(raw)})
	}
	return events, nil
}

// writeVersion appends a new current version row for a business key,
// retiring the former current row first. Revert later restores the
// retired row by walking blocknumber backwards.
func writeVersion(ctx context.Context, tx storage.UnitOfWork, receipt *domain.Receipt, block BlockContext,
	kind domain.EntityKind, key []string, fields map[string]any, payload []byte, isDelete bool) error {

	former, err := tx.CurrentVersion(ctx, kind, key)
	if err != nil {
		return err
	}
	if former != nil {
		if err := tx.SetVersionCurrent(ctx, kind, former.ID, false); err != nil {
			return err
		}
	}
	return tx.InsertVersion(ctx, &domain.VersionRow{
		Kind:        kind,
		Key:         key,
		BlockHash:   block.Hash,
		BlockNumber: block.Number,
		TxHash:      receipt.TxHash,
		TxIndex:     receipt.TxIndex,
		IsCurrent:   true,
		IsDelete:    isDelete,
		CreatedAt:   block.Time,
		Fields:      fields,
		Payload:     payload,
	})
}
