// Package chain defines the read-only contract with the external block
// source. Errors from the client are treated as transient: the current
// cycle aborts and the next scheduled cycle retries.
//
// The reconciliation walk issues one call per backward step. The client
// is NOT required to present a snapshot-consistent view across calls;
// a tip that moves mid-walk simply yields a plan that the next cycle
// corrects. Callers must not assume stability beyond a single call.
package chain

import (
	"context"
	"errors"

	"github.com/audiomesh/chainmirror/internal/core/domain"
)

// ErrBlockNotFound is returned when the queried block does not exist on
// the node's canonical view.
var ErrBlockNotFound = errors.New("block not found")

// Client provides read access to block headers, transactions and receipts.
type Client interface {
	// LatestBlock returns the chain tip with full transactions.
	LatestBlock(ctx context.Context) (*domain.ChainBlock, error)

	// BlockByNumber returns the block at the given height.
	BlockByNumber(ctx context.Context, number int64) (*domain.ChainBlock, error)

	// BlockByHash returns the block with the given hash.
	BlockByHash(ctx context.Context, hash string) (*domain.ChainBlock, error)

	// TransactionReceipt returns the receipt for a transaction hash.
	TransactionReceipt(ctx context.Context, txHash string) (*domain.Receipt, error)
}
