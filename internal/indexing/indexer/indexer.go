// Package indexer applies new canonical blocks to the mirror, one
// transaction per block.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/indexing/applier"
	"github.com/audiomesh/chainmirror/internal/indexing/metrics"
	"github.com/audiomesh/chainmirror/internal/infra/chain"
	"github.com/audiomesh/chainmirror/internal/infra/storage"
)

// DefaultReceiptWorkers bounds concurrent receipt fetches within a block.
const DefaultReceiptWorkers = 5

// CacheInvalidator drops cached entries for entities changed by a block.
// Invoked strictly after commit.
type CacheInvalidator interface {
	InvalidateUsers(ctx context.Context, ids []int64) error
	InvalidateTracks(ctx context.Context, ids []int64) error
	InvalidatePlaylists(ctx context.Context, ids []int64) error
}

// CheckpointPublisher publishes the most recently indexed block to the
// health surface. Invoked strictly after commit.
type CheckpointPublisher interface {
	PublishIndexed(ctx context.Context, number int64, hash string) error
}

// Config wires an Indexer.
type Config struct {
	Store          storage.Store
	Chain          chain.Client
	Registry       *applier.Registry
	Addresses      *domain.AddressBook
	Cache          CacheInvalidator
	Publisher      CheckpointPublisher
	ReceiptWorkers int
	Log            *slog.Logger
}

// Indexer applies blocks sequentially; receipt fetching within a block is
// the only concurrency.
type Indexer struct {
	store     storage.Store
	chain     chain.Client
	registry  *applier.Registry
	addresses *domain.AddressBook
	cache     CacheInvalidator
	publisher CheckpointPublisher
	workers   int
	log       *slog.Logger
}

// New creates an indexer. The registry must be complete.
func New(cfg Config) (*Indexer, error) {
	if !cfg.Registry.Complete() {
		return nil, fmt.Errorf("applier registry is missing contract kinds")
	}
	workers := cfg.ReceiptWorkers
	if workers <= 0 {
		workers = DefaultReceiptWorkers
	}
	return &Indexer{
		store:     cfg.Store,
		chain:     cfg.Chain,
		registry:  cfg.Registry,
		addresses: cfg.Addresses,
		cache:     cfg.Cache,
		publisher: cfg.Publisher,
		workers:   workers,
		log:       cfg.Log,
	}, nil
}

// IndexBlocks applies blocks in ascending order. Later blocks may depend
// on entity state created by earlier ones, so a failure stops the cycle;
// nothing partial is committed and the failed block is retried from
// scratch next cycle.
func (ix *Indexer) IndexBlocks(ctx context.Context, blocks []*domain.ChainBlock) error {
	for i, block := range blocks {
		ix.log.Info("indexing block",
			"number", block.Number, "blockhash", block.Hash,
			"progress", fmt.Sprintf("%d/%d", i+1, len(blocks)))
		if err := ix.indexBlock(ctx, block); err != nil {
			return fmt.Errorf("index block %d (%s): %w", block.Number, block.Hash, err)
		}
		metrics.BlocksIndexed.Inc()
		metrics.IndexedLatestBlock.Set(float64(block.Number))
	}
	return nil
}

func (ix *Indexer) indexBlock(ctx context.Context, block *domain.ChainBlock) error {
	receipts, err := ix.fetchReceipts(ctx, block.Transactions)
	if err != nil {
		return err
	}

	buckets := ix.classify(block, receipts)

	uow, err := ix.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin block transaction: %w", err)
	}
	defer uow.Rollback()

	former, err := uow.CurrentBlock(ctx)
	if err != nil {
		return err
	}
	if err := uow.SetBlockCurrent(ctx, former.Hash, false); err != nil {
		return fmt.Errorf("retire former current block: %w", err)
	}
	if err := uow.InsertBlock(ctx, &domain.Block{
		Hash:       block.Hash,
		Number:     domain.Int64Ptr(block.Number),
		ParentHash: block.ParentHash,
		IsCurrent:  true,
	}); err != nil {
		return fmt.Errorf("insert block row: %w", err)
	}

	blockCtx := applier.BlockContext{
		Hash:   block.Hash,
		Number: block.Number,
		Time:   time.Unix(block.Timestamp, 0).UTC(),
	}
	results := make(map[domain.ContractKind]applier.Result, len(domain.ApplyOrder))
	for _, kind := range domain.ApplyOrder {
		app, err := ix.registry.For(kind)
		if err != nil {
			return err
		}
		result, err := app.Apply(ctx, uow, buckets[kind], blockCtx)
		if err != nil {
			return fmt.Errorf("%s applier: %w", kind, err)
		}
		results[kind] = result
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("commit block: %w", err)
	}

	// Post-commit only: readers must never observe side effects of an
	// uncommitted block.
	ix.invalidateCaches(ctx, results)
	if err := ix.publisher.PublishIndexed(ctx, block.Number, block.Hash); err != nil {
		ix.log.Warn("failed to publish indexed block", "error", err, "number", block.Number)
	}
	return nil
}

// fetchReceipts retrieves all receipts for a block with a bounded worker
// pool. Any miss fails the whole block; partial application is never
// allowed.
func (ix *Indexer) fetchReceipts(ctx context.Context, txs []domain.ChainTransaction) (map[string]*domain.Receipt, error) {
	receipts := make(map[string]*domain.Receipt, len(txs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for _, tx := range txs {
		g.Go(func() error {
			receipt, err := ix.chain.TransactionReceipt(gctx, tx.Hash)
			if err != nil {
				return fmt.Errorf("fetch receipt %s: %w", tx.Hash, err)
			}
			mu.Lock()
			receipts[tx.Hash] = receipt
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(receipts) != len(txs) {
		return nil, fmt.Errorf("expected %d receipts, fetched %d", len(txs), len(receipts))
	}
	return receipts, nil
}

// classify buckets receipts by the recipient contract, in an order fixed
// by sorting transactions on their hash.
func (ix *Indexer) classify(block *domain.ChainBlock, receipts map[string]*domain.Receipt) map[domain.ContractKind][]*domain.Receipt {
	sorted := make([]domain.ChainTransaction, len(block.Transactions))
	copy(sorted, block.Transactions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Hash < sorted[j].Hash })

	buckets := make(map[domain.ContractKind][]*domain.Receipt)
	for _, tx := range sorted {
		kind, ok := ix.addresses.Lookup(tx.To)
		if !ok {
			continue
		}
		buckets[kind] = append(buckets[kind], receipts[tx.Hash])
		metrics.TransactionsClassified.WithLabelValues(kind.String()).Inc()
	}
	return buckets
}

func (ix *Indexer) invalidateCaches(ctx context.Context, results map[domain.ContractKind]applier.Result) {
	userResult := results[domain.ContractUserFactory]
	trackResult := results[domain.ContractTrackFactory]
	playlistResult := results[domain.ContractPlaylistFactory]

	if userResult.RowsChanged > 0 && len(userResult.AffectedIDs) > 0 {
		if err := ix.cache.InvalidateUsers(ctx, userResult.AffectedIDs); err != nil {
			ix.log.Warn("user cache invalidation failed", "error", err)
		}
	}
	// Track search state also derives from user rows, so a user change
	// dirties track entries too.
	if (userResult.RowsChanged > 0 || trackResult.RowsChanged > 0) && len(trackResult.AffectedIDs) > 0 {
		if err := ix.cache.InvalidateTracks(ctx, trackResult.AffectedIDs); err != nil {
			ix.log.Warn("track cache invalidation failed", "error", err)
		}
	}
	if playlistResult.RowsChanged > 0 && len(playlistResult.AffectedIDs) > 0 {
		if err := ix.cache.InvalidatePlaylists(ctx, playlistResult.AffectedIDs); err != nil {
			ix.log.Warn("playlist cache invalidation failed", "error", err)
		}
	}
}
