package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/infra/chain"
	"github.com/audiomesh/chainmirror/internal/infra/storage/memory"
)

type fakeChain struct {
	byHash map[string]*domain.ChainBlock
}

func (f *fakeChain) LatestBlock(ctx context.Context) (*domain.ChainBlock, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChain) BlockByNumber(ctx context.Context, number int64) (*domain.ChainBlock, error) {
	for _, b := range f.byHash {
		if b.Number == number {
			return b, nil
		}
	}
	return nil, chain.ErrBlockNotFound
}

func (f *fakeChain) BlockByHash(ctx context.Context, hash string) (*domain.ChainBlock, error) {
	b, ok := f.byHash[hash]
	if !ok {
		return nil, chain.ErrBlockNotFound
	}
	return b, nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash string) (*domain.Receipt, error) {
	return nil, errors.New("not implemented")
}

func chainBlock(hash, parent string, number int64) *domain.ChainBlock {
	return &domain.ChainBlock{Hash: hash, ParentHash: parent, Number: number}
}

func newFakeChain(blocks ...*domain.ChainBlock) *fakeChain {
	f := &fakeChain{byHash: make(map[string]*domain.ChainBlock)}
	for _, b := range blocks {
		f.byHash[b.Hash] = b
	}
	return f
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedBlocks persists a linear chain; the last block becomes current.
func seedBlocks(t *testing.T, store *memory.Storage, blocks ...*domain.Block) {
	t.Helper()
	ctx := context.Background()
	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range blocks {
		b.IsCurrent = i == len(blocks)-1
		if err := uow.InsertBlock(ctx, b); err != nil {
			t.Fatal(err)
		}
	}
	if err := uow.Commit(); err != nil {
		t.Fatal(err)
	}
}

func block(hash, parent string, number int64) *domain.Block {
	return &domain.Block{Hash: hash, Number: domain.Int64Ptr(number), ParentHash: parent}
}

func TestPlanExtendsLocalChain(t *testing.T) {
	store := memory.NewStorage()
	seedBlocks(t, store, block("0xa", domain.ZeroParentHash, 1))

	b := chainBlock("0xb", "0xa", 2)
	c := chainBlock("0xc", "0xb", 3)
	r := New(newFakeChain(b, c), store, testLogger())

	plan, err := r.Plan(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Intersection != "0xa" {
		t.Errorf("intersection = %s, want 0xa", plan.Intersection)
	}
	if len(plan.RevertList) != 0 {
		t.Errorf("revert list has %d blocks, want 0", len(plan.RevertList))
	}
	if len(plan.IndexList) != 2 || plan.IndexList[0].Hash != "0xb" || plan.IndexList[1].Hash != "0xc" {
		t.Errorf("index list = %v, want [0xb 0xc] ascending", plan.IndexList)
	}
}

func TestPlanDetectsReorg(t *testing.T) {
	store := memory.NewStorage()
	seedBlocks(t, store,
		block("0xa", domain.ZeroParentHash, 1),
		block("0xb1", "0xa", 2),
		block("0xb2", "0xb1", 3),
	)

	c1 := chainBlock("0xc1", "0xa", 2)
	r := New(newFakeChain(c1), store, testLogger())

	plan, err := r.Plan(context.Background(), c1)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Intersection != "0xa" {
		t.Errorf("intersection = %s, want 0xa", plan.Intersection)
	}
	if len(plan.IndexList) != 1 || plan.IndexList[0].Hash != "0xc1" {
		t.Errorf("index list = %v, want [0xc1]", plan.IndexList)
	}
	// Most recent first.
	if len(plan.RevertList) != 2 || plan.RevertList[0].Hash != "0xb2" || plan.RevertList[1].Hash != "0xb1" {
		t.Errorf("revert list = %v, want [0xb2 0xb1]", plan.RevertList)
	}
}

func TestPlanWalksToGenesis(t *testing.T) {
	store := memory.NewStorage()
	seedBlocks(t, store, &domain.Block{Hash: domain.OriginBlockHash, ParentHash: domain.OriginBlockHash})

	g := chainBlock("0xg", domain.ZeroParentHash, 1)
	r := New(newFakeChain(g), store, testLogger())

	plan, err := r.Plan(context.Background(), g)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Intersection != domain.OriginBlockHash {
		t.Errorf("intersection = %s, want %s", plan.Intersection, domain.OriginBlockHash)
	}
	if len(plan.IndexList) != 1 || plan.IndexList[0].Hash != "0xg" {
		t.Errorf("index list = %v, want [0xg]", plan.IndexList)
	}
	if len(plan.RevertList) != 0 {
		t.Errorf("revert list has %d blocks, want 0", len(plan.RevertList))
	}
}

func TestPlanIsIdempotentAtTip(t *testing.T) {
	store := memory.NewStorage()
	seedBlocks(t, store,
		block("0xa", domain.ZeroParentHash, 1),
		block("0xb", "0xa", 2),
	)

	target := chainBlock("0xb", "0xa", 2)
	r := New(newFakeChain(target), store, testLogger())

	plan, err := r.Plan(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Intersection != "0xb" {
		t.Errorf("intersection = %s, want 0xb", plan.Intersection)
	}
	if len(plan.IndexList) != 0 || len(plan.RevertList) != 0 {
		t.Errorf("plan not empty: index=%d revert=%d", len(plan.IndexList), len(plan.RevertList))
	}
}

func TestPlanRejectsDeepRevert(t *testing.T) {
	store := memory.NewStorage()
	seedBlocks(t, store,
		block("0xa", domain.ZeroParentHash, 1),
		block("0xb1", "0xa", 2),
		block("0xb2", "0xb1", 3),
		block("0xb3", "0xb2", 4),
	)

	c1 := chainBlock("0xc1", "0xa", 2)
	r := New(newFakeChain(c1), store, testLogger()).withMaxDepth(2)

	_, err := r.Plan(context.Background(), c1)
	if !errors.Is(err, ErrTooManyBlocksToRevert) {
		t.Fatalf("err = %v, want ErrTooManyBlocksToRevert", err)
	}
}
