package indexer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/indexing/applier"
	"github.com/audiomesh/chainmirror/internal/infra/storage/memory"
)

const (
	userFactoryAddr  = "0x1111111111111111111111111111111111111111"
	trackFactoryAddr = "0x2222222222222222222222222222222222222222"
)

func testAddressBook() *domain.AddressBook {
	return domain.NewAddressBook(map[domain.ContractKind]string{
		domain.ContractUserFactory:           userFactoryAddr,
		domain.ContractTrackFactory:          trackFactoryAddr,
		domain.ContractSocialFeatureFactory:  "0x3333333333333333333333333333333333333333",
		domain.ContractPlaylistFactory:       "0x4444444444444444444444444444444444444444",
		domain.ContractUserLibraryFactory:    "0x5555555555555555555555555555555555555555",
		domain.ContractUserReplicaSetManager: "0x6666666666666666666666666666666666666666",
	})
}

type fakeChain struct {
	receipts map[string]*domain.Receipt
	failTx   string
}

func (f *fakeChain) LatestBlock(ctx context.Context) (*domain.ChainBlock, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChain) BlockByNumber(ctx context.Context, number int64) (*domain.ChainBlock, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChain) BlockByHash(ctx context.Context, hash string) (*domain.ChainBlock, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash string) (*domain.Receipt, error) {
	if txHash == f.failTx {
		return nil, errors.New("receipt unavailable")
	}
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, fmt.Errorf("no receipt for %s", txHash)
	}
	return r, nil
}

type recordingCache struct {
	users, tracks, playlists [][]int64
}

func (c *recordingCache) InvalidateUsers(ctx context.Context, ids []int64) error {
	c.users = append(c.users, ids)
	return nil
}

func (c *recordingCache) InvalidateTracks(ctx context.Context, ids []int64) error {
	c.tracks = append(c.tracks, ids)
	return nil
}

func (c *recordingCache) InvalidatePlaylists(ctx context.Context, ids []int64) error {
	c.playlists = append(c.playlists, ids)
	return nil
}

type recordingPublisher struct {
	numbers []int64
	hashes  []string
}

func (p *recordingPublisher) PublishIndexed(ctx context.Context, number int64, hash string) error {
	p.numbers = append(p.numbers, number)
	p.hashes = append(p.hashes, hash)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventLog(name string, body string) domain.Log {
	return domain.Log{
		Address: "",
		Topics:  []string{name},
		Data:    "0x" + hex.EncodeToString([]byte(body)),
	}
}

func seedCurrentBlock(t *testing.T, store *memory.Storage, b *domain.Block) {
	t.Helper()
	ctx := context.Background()
	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	b.IsCurrent = true
	if err := uow.InsertBlock(ctx, b); err != nil {
		t.Fatal(err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatal(err)
	}
}

func newTestIndexer(t *testing.T, store *memory.Storage, chainClient *fakeChain, cache *recordingCache, pub *recordingPublisher) *Indexer {
	t.Helper()
	ix, err := New(Config{
		Store:     store,
		Chain:     chainClient,
		Registry:  applier.DefaultRegistry(testLogger()),
		Addresses: testAddressBook(),
		Cache:     cache,
		Publisher: pub,
		Log:       testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return ix
}

func TestIndexBlockAppliesAndFlipsCurrent(t *testing.T) {
	store := memory.NewStorage()
	seedCurrentBlock(t, store, &domain.Block{Hash: "0xa", Number: domain.Int64Ptr(1), ParentHash: domain.ZeroParentHash})

	chainClient := &fakeChain{receipts: map[string]*domain.Receipt{
		"0xt1": {
			TxHash: "0xt1", Status: 1, To: userFactoryAddr,
			Logs: []domain.Log{eventLog("UserCreated", `{"user_id":7,"handle":"al"}`)},
		},
	}}
	cache := &recordingCache{}
	pub := &recordingPublisher{}
	ix := newTestIndexer(t, store, chainClient, cache, pub)

	block := &domain.ChainBlock{
		Hash: "0xb", ParentHash: "0xa", Number: 2, Timestamp: 1700000000,
		Transactions: []domain.ChainTransaction{{Hash: "0xt1", To: userFactoryAddr, Index: 0}},
	}
	if err := ix.IndexBlocks(context.Background(), []*domain.ChainBlock{block}); err != nil {
		t.Fatal(err)
	}

	current, err := store.CurrentBlock(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if current.Hash != "0xb" {
		t.Errorf("current block = %s, want 0xb", current.Hash)
	}

	users := store.CurrentVersions(domain.KindUser)
	if v := users["7"]; v == nil || v.BlockNumber != 2 {
		t.Errorf("user 7 current version = %+v, want one at block 2", users["7"])
	}

	if len(cache.users) != 1 || len(cache.users[0]) != 1 || cache.users[0][0] != 7 {
		t.Errorf("user invalidations = %v, want [[7]]", cache.users)
	}
	if len(cache.tracks) != 0 {
		t.Errorf("track invalidations = %v, want none (no track rows changed)", cache.tracks)
	}
	if len(pub.numbers) != 1 || pub.numbers[0] != 2 || pub.hashes[0] != "0xb" {
		t.Errorf("published = %v %v, want [2] [0xb]", pub.numbers, pub.hashes)
	}
}

func TestIndexBlockFailsWhenReceiptMissing(t *testing.T) {
	store := memory.NewStorage()
	seedCurrentBlock(t, store, &domain.Block{Hash: "0xa", Number: domain.Int64Ptr(1), ParentHash: domain.ZeroParentHash})

	chainClient := &fakeChain{
		receipts: map[string]*domain.Receipt{
			"0xt1": {TxHash: "0xt1", Status: 1, To: userFactoryAddr},
		},
		failTx: "0xt2",
	}
	cache := &recordingCache{}
	pub := &recordingPublisher{}
	ix := newTestIndexer(t, store, chainClient, cache, pub)

	block := &domain.ChainBlock{
		Hash: "0xb", ParentHash: "0xa", Number: 2,
		Transactions: []domain.ChainTransaction{
			{Hash: "0xt1", To: userFactoryAddr, Index: 0},
			{Hash: "0xt2", To: userFactoryAddr, Index: 1},
		},
	}
	if err := ix.IndexBlocks(context.Background(), []*domain.ChainBlock{block}); err == nil {
		t.Fatal("expected error when a receipt cannot be fetched")
	}

	// Nothing committed.
	current, err := store.CurrentBlock(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if current.Hash != "0xa" {
		t.Errorf("current block = %s after failed index, want 0xa", current.Hash)
	}
	if len(pub.numbers) != 0 {
		t.Errorf("published %v after failed index, want nothing", pub.numbers)
	}
}

func TestUserChangeInvalidatesTrackCache(t *testing.T) {
	store := memory.NewStorage()
	seedCurrentBlock(t, store, &domain.Block{Hash: "0xa", Number: domain.Int64Ptr(1), ParentHash: domain.ZeroParentHash})

	chainClient := &fakeChain{receipts: map[string]*domain.Receipt{
		"0xt1": {
			TxHash: "0xt1", Status: 1, To: userFactoryAddr,
			Logs: []domain.Log{eventLog("UserUpdated", `{"user_id":7}`)},
		},
		"0xt2": {
			TxHash: "0xt2", TxIndex: 1, Status: 1, To: trackFactoryAddr,
			Logs: []domain.Log{eventLog("TrackCreated", `{"track_id":42,"owner_id":7}`)},
		},
	}}
	cache := &recordingCache{}
	pub := &recordingPublisher{}
	ix := newTestIndexer(t, store, chainClient, cache, pub)

	block := &domain.ChainBlock{
		Hash: "0xb", ParentHash: "0xa", Number: 2,
		Transactions: []domain.ChainTransaction{
			{Hash: "0xt1", To: userFactoryAddr, Index: 0},
			{Hash: "0xt2", To: trackFactoryAddr, Index: 1},
		},
	}
	if err := ix.IndexBlocks(context.Background(), []*domain.ChainBlock{block}); err != nil {
		t.Fatal(err)
	}

	if len(cache.tracks) != 1 || len(cache.tracks[0]) != 1 || cache.tracks[0][0] != 42 {
		t.Errorf("track invalidations = %v, want [[42]]", cache.tracks)
	}
}
