// Package memory provides an in-memory implementation of the storage
// interfaces. It backs engine tests and local development without a
// database; transactional semantics are emulated by cloning state on
// Begin and swapping it in on Commit.
package memory

import (
	"context"
	"sort"

	"sync"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/infra/storage"
)

type state struct {
	blocks        map[string]*domain.Block
	versions      map[domain.EntityKind]map[int64]*domain.VersionRow
	nextVersionID int64
}

func newState() *state {
	versions := make(map[domain.EntityKind]map[int64]*domain.VersionRow)
	for _, kind := range domain.EntityKinds {
		versions[kind] = make(map[int64]*domain.VersionRow)
	}
	return &state{
		blocks:        make(map[string]*domain.Block),
		versions:      versions,
		nextVersionID: 1,
	}
}

func (s *state) clone() *state {
	next := newState()
	next.nextVersionID = s.nextVersionID
	for hash, b := range s.blocks {
		cp := *b
		next.blocks[hash] = &cp
	}
	for kind, rows := range s.versions {
		for id, row := range rows {
			next.versions[kind][id] = cloneVersion(row)
		}
	}
	return next
}

func cloneVersion(row *domain.VersionRow) *domain.VersionRow {
	cp := *row
	cp.Key = append([]string(nil), row.Key...)
	if row.Fields != nil {
		cp.Fields = make(map[string]any, len(row.Fields))
		for k, v := range row.Fields {
			cp.Fields[k] = v
		}
	}
	cp.Payload = append([]byte(nil), row.Payload...)
	return &cp
}

// Storage holds all tables in memory.
type Storage struct {
	mu          sync.RWMutex
	st          *state
	checkpoints map[string]int64
	aggregates  map[int64]*domain.AggregateUser
}

// NewStorage creates an empty in-memory storage.
func NewStorage() *Storage {
	return &Storage{
		st:          newState(),
		checkpoints: make(map[string]int64),
		aggregates:  make(map[int64]*domain.AggregateUser),
	}
}

func currentBlock(st *state) (*domain.Block, error) {
	var found *domain.Block
	for _, b := range st.blocks {
		if b.IsCurrent {
			if found != nil {
				return nil, storage.ErrNotOneCurrentBlock
			}
			found = b
		}
	}
	if found == nil {
		return nil, storage.ErrNotOneCurrentBlock
	}
	cp := *found
	return &cp, nil
}

// CurrentBlock returns the single current block row.
func (s *Storage) CurrentBlock(ctx context.Context) (*domain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return currentBlock(s.st)
}

// BlockByHash returns a block row by hash, nil when absent.
func (s *Storage) BlockByHash(ctx context.Context, hash string) (*domain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.st.blocks[hash]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

// HasBlock reports whether a row exists for the hash.
func (s *Storage) HasBlock(ctx context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.st.blocks[hash]
	return ok, nil
}

// CountBlocks returns the number of block rows.
func (s *Storage) CountBlocks(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.st.blocks)), nil
}

// Begin starts a unit of work over a cloned copy of the state.
func (s *Storage) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &unitOfWork{store: s, st: s.st.clone()}, nil
}

// VersionsForTest returns all rows of a kind ordered by id. Test helper.
func (s *Storage) VersionsForTest(kind domain.EntityKind) []*domain.VersionRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]*domain.VersionRow, 0, len(s.st.versions[kind]))
	for _, row := range s.st.versions[kind] {
		rows = append(rows, cloneVersion(row))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

// CurrentVersions returns the rows marked current for a kind, keyed by
// business key.
func (s *Storage) CurrentVersions(kind domain.EntityKind) map[string]*domain.VersionRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.VersionRow)
	for _, row := range s.st.versions[kind] {
		if row.IsCurrent {
			out[row.KeyString()] = cloneVersion(row)
		}
	}
	return out
}

type unitOfWork struct {
	store *Storage
	st    *state
	done  bool
}

func (u *unitOfWork) CurrentBlock(ctx context.Context) (*domain.Block, error) {
	if u.done {
		return nil, storage.ErrTxDone
	}
	return currentBlock(u.st)
}

func (u *unitOfWork) BlockByHash(ctx context.Context, hash string) (*domain.Block, error) {
	if u.done {
		return nil, storage.ErrTxDone
	}
	b, ok := u.st.blocks[hash]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (u *unitOfWork) HasBlock(ctx context.Context, hash string) (bool, error) {
	if u.done {
		return false, storage.ErrTxDone
	}
	_, ok := u.st.blocks[hash]
	return ok, nil
}

func (u *unitOfWork) CountBlocks(ctx context.Context) (int64, error) {
	if u.done {
		return 0, storage.ErrTxDone
	}
	return int64(len(u.st.blocks)), nil
}

func (u *unitOfWork) InsertBlock(ctx context.Context, block *domain.Block) error {
	if u.done {
		return storage.ErrTxDone
	}
	cp := *block
	u.st.blocks[block.Hash] = &cp
	return nil
}

func (u *unitOfWork) SetBlockCurrent(ctx context.Context, hash string, current bool) error {
	if u.done {
		return storage.ErrTxDone
	}
	if b, ok := u.st.blocks[hash]; ok {
		b.IsCurrent = current
	}
	return nil
}

func (u *unitOfWork) DeleteBlock(ctx context.Context, hash string) error {
	if u.done {
		return storage.ErrTxDone
	}
	delete(u.st.blocks, hash)
	return nil
}

func (u *unitOfWork) InsertVersion(ctx context.Context, row *domain.VersionRow) error {
	if u.done {
		return storage.ErrTxDone
	}
	cp := cloneVersion(row)
	cp.ID = u.st.nextVersionID
	u.st.nextVersionID++
	u.st.versions[row.Kind][cp.ID] = cp
	row.ID = cp.ID
	return nil
}

func (u *unitOfWork) VersionsByBlockHash(ctx context.Context, kind domain.EntityKind, blockHash string) ([]*domain.VersionRow, error) {
	if u.done {
		return nil, storage.ErrTxDone
	}
	var rows []*domain.VersionRow
	for _, row := range u.st.versions[kind] {
		if row.BlockHash == blockHash {
			rows = append(rows, cloneVersion(row))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func sameKey(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (u *unitOfWork) PreviousVersion(ctx context.Context, kind domain.EntityKind, key []string, beforeBlock int64) (*domain.VersionRow, error) {
	if u.done {
		return nil, storage.ErrTxDone
	}
	var best *domain.VersionRow
	for _, row := range u.st.versions[kind] {
		if !sameKey(row.Key, key) || row.BlockNumber >= beforeBlock {
			continue
		}
		if best == nil ||
			row.BlockNumber > best.BlockNumber ||
			(row.BlockNumber == best.BlockNumber && row.TxIndex > best.TxIndex) {
			best = row
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneVersion(best), nil
}

func (u *unitOfWork) CurrentVersion(ctx context.Context, kind domain.EntityKind, key []string) (*domain.VersionRow, error) {
	if u.done {
		return nil, storage.ErrTxDone
	}
	for _, row := range u.st.versions[kind] {
		if row.IsCurrent && sameKey(row.Key, key) {
			return cloneVersion(row), nil
		}
	}
	return nil, nil
}

func (u *unitOfWork) SetVersionCurrent(ctx context.Context, kind domain.EntityKind, id int64, current bool) error {
	if u.done {
		return storage.ErrTxDone
	}
	if row, ok := u.st.versions[kind][id]; ok {
		row.IsCurrent = current
	}
	return nil
}

func (u *unitOfWork) DeleteVersion(ctx context.Context, kind domain.EntityKind, id int64) error {
	if u.done {
		return storage.ErrTxDone
	}
	delete(u.st.versions[kind], id)
	return nil
}

func (u *unitOfWork) Commit() error {
	if u.done {
		return storage.ErrTxDone
	}
	u.done = true
	u.store.mu.Lock()
	u.store.st = u.st
	u.store.mu.Unlock()
	return nil
}

func (u *unitOfWork) Rollback() error {
	// Safe after Commit.
	u.done = true
	return nil
}
