// Package applier defines the contract between the block indexer and the
// per-entity decoders. The indexer only decides when and in what order
// appliers run; how a receipt becomes row mutations is the applier's
// concern.
package applier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/infra/storage"
)

// BlockContext carries the block identity every version row written while
// applying that block is stamped with.
type BlockContext struct {
	Hash   string
	Number int64
	Time   time.Time
}

// Result reports what one applier did for one block.
type Result struct {
	RowsChanged int
	AffectedIDs []int64
}

// Applier turns a block's classified receipts into entity-version rows.
// It runs inside the caller's open transaction; it must not commit.
//
// A single malformed transaction may be skipped and logged without
// failing the block, but RowsChanged and AffectedIDs must stay accurate
// for what was applied.
type Applier interface {
	Apply(ctx context.Context, tx storage.UnitOfWork, receipts []*domain.Receipt, block BlockContext) (Result, error)
}

// Registry holds one applier per contract kind.
type Registry struct {
	appliers map[domain.ContractKind]Applier
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{appliers: make(map[domain.ContractKind]Applier)}
}

// Register binds an applier to a contract kind, replacing any previous
// binding.
func (r *Registry) Register(kind domain.ContractKind, a Applier) {
	r.appliers[kind] = a
}

// For returns the applier for a kind, or an error when none is bound. A
// missing applier is a wiring bug, not a data condition.
func (r *Registry) For(kind domain.ContractKind) (Applier, error) {
	a, ok := r.appliers[kind]
	if !ok {
		return nil, fmt.Errorf("no applier registered for %s", kind)
	}
	return a, nil
}

// DefaultRegistry binds the standard applier for every contract kind.
func DefaultRegistry(log *slog.Logger) *Registry {
	r := NewRegistry()
	r.Register(domain.ContractUserFactory, NewUserApplier(log))
	r.Register(domain.ContractTrackFactory, NewTrackApplier(log))
	r.Register(domain.ContractSocialFeatureFactory, NewSocialFeatureApplier(log))
	r.Register(domain.ContractPlaylistFactory, NewPlaylistApplier(log))
	r.Register(domain.ContractUserLibraryFactory, NewUserLibraryApplier(log))
	r.Register(domain.ContractUserReplicaSetManager, NewReplicaSetApplier(log))
	return r
}

// Complete reports whether every contract kind has an applier.
func (r *Registry) Complete() bool {
	for _, kind := range domain.ApplyOrder {
		if _, ok := r.appliers[kind]; !ok {
			return false
		}
	}
	return true
}
