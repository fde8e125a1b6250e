// Package ledger implements the escrow record store. The in-memory variant
// backs tests and single-node deployments, a database-backed store satisfies
// the same interface.
package ledger

import (
	"context"
	"fmt"

	"github.com/tradevault/settlement-router/internal/escrow"
	"github.com/tradevault/settlement-router/internal/lib"
	"golang.org/x/exp/slices"
)

// MemoryStore is an escrow.Store over a concurrent collection. Records are
// deep-copied on every boundary so callers never share state with the store.
type MemoryStore struct {
	escrows *lib.Collection[*escrow.Escrow]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		escrows: lib.NewCollection[*escrow.Escrow](),
	}
}

func (s *MemoryStore) CreateEscrow(_ context.Context, esc *escrow.Escrow) error {
	if _, loaded := s.escrows.LoadOrStore(esc.Clone()); loaded {
		return fmt.Errorf("escrow %s already exists", esc.ID)
	}
	return nil
}

func (s *MemoryStore) GetEscrowByID(_ context.Context, id string) (*escrow.Escrow, error) {
	esc, ok := s.escrows.Load(id)
	if !ok {
		return nil, lib.WrapError(escrow.ErrNotFound, fmt.Errorf("id %s", id))
	}
	return esc.Clone(), nil
}

func (s *MemoryStore) UpdateEscrow(_ context.Context, esc *escrow.Escrow) error {
	if _, ok := s.escrows.Load(esc.ID); !ok {
		return lib.WrapError(escrow.ErrNotFound, fmt.Errorf("id %s", esc.ID))
	}
	s.escrows.Store(esc.Clone())
	return nil
}

func (s *MemoryStore) ListEscrows(_ context.Context, filter escrow.Filter) ([]*escrow.Escrow, error) {
	var out []*escrow.Escrow
	s.escrows.Range(func(esc *escrow.Escrow) bool {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, esc.Status) {
			return true
		}
		if filter.AutoRelease != nil && esc.AutoRelease != *filter.AutoRelease {
			return true
		}
		out = append(out, esc.Clone())
		return true
	})

	// stable order for callers and tests
	slices.SortFunc(out, func(a, b *escrow.Escrow) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})

	return out, nil
}
