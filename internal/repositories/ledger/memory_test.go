package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tradevault/settlement-router/internal/escrow"
)

func newEscrow(id string, status escrow.Status, autoRelease bool, createdAt time.Time) *escrow.Escrow {
	return &escrow.Escrow{
		ID:          id,
		Amount:      1000,
		Currency:    "USD",
		Status:      status,
		AutoRelease: autoRelease,
		CreatedAt:   createdAt,
	}
}

func TestStoreIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	original := newEscrow("a", escrow.StatusPending, false, time.Now())
	require.NoError(t, store.CreateEscrow(ctx, original))

	// mutating the passed record must not leak into the store
	original.Status = escrow.StatusReleased

	got, err := store.GetEscrowByID(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, escrow.StatusPending, got.Status)

	// mutating a returned record must not leak either
	got.Status = escrow.StatusLocked
	again, err := store.GetEscrowByID(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, escrow.StatusPending, again.Status)
}

func TestStoreNotFound(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetEscrowByID(ctx, "missing")
	require.ErrorIs(t, err, escrow.ErrNotFound)

	err = store.UpdateEscrow(ctx, newEscrow("missing", escrow.StatusPending, false, time.Now()))
	require.ErrorIs(t, err, escrow.ErrNotFound)
}

func TestStoreDuplicateCreate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateEscrow(ctx, newEscrow("a", escrow.StatusPending, false, time.Now())))
	require.Error(t, store.CreateEscrow(ctx, newEscrow("a", escrow.StatusPending, false, time.Now())))
}

func TestListEscrowsFilter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, store.CreateEscrow(ctx, newEscrow("a", escrow.StatusLocked, true, base)))
	require.NoError(t, store.CreateEscrow(ctx, newEscrow("b", escrow.StatusLocked, false, base.Add(time.Second))))
	require.NoError(t, store.CreateEscrow(ctx, newEscrow("c", escrow.StatusPending, true, base.Add(2*time.Second))))

	all, err := store.ListEscrows(ctx, escrow.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// ordered by creation time
	require.Equal(t, "a", all[0].ID)
	require.Equal(t, "c", all[2].ID)

	locked, err := store.ListEscrows(ctx, escrow.Filter{Statuses: []escrow.Status{escrow.StatusLocked}})
	require.NoError(t, err)
	require.Len(t, locked, 2)

	auto := true
	lockedAuto, err := store.ListEscrows(ctx, escrow.Filter{
		Statuses:    []escrow.Status{escrow.StatusLocked},
		AutoRelease: &auto,
	})
	require.NoError(t, err)
	require.Len(t, lockedAuto, 1)
	require.Equal(t, "a", lockedAuto[0].ID)
}
