package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/borrow-ledger/lending"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func seedItem(t *testing.T, m *Memory, id lending.ItemID, total int) {
	t.Helper()
	require.NoError(t, m.InsertItem(context.Background(), lending.InventoryItem{
		ID: id, Name: string(id), QuantityTotal: total, QuantityAvailable: total, CreatedAt: t0,
	}))
}

func TestMemory_UpdateItemGuardsAvailable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedItem(t, m, "proj", 5)

	item, err := m.GetItem(ctx, "proj")
	require.NoError(t, err)
	item.QuantityAvailable = 3

	// A writer that read a stale value loses.
	err = m.UpdateItem(ctx, *item, 4)
	assert.ErrorIs(t, err, lending.ErrConcurrentModification)

	require.NoError(t, m.UpdateItem(ctx, *item, 5))
	got, _ := m.GetItem(ctx, "proj")
	assert.Equal(t, 3, got.QuantityAvailable)
}

func TestMemory_UpdateRequestGuardsStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedItem(t, m, "proj", 5)
	r := lending.BorrowRequest{ID: "r1", ItemID: "proj", StudentID: "s1", QuantityRequested: 1, Status: lending.StatusPending}
	require.NoError(t, m.InsertRequest(ctx, r))

	r.Status = lending.StatusApproved
	require.NoError(t, m.UpdateRequest(ctx, r, lending.StatusPending))

	r.Status = lending.StatusRejected
	err := m.UpdateRequest(ctx, r, lending.StatusPending)
	assert.ErrorIs(t, err, lending.ErrConcurrentModification)

	err = m.UpdateRequest(ctx, lending.BorrowRequest{ID: "nope"}, lending.StatusPending)
	assert.ErrorIs(t, err, lending.ErrNotFound)
}

func TestMemory_InsertRequestRequiresItem(t *testing.T) {
	m := NewMemory()
	err := m.InsertRequest(context.Background(), lending.BorrowRequest{ID: "r1", ItemID: "ghost"})
	assert.ErrorIs(t, err, lending.ErrNotFound)
}

func TestMemory_DeleteReferencedItem(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedItem(t, m, "proj", 5)
	seedItem(t, m, "spare", 1)
	require.NoError(t, m.InsertRequest(ctx, lending.BorrowRequest{ID: "r1", ItemID: "proj", Status: lending.StatusPending}))

	assert.ErrorIs(t, m.DeleteItem(ctx, "proj"), lending.ErrReferenced)
	assert.NoError(t, m.DeleteItem(ctx, "spare"))
	assert.ErrorIs(t, m.DeleteItem(ctx, "spare"), lending.ErrNotFound)
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedItem(t, m, "proj", 5)
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(tx lending.Store) error {
		item, err := tx.GetItem(ctx, "proj")
		require.NoError(t, err)
		item.QuantityAvailable = 1
		require.NoError(t, tx.UpdateItem(ctx, *item, 5))
		require.NoError(t, tx.InsertRequest(ctx, lending.BorrowRequest{ID: "r1", ItemID: "proj"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	item, _ := m.GetItem(ctx, "proj")
	assert.Equal(t, 5, item.QuantityAvailable, "stock write should be undone")
	_, err = m.GetRequest(ctx, "r1")
	assert.ErrorIs(t, err, lending.ErrNotFound, "insert should be undone")
}

func TestMemory_AddFineFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveProfile(ctx, lending.Profile{ID: "s1", Role: lending.RoleStudent}))

	bal, err := m.AddFine(ctx, "s1", 15000)
	require.NoError(t, err)
	assert.Equal(t, lending.Money(15000), bal)

	bal, err = m.AddFine(ctx, "s1", -20000)
	require.NoError(t, err)
	assert.Equal(t, lending.Money(0), bal)

	_, err = m.AddFine(ctx, "ghost", 1)
	assert.ErrorIs(t, err, lending.ErrNotFound)
}

func TestMemory_SaveProfileKeepsRoleAndBalance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveProfile(ctx, lending.Profile{ID: "s1", FullName: "Old", Role: lending.RolePending}))
	require.NoError(t, m.UpdateProfileRole(ctx, "s1", lending.RolePending, lending.RoleStudent))
	_, err := m.AddFine(ctx, "s1", 5000)
	require.NoError(t, err)

	require.NoError(t, m.SaveProfile(ctx, lending.Profile{ID: "s1", FullName: "New", Role: lending.RolePending}))

	p, err := m.GetProfile(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "New", p.FullName)
	assert.Equal(t, lending.RoleStudent, p.Role)
	assert.Equal(t, lending.Money(5000), p.FineBalance)
}

func TestMemory_ListFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertItem(ctx, lending.InventoryItem{ID: "a", Name: "Projector", Category: "av", CreatedAt: t0}))
	require.NoError(t, m.InsertItem(ctx, lending.InventoryItem{ID: "b", Name: "Cable", Description: "HDMI for projector", Category: "av", CreatedAt: t0.Add(time.Hour)}))
	require.NoError(t, m.InsertItem(ctx, lending.InventoryItem{ID: "c", Name: "Ball", Category: "sport", CreatedAt: t0.Add(2 * time.Hour)}))

	items, err := m.ListItems(ctx, lending.ItemFilter{Search: "projector"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, lending.ItemID("b"), items[0].ID, "newest first")

	items, err = m.ListItems(ctx, lending.ItemFilter{Category: "sport"})
	require.NoError(t, err)
	require.Len(t, items, 1)

	for i, st := range []lending.Status{lending.StatusPending, lending.StatusApproved, lending.StatusBorrowed} {
		require.NoError(t, m.InsertRequest(ctx, lending.BorrowRequest{
			ID: lending.RequestID(string(rune('x' + i))), ItemID: "a", StudentID: "s1", Status: st, CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}
	n, err := m.CountRequests(ctx, lending.RequestFilter{Statuses: []lending.Status{lending.StatusApproved, lending.StatusBorrowed}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	reqs, err := m.ListRequests(ctx, lending.RequestFilter{StudentID: "s1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, lending.StatusBorrowed, reqs[0].Status)
}

func TestMemory_MarkNotificationReadOwnerOnly(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertNotification(ctx, lending.Notification{ID: "n1", UserID: "s1", CreatedAt: t0}))

	assert.ErrorIs(t, m.MarkNotificationRead(ctx, "n1", "s2"), lending.ErrNotFound)
	require.NoError(t, m.MarkNotificationRead(ctx, "n1", "s1"))

	unread, err := m.ListNotifications(ctx, lending.NotificationFilter{UserID: "s1", UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread)
}
