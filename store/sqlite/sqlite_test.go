package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/borrow-ledger/lending"
	"github.com/warp/borrow-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var t0 = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func item(id string, total int) lending.InventoryItem {
	return lending.InventoryItem{
		ID: lending.ItemID(id), Name: "Item " + id, Category: "av",
		QuantityTotal: total, QuantityAvailable: total,
		CreatedAt: t0, UpdatedAt: t0,
	}
}

func request(id, itemID string, status lending.Status) lending.BorrowRequest {
	return lending.BorrowRequest{
		ID: lending.RequestID(id), StudentID: "s1", ItemID: lending.ItemID(itemID),
		QuantityRequested: 2, Status: status, CreatedAt: t0, UpdatedAt: t0,
	}
}

// =============================================================================
// ITEMS
// =============================================================================

func TestStore_ItemRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := item("proj", 5)
	in.Description = "Epson, ceiling mount"
	require.NoError(t, store.InsertItem(ctx, in))

	got, err := store.GetItem(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, in.Name, got.Name)
	assert.Equal(t, in.Description, got.Description)
	assert.Equal(t, 5, got.QuantityAvailable)
	assert.True(t, got.CreatedAt.Equal(t0))

	_, err = store.GetItem(ctx, "ghost")
	var nf *lending.NotFoundError
	assert.ErrorAs(t, err, &nf)
	assert.Equal(t, "item", nf.Kind)
}

func TestStore_UpdateItemGuardsAvailable(t *testing.T) {
	// GIVEN: An item with 5 available
	// WHEN: Two writers both read 5 and write
	// THEN: The second write loses with ErrConcurrentModification

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertItem(ctx, item("proj", 5)))

	first := item("proj", 5)
	first.QuantityAvailable = 3
	require.NoError(t, store.UpdateItem(ctx, first, 5))

	second := item("proj", 5)
	second.QuantityAvailable = 4
	err := store.UpdateItem(ctx, second, 5)
	assert.ErrorIs(t, err, lending.ErrConcurrentModification)

	got, _ := store.GetItem(ctx, "proj")
	assert.Equal(t, 3, got.QuantityAvailable)

	err = store.UpdateItem(ctx, item("ghost", 1), 1)
	assert.ErrorIs(t, err, lending.ErrNotFound)
}

func TestStore_AvailableCannotExceedTotal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertItem(ctx, item("proj", 5)))

	bad := item("proj", 5)
	bad.QuantityAvailable = 6
	err := store.UpdateItem(ctx, bad, 5)
	assert.ErrorIs(t, err, lending.ErrDatastore)
}

func TestStore_DeleteReferencedItemIsTranslated(t *testing.T) {
	// GIVEN: An item with a borrow request pointing at it
	// WHEN: Deleting the item
	// THEN: ErrReferenced, not a raw driver error

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertItem(ctx, item("proj", 5)))
	require.NoError(t, store.InsertItem(ctx, item("spare", 1)))
	require.NoError(t, store.InsertRequest(ctx, request("r1", "proj", lending.StatusPending)))

	err := store.DeleteItem(ctx, "proj")
	assert.ErrorIs(t, err, lending.ErrReferenced)

	assert.NoError(t, store.DeleteItem(ctx, "spare"))
	assert.ErrorIs(t, store.DeleteItem(ctx, "spare"), lending.ErrNotFound)
}

func TestStore_ListItemsFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := item("a", 1)
	a.Name = "Projector"
	b := item("b", 1)
	b.Name = "Cable"
	b.Description = "HDMI for the projector"
	b.CreatedAt = t0.Add(time.Hour)
	c := item("c", 1)
	c.Name = "Ball"
	c.Category = "sport"
	c.CreatedAt = t0.Add(2 * time.Hour)
	for _, it := range []lending.InventoryItem{a, b, c} {
		require.NoError(t, store.InsertItem(ctx, it))
	}

	got, err := store.ListItems(ctx, lending.ItemFilter{Search: "projector"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, lending.ItemID("b"), got[0].ID, "newest first")

	got, err = store.ListItems(ctx, lending.ItemFilter{Category: "sport"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ball", got[0].Name)

	got, err = store.ListItems(ctx, lending.ItemFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

// =============================================================================
// REQUESTS
// =============================================================================

func TestStore_RequestDatesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertItem(ctx, item("proj", 5)))

	due := t0.Add(7*24*time.Hour + 123*time.Nanosecond)
	r := request("r1", "proj", lending.StatusPending)
	r.ReturnDate = &due
	require.NoError(t, store.InsertRequest(ctx, r))

	got, err := store.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, got.BorrowDate)
	require.NotNil(t, got.ReturnDate)
	assert.True(t, got.ReturnDate.Equal(due))
	assert.Nil(t, got.ActualReturnDate)
}

func TestStore_InsertRequestForMissingItem(t *testing.T) {
	store := newTestStore(t)
	err := store.InsertRequest(context.Background(), request("r1", "ghost", lending.StatusPending))
	assert.ErrorIs(t, err, lending.ErrNotFound)
}

func TestStore_UpdateRequestGuardsStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertItem(ctx, item("proj", 5)))
	r := request("r1", "proj", lending.StatusPending)
	require.NoError(t, store.InsertRequest(ctx, r))

	r.Status = lending.StatusApproved
	r.ApprovedBy = "staff-1"
	require.NoError(t, store.UpdateRequest(ctx, r, lending.StatusPending))

	r.Status = lending.StatusRejected
	err := store.UpdateRequest(ctx, r, lending.StatusPending)
	assert.ErrorIs(t, err, lending.ErrConcurrentModification)

	got, _ := store.GetRequest(ctx, "r1")
	assert.Equal(t, lending.StatusApproved, got.Status)
	assert.Equal(t, lending.UserID("staff-1"), got.ApprovedBy)
}

func TestStore_ListAndCountRequests(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertItem(ctx, item("proj", 5)))

	for i, st := range []lending.Status{lending.StatusPending, lending.StatusApproved, lending.StatusBorrowed} {
		r := request("r"+string(rune('1'+i)), "proj", st)
		r.CreatedAt = t0.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.InsertRequest(ctx, r))
	}

	n, err := store.CountRequests(ctx, lending.RequestFilter{
		Statuses: []lending.Status{lending.StatusApproved, lending.StatusBorrowed},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.CountRequests(ctx, lending.RequestFilter{ItemID: "proj"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := store.ListRequests(ctx, lending.RequestFilter{StudentID: "s1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, lending.RequestID("r3"), got[0].ID)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTxRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertItem(ctx, item("proj", 5)))
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx lending.Store) error {
		it, err := tx.GetItem(ctx, "proj")
		require.NoError(t, err)
		it.QuantityAvailable = 3
		require.NoError(t, tx.UpdateItem(ctx, *it, 5))
		require.NoError(t, tx.InsertRequest(ctx, request("r1", "proj", lending.StatusApproved)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := store.GetItem(ctx, "proj")
	assert.Equal(t, 5, got.QuantityAvailable)
	_, err = store.GetRequest(ctx, "r1")
	assert.ErrorIs(t, err, lending.ErrNotFound)
}

func TestStore_WithTxCommits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertItem(ctx, item("proj", 5)))

	err := store.WithTx(ctx, func(tx lending.Store) error {
		it, err := tx.GetItem(ctx, "proj")
		if err != nil {
			return err
		}
		it.QuantityAvailable = 3
		return tx.UpdateItem(ctx, *it, 5)
	})
	require.NoError(t, err)

	got, _ := store.GetItem(ctx, "proj")
	assert.Equal(t, 3, got.QuantityAvailable)
}

// =============================================================================
// HISTORY, PROFILES, PAYMENTS, NOTIFICATIONS
// =============================================================================

func TestStore_HistoryActiveFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertItem(ctx, item("proj", 5)))
	require.NoError(t, store.InsertRequest(ctx, request("r1", "proj", lending.StatusReturned)))

	back := t0.Add(48 * time.Hour)
	require.NoError(t, store.AppendHistory(ctx, lending.HistoryRecord{
		ID: "h1", RequestID: "r1", StudentID: "s1", ItemID: "proj", Quantity: 2,
		BorrowDate: t0, Status: lending.HistoryBorrowed, CreatedAt: t0,
	}))
	require.NoError(t, store.AppendHistory(ctx, lending.HistoryRecord{
		ID: "h2", RequestID: "r1", StudentID: "s1", ItemID: "proj", Quantity: 2,
		BorrowDate: t0, ReturnDate: &back, Status: lending.HistoryReturned, Fine: 10000, CreatedAt: back,
	}))

	all, err := store.ListHistory(ctx, lending.HistoryFilter{StudentID: "s1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, lending.HistoryID("h2"), all[0].ID, "same borrow date, newer row first")
	assert.Equal(t, lending.Money(10000), all[0].Fine)

	open, err := store.ListHistory(ctx, lending.HistoryFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Nil(t, open[0].ReturnDate)
}

func TestStore_ProfilesAndFines(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, id := range []lending.UserID{"s1", "s2", "s3"} {
		require.NoError(t, store.SaveProfile(ctx, lending.Profile{
			ID: id, FullName: string(id), Role: lending.RolePending,
			CreatedAt: t0.Add(time.Duration(i) * time.Minute), UpdatedAt: t0,
		}))
	}
	require.NoError(t, store.UpdateProfileRole(ctx, "s1", lending.RolePending, lending.RoleStudent))
	assert.ErrorIs(t, store.UpdateProfileRole(ctx, "s1", lending.RolePending, lending.RoleRejected),
		lending.ErrConcurrentModification)

	bal, err := store.AddFine(ctx, "s1", 15000)
	require.NoError(t, err)
	assert.Equal(t, lending.Money(15000), bal)
	_, err = store.AddFine(ctx, "s2", 5000)
	require.NoError(t, err)

	bal, err = store.AddFine(ctx, "s2", -8000)
	require.NoError(t, err)
	assert.Equal(t, lending.Money(0), bal, "balance floors at zero")

	_, err = store.AddFine(ctx, "ghost", 1)
	assert.ErrorIs(t, err, lending.ErrNotFound)

	// Re-registering keeps role and balance.
	require.NoError(t, store.SaveProfile(ctx, lending.Profile{ID: "s1", FullName: "Siti", Role: lending.RolePending, CreatedAt: t0, UpdatedAt: t0}))
	p, err := store.GetProfile(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Siti", p.FullName)
	assert.Equal(t, lending.RoleStudent, p.Role)
	assert.Equal(t, lending.Money(15000), p.FineBalance)

	owing, err := store.ListProfiles(ctx, lending.ProfileFilter{WithFines: true})
	require.NoError(t, err)
	require.Len(t, owing, 1)
	assert.Equal(t, lending.UserID("s1"), owing[0].ID)

	pending, err := store.ListProfiles(ctx, lending.ProfileFilter{Role: lending.RolePending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, lending.UserID("s2"), pending[0].ID, "oldest first")
}

func TestStore_PaymentStatusGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveProfile(ctx, lending.Profile{ID: "s1", Role: lending.RoleStudent, CreatedAt: t0, UpdatedAt: t0}))

	require.NoError(t, store.InsertPayment(ctx, lending.PaymentRequest{
		ID: "p1", UserID: "s1", Amount: 5000, Status: lending.PaymentPending, CreatedAt: t0, UpdatedAt: t0,
	}))
	require.NoError(t, store.UpdatePaymentStatus(ctx, "p1", lending.PaymentPending, lending.PaymentApproved, "staff-1", t0))
	err := store.UpdatePaymentStatus(ctx, "p1", lending.PaymentPending, lending.PaymentRejected, "staff-2", t0)
	assert.ErrorIs(t, err, lending.ErrConcurrentModification)

	p, err := store.GetPayment(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, lending.PaymentApproved, p.Status)
	assert.Equal(t, lending.UserID("staff-1"), p.ReviewedBy)

	err = store.InsertPayment(ctx, lending.PaymentRequest{ID: "p2", UserID: "ghost", Amount: 1, Status: lending.PaymentPending})
	assert.ErrorIs(t, err, lending.ErrNotFound)
}

func TestStore_Notifications(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertNotification(ctx, lending.Notification{
		ID: "n1", UserID: "s1", Title: "Request Approved", Message: "ok", Kind: lending.KindApproval, CreatedAt: t0,
	}))
	require.NoError(t, store.InsertNotification(ctx, lending.Notification{
		ID: "n2", UserID: "s1", Title: "Item Overdue", Message: "late", Kind: lending.KindAlert, CreatedAt: t0.Add(time.Hour),
	}))

	assert.ErrorIs(t, store.MarkNotificationRead(ctx, "n1", "s2"), lending.ErrNotFound, "not the owner")
	require.NoError(t, store.MarkNotificationRead(ctx, "n1", "s1"))

	unread, err := store.ListNotifications(ctx, lending.NotificationFilter{UserID: "s1", UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, lending.NotificationID("n2"), unread[0].ID)

	all, err := store.ListNotifications(ctx, lending.NotificationFilter{UserID: "s1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[1].IsRead)
}
