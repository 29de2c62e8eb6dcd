package lending_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/borrow-ledger/lending"
)

func (f *fixture) lend(t *testing.T, who lending.Identity, item lending.ItemID, qty, days int) *lending.BorrowRequest {
	t.Helper()
	ctx := context.Background()
	req := f.request(t, who, item, qty)
	_, err := f.svc.Approve(ctx, staff, req.ID)
	require.NoError(t, err)
	loan, err := f.svc.StartLoan(ctx, staff, req.ID, days)
	require.NoError(t, err)
	return loan
}

func TestReminders_DueSoonAndOverdue(t *testing.T) {
	// GIVEN: One loan due in a day, one two days overdue, one due next week
	// WHEN: The reminder pass runs
	// THEN: Two notices go out and nothing about the loans changes

	f := newFixture(t)
	ctx := context.Background()
	proj := f.item(t, "Projector", 5)
	cable := f.item(t, "Cable", 5)
	tripod := f.item(t, "Tripod", 5)

	overdue := f.lend(t, student, proj.ID, 1, 1)
	f.clock.Advance(3 * 24 * time.Hour)
	f.lend(t, other, cable.ID, 1, 1)
	f.lend(t, other, tripod.ID, 1, 7)

	sent, err := f.svc.SendReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	notes, err := f.svc.ListNotifications(ctx, student, true, 0)
	require.NoError(t, err)
	require.NotEmpty(t, notes)
	assert.Equal(t, "Item Overdue", notes[0].Title)
	assert.Equal(t, lending.KindAlert, notes[0].Kind)
	assert.Contains(t, notes[0].Message, "2 day(s)")
	assert.Contains(t, notes[0].Message, "Rp 10000")

	notes, err = f.svc.ListNotifications(ctx, other, true, 0)
	require.NoError(t, err)
	require.NotEmpty(t, notes)
	titles := make([]string, 0, len(notes))
	for _, n := range notes {
		titles = append(titles, n.Title)
	}
	assert.Contains(t, titles, "Return Reminder")

	after, err := f.svc.GetRequest(ctx, staff, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, lending.StatusBorrowed, after.Status)
	assert.Zero(t, after.Fine, "reminders never charge")
}

func TestReminders_MarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proj := f.item(t, "Projector", 1)
	req := f.request(t, student, proj.ID, 1)
	_, err := f.svc.Approve(ctx, staff, req.ID)
	require.NoError(t, err)

	unread, err := f.svc.ListNotifications(ctx, student, true, 0)
	require.NoError(t, err)
	require.Len(t, unread, 1)

	err = f.svc.MarkNotificationRead(ctx, other, unread[0].ID)
	assert.ErrorIs(t, err, lending.ErrNotFound, "someone else's notification is invisible")

	require.NoError(t, f.svc.MarkNotificationRead(ctx, student, unread[0].ID))
	unread, err = f.svc.ListNotifications(ctx, student, true, 0)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestAnalytics_Summary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, err := f.svc.Summary(ctx, staff)
	require.NoError(t, err)
	assert.Nil(t, empty.MostBorrowed)
	assert.Equal(t, 2, empty.TotalStudents)

	proj := f.item(t, "Projector", 5)
	cable := f.item(t, "Cable", 5)
	first := f.lend(t, student, proj.ID, 1, 7)
	f.lend(t, other, proj.ID, 1, 7)
	f.lend(t, student, cable.ID, 1, 7)
	f.request(t, other, cable.ID, 1)
	_, err = f.svc.MarkReturned(ctx, staff, first.ID)
	require.NoError(t, err)

	sum, err := f.svc.Summary(ctx, staff)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalItems)
	assert.Equal(t, 4, sum.TotalRequests)
	assert.Equal(t, 2, sum.ActiveLoans)
	require.NotNil(t, sum.MostBorrowed)
	assert.Equal(t, "Projector", sum.MostBorrowed.Name)
	assert.Equal(t, 2, sum.MostBorrowed.Loans)
	assert.Len(t, sum.Recent, 4, "three opening rows and one closing row")

	_, err = f.svc.Summary(ctx, student)
	assert.ErrorIs(t, err, lending.ErrForbidden)
}
