package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/borrow-ledger/lending"
)

func TestReminderScheduler_RunNow(t *testing.T) {
	// GIVEN: One overdue loan and one item whose availability drifted
	// WHEN: A pass runs
	// THEN: One reminder goes out and the drift is counted, not repaired

	ts := newTestServer(t)
	ctx := context.Background()

	proj, err := ts.svc.CreateItem(ctx, staffID, lending.NewItem{Name: "Projector", QuantityTotal: 3})
	require.NoError(t, err)
	cable, err := ts.svc.CreateItem(ctx, staffID, lending.NewItem{Name: "Cable", QuantityTotal: 3})
	require.NoError(t, err)

	req, err := ts.svc.CreateRequest(ctx, studentID, lending.NewRequest{ItemID: proj.ID, Quantity: 1})
	require.NoError(t, err)
	_, err = ts.svc.Approve(ctx, staffID, req.ID)
	require.NoError(t, err)
	_, err = ts.svc.StartLoan(ctx, staffID, req.ID, 1)
	require.NoError(t, err)

	current, err := ts.mem.GetItem(ctx, cable.ID)
	require.NoError(t, err)
	current.QuantityAvailable = 2
	require.NoError(t, ts.mem.UpdateItem(ctx, *current, 3))

	ts.now = ts.now.Add(48 * time.Hour)
	rs := NewReminderScheduler(ts.svc, nil)
	report := rs.RunNow(ctx)

	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.Reminders)
	assert.Equal(t, 1, report.Drifts)
	assert.Equal(t, report, rs.LastRun())

	again, err := ts.mem.GetItem(ctx, cable.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.QuantityAvailable)
}

func TestReminderScheduler_StartStop(t *testing.T) {
	ts := newTestServer(t)
	rs := NewReminderScheduler(ts.svc, nil)
	rs.CheckInterval = time.Hour

	rs.Start()
	require.Eventually(t, func() bool { return !rs.LastRun().At.IsZero() }, time.Second, 10*time.Millisecond)
	rs.Stop()
	rs.Stop() // second stop is a no-op
}

func TestReminderScheduler_Disabled(t *testing.T) {
	ts := newTestServer(t)
	rs := NewReminderScheduler(ts.svc, nil)
	rs.CheckInterval = 0

	rs.Start()
	rs.Stop()
	assert.True(t, rs.LastRun().At.IsZero())
}
