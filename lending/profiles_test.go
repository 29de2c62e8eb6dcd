package lending_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/borrow-ledger/lending"
)

func TestProfiles_SignUpReview(t *testing.T) {
	// GIVEN: A fresh sign-up
	// WHEN: Staff approve it
	// THEN: It becomes a student, may borrow, and cannot be reviewed again

	f := newFixture(t)
	ctx := context.Background()
	proj := f.item(t, "Projector", 1)

	p, err := f.svc.RegisterProfile(ctx, lending.NewProfile{ID: "u9", FullName: " Dewi ", Email: "dewi@example.com"})
	require.NoError(t, err)
	assert.Equal(t, lending.RolePending, p.Role)
	assert.Equal(t, "Dewi", p.FullName)

	pending := lending.Identity{UserID: "u9", Role: lending.RolePending}
	_, err = f.svc.CreateRequest(ctx, pending, lending.NewRequest{ItemID: proj.ID, Quantity: 1})
	assert.ErrorIs(t, err, lending.ErrForbidden)

	queue, err := f.svc.ListPendingProfiles(ctx, staff)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, lending.UserID("u9"), queue[0].ID)

	approved, err := f.svc.ApproveUser(ctx, staff, "u9")
	require.NoError(t, err)
	assert.Equal(t, lending.RoleStudent, approved.Role)

	_, err = f.svc.ApproveUser(ctx, staff, "u9")
	assert.Equal(t, lending.CodeInvalidRole, validationCode(t, err))
	_, err = f.svc.RejectUser(ctx, staff, "u9")
	assert.Equal(t, lending.CodeInvalidRole, validationCode(t, err))

	notes, err := f.svc.ListNotifications(ctx, lending.Identity{UserID: "u9", Role: lending.RoleStudent}, true, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Account Approved", notes[0].Title)
}

func TestProfiles_ReregisterKeepsRoleAndBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.owe(t, student.UserID, 5000)

	p, err := f.svc.RegisterProfile(ctx, lending.NewProfile{ID: student.UserID, FullName: "Budi"})
	require.NoError(t, err)
	assert.Equal(t, lending.RoleStudent, p.Role)
	assert.Equal(t, lending.Money(5000), p.FineBalance)
	assert.Equal(t, "Budi", p.FullName)

	_, err = f.svc.RegisterProfile(ctx, lending.NewProfile{})
	assert.ErrorIs(t, err, lending.ErrUnauthorized)
}

func TestProfiles_Access(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetProfile(ctx, student, student.UserID)
	require.NoError(t, err)
	_, err = f.svc.GetProfile(ctx, student, other.UserID)
	assert.ErrorIs(t, err, lending.ErrForbidden)
	_, err = f.svc.GetProfile(ctx, staff, other.UserID)
	require.NoError(t, err)

	_, err = f.svc.ApproveUser(ctx, student, other.UserID)
	assert.ErrorIs(t, err, lending.ErrForbidden)
	_, err = f.svc.ListPendingProfiles(ctx, student)
	assert.ErrorIs(t, err, lending.ErrForbidden)
	_, err = f.svc.ApproveUser(ctx, staff, "ghost")
	assert.ErrorIs(t, err, lending.ErrNotFound)
}

func TestProfiles_RejectAndFinesList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RegisterProfile(ctx, lending.NewProfile{ID: "u9"})
	require.NoError(t, err)

	rejected, err := f.svc.RejectUser(ctx, staff, "u9")
	require.NoError(t, err)
	assert.Equal(t, lending.RoleRejected, rejected.Role)

	f.owe(t, student.UserID, 5000)
	f.owe(t, other.UserID, 20000)
	owing, err := f.svc.ListProfilesWithFines(ctx, staff)
	require.NoError(t, err)
	require.Len(t, owing, 2)
	assert.Equal(t, other.UserID, owing[0].ID, "largest balance first")
}
