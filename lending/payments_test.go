package lending_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/borrow-ledger/lending"
)

func (f *fixture) owe(t *testing.T, who lending.UserID, amount lending.Money) {
	t.Helper()
	_, err := f.mem.AddFine(context.Background(), who, amount)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, who lending.UserID) lending.Money {
	t.Helper()
	p, err := f.mem.GetProfile(context.Background(), who)
	require.NoError(t, err)
	return p.FineBalance
}

func TestPayments_SubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.owe(t, student.UserID, 15000)

	_, err := f.svc.SubmitPayment(ctx, student, 0)
	assert.Equal(t, lending.CodeInvalidAmount, validationCode(t, err))

	_, err = f.svc.SubmitPayment(ctx, student, 20000)
	assert.Equal(t, lending.CodeExceedsBalance, validationCode(t, err))

	p, err := f.svc.SubmitPayment(ctx, student, 10000)
	require.NoError(t, err)
	assert.Equal(t, lending.PaymentPending, p.Status)
	assert.Equal(t, lending.Money(15000), f.balance(t, student.UserID), "submitting changes nothing")
}

func TestPayments_ApproveReducesBalance(t *testing.T) {
	// GIVEN: A student owing 15000 who claims to have paid 10000
	// WHEN: Staff approve the payment
	// THEN: The balance drops to 5000, a second review is refused,
	//       and the student is told

	f := newFixture(t)
	ctx := context.Background()
	f.owe(t, student.UserID, 15000)
	p, err := f.svc.SubmitPayment(ctx, student, 10000)
	require.NoError(t, err)

	_, err = f.svc.ApprovePayment(ctx, student, p.ID)
	assert.ErrorIs(t, err, lending.ErrForbidden)

	approved, err := f.svc.ApprovePayment(ctx, staff, p.ID)
	require.NoError(t, err)
	assert.Equal(t, lending.PaymentApproved, approved.Status)
	assert.Equal(t, staff.UserID, approved.ReviewedBy)
	assert.Equal(t, lending.Money(5000), f.balance(t, student.UserID))

	_, err = f.svc.ApprovePayment(ctx, staff, p.ID)
	assert.ErrorIs(t, err, lending.ErrInvalidTransition)
	_, err = f.svc.RejectPayment(ctx, staff, p.ID)
	assert.ErrorIs(t, err, lending.ErrInvalidTransition)
	assert.Equal(t, lending.Money(5000), f.balance(t, student.UserID))

	notes, err := f.svc.ListNotifications(ctx, student, false, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Payment Approved", notes[0].Title)
}

func TestPayments_ApproveNeverGoesNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.owe(t, student.UserID, 10000)
	first, err := f.svc.SubmitPayment(ctx, student, 10000)
	require.NoError(t, err)
	second, err := f.svc.SubmitPayment(ctx, student, 10000)
	require.NoError(t, err)

	_, err = f.svc.ApprovePayment(ctx, staff, first.ID)
	require.NoError(t, err)
	_, err = f.svc.ApprovePayment(ctx, staff, second.ID)
	require.NoError(t, err)
	assert.Equal(t, lending.Money(0), f.balance(t, student.UserID))
}

func TestPayments_RejectKeepsBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.owe(t, student.UserID, 15000)
	p, err := f.svc.SubmitPayment(ctx, student, 15000)
	require.NoError(t, err)

	rejected, err := f.svc.RejectPayment(ctx, staff, p.ID)
	require.NoError(t, err)
	assert.Equal(t, lending.PaymentRejected, rejected.Status)
	assert.Equal(t, lending.Money(15000), f.balance(t, student.UserID))

	_, err = f.svc.ApprovePayment(ctx, staff, "missing")
	assert.ErrorIs(t, err, lending.ErrNotFound)
}

func TestPayments_ListScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.owe(t, student.UserID, 5000)
	f.owe(t, other.UserID, 5000)
	_, err := f.svc.SubmitPayment(ctx, student, 5000)
	require.NoError(t, err)
	_, err = f.svc.SubmitPayment(ctx, other, 5000)
	require.NoError(t, err)

	mine, err := f.svc.ListPayments(ctx, student, lending.PaymentFilter{UserID: other.UserID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, student.UserID, mine[0].UserID, "students cannot widen the filter")

	all, err := f.svc.ListPayments(ctx, staff, lending.PaymentFilter{Status: lending.PaymentPending})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
