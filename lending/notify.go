package lending

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DueDateLayout is how due dates appear in notification text.
const DueDateLayout = "02 Jan 2006"

// Notifier delivers a notification to a user. Delivery is fire-and-forget:
// the engine reports failures to its WarningSink and carries on.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// StoreNotifier inserts notifications into the notifications table.
type StoreNotifier struct {
	Store NotificationStore
	Now   func() time.Time
}

func NewStoreNotifier(store NotificationStore) *StoreNotifier {
	return &StoreNotifier{Store: store, Now: time.Now}
}

func (sn *StoreNotifier) Notify(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = NotificationID(uuid.NewString())
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = sn.Now().UTC()
	}
	return sn.Store.InsertNotification(ctx, n)
}

// =============================================================================
// MESSAGES
// =============================================================================

func approvalNotice(r BorrowRequest, itemName string) Notification {
	return Notification{
		UserID:           r.StudentID,
		Title:            "Request Approved",
		Message:          fmt.Sprintf("Your request for %s has been approved. You can now collect the item.", itemName),
		Kind:             KindApproval,
		RelatedItemID:    r.ItemID,
		RelatedRequestID: r.ID,
	}
}

func rejectionNotice(r BorrowRequest, itemName, reason string) Notification {
	if reason == "" {
		reason = "No reason provided"
	}
	return Notification{
		UserID:           r.StudentID,
		Title:            "Request Rejected",
		Message:          fmt.Sprintf("Your request for %s has been rejected. Reason: %s", itemName, reason),
		Kind:             KindRejection,
		RelatedItemID:    r.ItemID,
		RelatedRequestID: r.ID,
	}
}

func loanStartedNotice(r BorrowRequest, itemName string) Notification {
	due := "no due date"
	if r.ReturnDate != nil {
		due = r.ReturnDate.Format(DueDateLayout)
	}
	return Notification{
		UserID:           r.StudentID,
		Title:            "Loan Started",
		Message:          fmt.Sprintf("You have borrowed %d x %s. Please return it by %s.", r.QuantityRequested, itemName, due),
		Kind:             KindReminder,
		RelatedItemID:    r.ItemID,
		RelatedRequestID: r.ID,
	}
}

func returnNotice(r BorrowRequest, itemName string, daysLate int) Notification {
	msg := fmt.Sprintf("Thank you for returning %s on time. No fine was charged.", itemName)
	kind := KindApproval
	if r.Fine > 0 {
		msg = fmt.Sprintf("You returned %s %d day(s) late. A fine of Rp %d has been added to your balance.", itemName, daysLate, r.Fine)
		kind = KindAlert
	}
	return Notification{
		UserID:           r.StudentID,
		Title:            "Item Returned",
		Message:          msg,
		Kind:             kind,
		RelatedItemID:    r.ItemID,
		RelatedRequestID: r.ID,
	}
}

func dueSoonNotice(r BorrowRequest, itemName string) Notification {
	return Notification{
		UserID:           r.StudentID,
		Title:            "Return Reminder",
		Message:          fmt.Sprintf("%s is due back tomorrow (%s).", itemName, r.ReturnDate.Format(DueDateLayout)),
		Kind:             KindReminder,
		RelatedItemID:    r.ItemID,
		RelatedRequestID: r.ID,
	}
}

func overdueNotice(r BorrowRequest, itemName string, daysLate int, fine Money) Notification {
	return Notification{
		UserID:           r.StudentID,
		Title:            "Item Overdue",
		Message:          fmt.Sprintf("%s is %d day(s) overdue. Fine so far: Rp %d. Please return it as soon as possible.", itemName, daysLate, fine),
		Kind:             KindAlert,
		RelatedItemID:    r.ItemID,
		RelatedRequestID: r.ID,
	}
}

func accountApprovedNotice(id UserID) Notification {
	return Notification{
		UserID:  id,
		Title:   "Account Approved",
		Message: "Your account has been approved. You can now borrow items.",
		Kind:    KindApproval,
	}
}

func paymentReviewedNotice(p PaymentRequest) Notification {
	n := Notification{UserID: p.UserID, Title: "Payment Approved", Kind: KindApproval,
		Message: fmt.Sprintf("Your payment of Rp %d has been approved.", p.Amount)}
	if p.Status == PaymentRejected {
		n.Title = "Payment Rejected"
		n.Kind = KindRejection
		n.Message = fmt.Sprintf("Your payment of Rp %d was not accepted. Please contact staff.", p.Amount)
	}
	return n
}
