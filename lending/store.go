/*
store.go - Datastore contract for the lending engine

PURPOSE:
  Defines the interface between the lifecycle logic and the database.
  One small interface per table; Store embeds them all and TxStore adds
  atomic multi-table writes.

CONDITIONAL WRITES:
  Rows that take part in the lifecycle are only written if they still look
  the way the caller read them:
  - UpdateRequest(r, expected):   WHERE id = r.ID AND status = expected
  - UpdateItem(i, expectedAvail): WHERE id = i.ID AND quantity_available = expectedAvail
  - UpdatePaymentStatus / UpdateProfileRole: guarded by the previous status/role
  A guard that does not match returns ErrConcurrentModification; a missing
  row returns a NotFoundError.

APPEND-ONLY:
  HistoryStore has no update or delete. Notifications are only ever
  marked read.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - lending/store/memory.go: In-memory for tests and local runs

SEE ALSO:
  - service.go: Uses WithTx for every primary write
*/
package lending

import (
	"context"
	"time"
)

// ItemStore persists inventory items.
type ItemStore interface {
	GetItem(ctx context.Context, id ItemID) (*InventoryItem, error)
	InsertItem(ctx context.Context, item InventoryItem) error

	// UpdateItem writes item if the stored quantity_available still equals
	// expectedAvailable.
	UpdateItem(ctx context.Context, item InventoryItem, expectedAvailable int) error

	// DeleteItem returns ErrReferenced when requests or history point at the item.
	DeleteItem(ctx context.Context, id ItemID) error
	ListItems(ctx context.Context, filter ItemFilter) ([]InventoryItem, error)
}

// RequestStore persists borrow requests.
type RequestStore interface {
	GetRequest(ctx context.Context, id RequestID) (*BorrowRequest, error)
	InsertRequest(ctx context.Context, r BorrowRequest) error

	// UpdateRequest writes r if the stored status still equals expected.
	UpdateRequest(ctx context.Context, r BorrowRequest, expected Status) error
	ListRequests(ctx context.Context, filter RequestFilter) ([]BorrowRequest, error)
	CountRequests(ctx context.Context, filter RequestFilter) (int, error)
}

// HistoryStore is the append-only loan ledger.
type HistoryStore interface {
	AppendHistory(ctx context.Context, rec HistoryRecord) error
	ListHistory(ctx context.Context, filter HistoryFilter) ([]HistoryRecord, error)
}

// ProfileStore persists user profiles and fine balances.
type ProfileStore interface {
	GetProfile(ctx context.Context, id UserID) (*Profile, error)

	// SaveProfile inserts p or updates its descriptive fields.
	// Role and fine balance of an existing profile are left untouched.
	SaveProfile(ctx context.Context, p Profile) error
	UpdateProfileRole(ctx context.Context, id UserID, expected, next Role) error

	// AddFine atomically adds delta (possibly negative) to the balance,
	// flooring at zero, and returns the new balance.
	AddFine(ctx context.Context, id UserID, delta Money) (Money, error)
	ListProfiles(ctx context.Context, filter ProfileFilter) ([]Profile, error)
}

// PaymentStore persists fine payment requests.
type PaymentStore interface {
	InsertPayment(ctx context.Context, p PaymentRequest) error
	GetPayment(ctx context.Context, id PaymentID) (*PaymentRequest, error)
	UpdatePaymentStatus(ctx context.Context, id PaymentID, expected, next PaymentStatus, reviewer UserID, at time.Time) error
	ListPayments(ctx context.Context, filter PaymentFilter) ([]PaymentRequest, error)
}

// NotificationStore persists in-app notifications.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, error)

	// MarkNotificationRead only touches notifications owned by userID.
	MarkNotificationRead(ctx context.Context, id NotificationID, userID UserID) error
}

// Store is the full datastore used by the engine.
type Store interface {
	ItemStore
	RequestStore
	HistoryStore
	ProfileStore
	PaymentStore
	NotificationStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
