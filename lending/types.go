/*
Package lending provides the borrow/return engine for the school inventory.

PURPOSE:
  This package owns the borrow-request lifecycle and the inventory quantity
  reconciliation that travels with it. Every state change on a request goes
  through one transition table, every unit that leaves the shelf is reserved
  by the Reconciler, and every late return is priced by the fine calculator.

KEY CONCEPTS IN THIS FILE (types.go):
  - InventoryItem: Something on the shelf with a total and available quantity
  - BorrowRequest: A student's ask for a quantity of one item
  - HistoryRecord: Append-only loan audit row
  - Profile: A user with a role and a fine balance
  - PaymentRequest: A recorded ask to settle part of a fine balance
  - Identity: The caller of every operation (never read from ambient state)

CENTRAL INVARIANT:
  item.QuantityAvailable = item.QuantityTotal
      - sum(QuantityRequested of requests in {approved, borrowed})
  and 0 <= QuantityAvailable <= QuantityTotal at all times.

SEE ALSO:
  - state.go: Status enumeration and transition table
  - service.go: Lifecycle operations
  - reconciler.go: Quantity bookkeeping
  - store.go: Datastore contract
*/
package lending

import "time"

// =============================================================================
// MONEY
// =============================================================================

// Money is a whole-rupiah amount.
type Money int64

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID string
type RequestID string
type UserID string
type HistoryID string
type PaymentID string
type NotificationID string

// =============================================================================
// IDENTITY & ROLES
// =============================================================================

type Role string

const (
	RoleStudent  Role = "student"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
	RolePending  Role = "pending"
	RoleRejected Role = "rejected"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleStaff, RoleAdmin, RolePending, RoleRejected:
		return true
	}
	return false
}

// IsStaff reports whether the role may run admin-only operations.
func (r Role) IsStaff() bool { return r == RoleStaff || r == RoleAdmin }

// CanBorrow reports whether the role may file borrow requests.
// Accounts still waiting for approval (or rejected) cannot.
func (r Role) CanBorrow() bool { return r == RoleStudent || r.IsStaff() }

// Identity is the authenticated caller of an operation.
// It is passed explicitly into every operation.
type Identity struct {
	UserID UserID
	Role   Role
}

func (id Identity) Authenticated() bool { return id.UserID != "" }

// =============================================================================
// INVENTORY ITEM
// =============================================================================

type InventoryItem struct {
	ID                ItemID
	Name              string
	Category          string
	Description       string
	QuantityTotal     int
	QuantityAvailable int
	Location          string
	CreatedBy         UserID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Borrowed is the number of units currently out (reserved or on loan).
func (i InventoryItem) Borrowed() int { return i.QuantityTotal - i.QuantityAvailable }

// =============================================================================
// BORROW REQUEST
// =============================================================================

type BorrowRequest struct {
	ID                RequestID
	StudentID         UserID
	ItemID            ItemID
	QuantityRequested int
	Status            Status

	// Loan window. BorrowDate and ReturnDate may be chosen by the student
	// at creation time; otherwise they are filled in by approve/startLoan.
	BorrowDate       *time.Time
	ReturnDate       *time.Time // expected
	ActualReturnDate *time.Time

	ApprovedBy UserID
	Notes      string
	Fine       Money // charged at return

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HoldsStock reports whether the request currently has units reserved.
func (r BorrowRequest) HoldsStock() bool { return r.Status.HoldsStock() }

// Next returns the status r moves to on ev, or a *TransitionError
// carrying the request ID.
func (r BorrowRequest) Next(ev Event) (Status, error) {
	next, err := Transition(r.Status, ev)
	if err != nil {
		err.(*TransitionError).RequestID = r.ID
		return r.Status, err
	}
	return next, nil
}

// =============================================================================
// BORROW HISTORY (append-only)
// =============================================================================

type HistoryStatus string

const (
	HistoryBorrowed HistoryStatus = "borrowed"
	HistoryReturned HistoryStatus = "returned"
)

// HistoryRecord is an immutable loan audit entry.
// One is written when a loan starts (ReturnDate nil) and another when it ends.
type HistoryRecord struct {
	ID         HistoryID
	RequestID  RequestID
	StudentID  UserID
	ItemID     ItemID
	Quantity   int
	BorrowDate time.Time
	ReturnDate *time.Time
	Status     HistoryStatus
	Fine       Money
	CreatedAt  time.Time
}

// =============================================================================
// PROFILE
// =============================================================================

type Profile struct {
	ID            UserID
	FullName      string
	Email         string
	StudentNumber string
	Role          Role
	FineBalance   Money
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// =============================================================================
// PAYMENT REQUEST
// =============================================================================

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
)

// PaymentRequest records a student's claim to have paid part of their fine.
// A staff member approves it by hand; nothing here moves real money.
type PaymentRequest struct {
	ID         PaymentID
	UserID     UserID
	Amount     Money
	Status     PaymentStatus
	ReviewedBy UserID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// =============================================================================
// NOTIFICATION
// =============================================================================

type NotificationKind string

const (
	KindApproval  NotificationKind = "approval"
	KindRejection NotificationKind = "rejection"
	KindReminder  NotificationKind = "reminder"
	KindAlert     NotificationKind = "alert"
)

type Notification struct {
	ID               NotificationID
	UserID           UserID
	Title            string
	Message          string
	Kind             NotificationKind
	RelatedItemID    ItemID
	RelatedRequestID RequestID
	IsRead           bool
	CreatedAt        time.Time
}

// =============================================================================
// QUERY FILTERS
// =============================================================================

// ItemFilter narrows ListItems. Results are ordered newest first.
type ItemFilter struct {
	Category string
	Search   string // matched against name and description
	Limit    int
}

// RequestFilter narrows ListRequests/CountRequests. Results are ordered newest first.
type RequestFilter struct {
	StudentID UserID
	ItemID    ItemID
	Statuses  []Status
	Limit     int
}

// HistoryFilter narrows ListHistory. Results are ordered by borrow date, newest first.
type HistoryFilter struct {
	RequestID  RequestID
	StudentID  UserID
	ItemID     ItemID
	Status     HistoryStatus
	ActiveOnly bool // ReturnDate IS NULL
	Limit      int
}

// ProfileFilter narrows ListProfiles. WithFines orders by balance, largest first;
// otherwise oldest first.
type ProfileFilter struct {
	Role      Role
	WithFines bool
	Limit     int
}

type PaymentFilter struct {
	UserID UserID
	Status PaymentStatus
	Limit  int
}

type NotificationFilter struct {
	UserID     UserID
	UnreadOnly bool
	Limit      int
}
