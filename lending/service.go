/*
service.go - Borrow request lifecycle

PURPOSE:
  Handles the full lifecycle of a borrow request:
  1. Creation:  A student asks for a quantity of one item (pending)
  2. Approval:  Staff reserve stock against it (approved)
  3. Loan:      Staff hand the item out (borrowed)
  4. Return:    Staff take it back, the fine is computed (returned)
  Pending requests may instead be rejected.

REQUEST FLOW:
  ┌───────────────────────────────────────────────────────────────────┐
  │                                                                   │
  │  Caller ──▶ re-read row ──▶ Transition ──▶ primary write (tx) ──▶ │
  │                              │              status CAS +          │
  │                              ▼              quantity CAS          │
  │                     InvalidTransition                             │
  │                                                                   │
  │  ──▶ secondary effects: history row, fine balance, notification   │
  │      (failures go to the WarningSink, never to the caller)        │
  │                                                                   │
  └───────────────────────────────────────────────────────────────────┘

PRIMARY vs SECONDARY:
  The status update and the stock update commit together in one WithTx
  call, each guarded by the value that was read. Anything that fails there
  aborts the operation with nothing applied.
  History rows, notifications and the fine-balance increment run after the
  commit. Their failures are reported as Warnings and the transition is
  still reported successful.

EXAMPLE:
  svc := lending.NewService(store, lending.NewStoreNotifier(store), warnings)

  req, err := svc.CreateRequest(ctx, student, lending.NewRequest{ItemID: "proj-1", Quantity: 2})
  _, err = svc.Approve(ctx, staff, req.ID)
  _, err = svc.StartLoan(ctx, staff, req.ID, 7)
  res, err := svc.MarkReturned(ctx, staff, req.ID)   // res.Fine

SEE ALSO:
  - state.go: Transition table
  - reconciler.go: Stock bookkeeping
  - warnings.go: Secondary-effect failures
*/
package lending

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultLoanDays is used when startLoan is given no duration and the
// student picked no return date.
const DefaultLoanDays = 7

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store      TxStore
	Reconciler *Reconciler
	Notifier   Notifier
	Warnings   WarningSink

	FinePerDay Money
	LoanDays   int
	Now        func() time.Time
}

// NewService wires a Service with default fine rate and loan length.
func NewService(store TxStore, notifier Notifier, warnings WarningSink) *Service {
	if warnings == nil {
		warnings = NopWarnings{}
	}
	s := &Service{
		Store:      store,
		Reconciler: NewReconciler(),
		Notifier:   notifier,
		Warnings:   warnings,
		FinePerDay: DefaultFinePerDay,
		LoanDays:   DefaultLoanDays,
		Now:        time.Now,
	}
	s.Reconciler.Now = s.now
	return s
}

func (s *Service) now() time.Time { return s.Now().UTC() }

// =============================================================================
// CALLER CHECKS
// =============================================================================

func requireCaller(caller Identity) error {
	if !caller.Authenticated() {
		return ErrUnauthorized
	}
	return nil
}

func requireStaff(caller Identity) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	if !caller.Role.IsStaff() {
		return fmt.Errorf("%w: staff role required", ErrForbidden)
	}
	return nil
}

func requireBorrower(caller Identity) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	if !caller.Role.CanBorrow() {
		return fmt.Errorf("%w: account is %s", ErrForbidden, caller.Role)
	}
	return nil
}

// requireOwnerOrStaff lets students see their own rows and staff see all.
func requireOwnerOrStaff(caller Identity, owner UserID) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	if caller.Role.IsStaff() || caller.UserID == owner {
		return nil
	}
	return fmt.Errorf("%w: not your record", ErrForbidden)
}

// =============================================================================
// CREATE
// =============================================================================

// NewRequest is what a student submits.
type NewRequest struct {
	ItemID     ItemID
	Quantity   int
	BorrowDate *time.Time
	ReturnDate *time.Time
	Notes      string
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func validateNewRequest(in NewRequest, now time.Time) error {
	if in.ItemID == "" {
		return invalid(CodeItemRequired, "item_id", "an item is required")
	}
	if in.Quantity <= 0 {
		return invalid(CodeInvalidQuantity, "quantity", "quantity must be at least 1, got %d", in.Quantity)
	}
	if in.BorrowDate != nil && in.ReturnDate != nil && in.BorrowDate.After(*in.ReturnDate) {
		return invalid(CodeInvalidPeriod, "borrow_date", "borrow date %s is after return date %s",
			in.BorrowDate.Format(time.DateOnly), in.ReturnDate.Format(time.DateOnly))
	}
	if in.ReturnDate != nil && startOfDay(*in.ReturnDate).Before(startOfDay(now)) {
		return invalid(CodeReturnDatePast, "return_date", "return date %s is in the past",
			in.ReturnDate.Format(time.DateOnly))
	}
	return nil
}

// CreateRequest files a pending request owned by the caller.
// Stock is checked but not reserved; reservation happens at approval.
func (s *Service) CreateRequest(ctx context.Context, caller Identity, in NewRequest) (*BorrowRequest, error) {
	if err := requireBorrower(caller); err != nil {
		return nil, err
	}
	now := s.now()
	if err := validateNewRequest(in, now); err != nil {
		return nil, err
	}

	item, err := s.Store.GetItem(ctx, in.ItemID)
	if err != nil {
		return nil, err
	}
	if in.Quantity > item.QuantityAvailable {
		return nil, invalid(CodeInsufficientStock, "quantity",
			"only %d of %s available, %d requested", item.QuantityAvailable, item.Name, in.Quantity)
	}

	req := BorrowRequest{
		ID:                RequestID(uuid.NewString()),
		StudentID:         caller.UserID,
		ItemID:            in.ItemID,
		QuantityRequested: in.Quantity,
		Status:            StatusPending,
		BorrowDate:        in.BorrowDate,
		ReturnDate:        in.ReturnDate,
		Notes:             strings.TrimSpace(in.Notes),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.Store.InsertRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to record borrow request: %w", err)
	}
	return &req, nil
}

// CreateRequests files several requests at once (one per item).
// Everything is validated before anything is written; if an insert fails
// midway the requests already filed are returned with the error.
func (s *Service) CreateRequests(ctx context.Context, caller Identity, ins []NewRequest) ([]BorrowRequest, error) {
	if err := requireBorrower(caller); err != nil {
		return nil, err
	}
	if len(ins) == 0 {
		return nil, invalid(CodeItemRequired, "items", "at least one item is required")
	}
	now := s.now()

	wanted := make(map[ItemID]int)
	for _, in := range ins {
		if err := validateNewRequest(in, now); err != nil {
			return nil, err
		}
		wanted[in.ItemID] += in.Quantity
	}
	for itemID, qty := range wanted {
		item, err := s.Store.GetItem(ctx, itemID)
		if err != nil {
			return nil, err
		}
		if qty > item.QuantityAvailable {
			return nil, invalid(CodeInsufficientStock, "quantity",
				"only %d of %s available, %d requested", item.QuantityAvailable, item.Name, qty)
		}
	}

	created := make([]BorrowRequest, 0, len(ins))
	for _, in := range ins {
		req, err := s.CreateRequest(ctx, caller, in)
		if err != nil {
			return created, err
		}
		created = append(created, *req)
	}
	return created, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// transit re-reads the request inside a transaction, applies ev, lets mutate
// change the row (and stock), and writes it back guarded by the status read.
func (s *Service) transit(
	ctx context.Context,
	id RequestID,
	ev Event,
	mutate func(tx Store, r *BorrowRequest) error,
) (BorrowRequest, error) {
	var out BorrowRequest
	err := s.Store.WithTx(ctx, func(tx Store) error {
		r, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		next, err := r.Next(ev)
		if err != nil {
			return err
		}
		prev := r.Status
		r.Status = next
		r.UpdatedAt = s.now()
		if mutate != nil {
			if err := mutate(tx, r); err != nil {
				return err
			}
		}
		if err := tx.UpdateRequest(ctx, *r, prev); err != nil {
			return fmt.Errorf("failed to update request %s: %w", id, err)
		}
		out = *r
		return nil
	})
	return out, err
}

// Approve reserves stock for a pending request.
func (s *Service) Approve(ctx context.Context, caller Identity, id RequestID) (*BorrowRequest, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}

	var adj Adjustment
	req, err := s.transit(ctx, id, EventApprove, func(tx Store, r *BorrowRequest) error {
		r.ApprovedBy = caller.UserID
		if r.BorrowDate == nil {
			now := s.now()
			r.BorrowDate = &now
		}
		var err error
		adj, err = s.Reconciler.Reserve(ctx, tx, r.ItemID, r.QuantityRequested)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.clampWarning(ctx, "approve", req, adj)
	s.notify(ctx, "approve", approvalNotice(req, s.itemName(ctx, req.ItemID)))
	return &req, nil
}

// Reject closes a pending request. Nothing was reserved, so stock is untouched.
func (s *Service) Reject(ctx context.Context, caller Identity, id RequestID, reason string) (*BorrowRequest, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)

	req, err := s.transit(ctx, id, EventReject, func(_ Store, r *BorrowRequest) error {
		r.Notes = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, "reject", rejectionNotice(req, s.itemName(ctx, req.ItemID), reason))
	return &req, nil
}

// StartLoan marks the physical handoff of an approved request.
// Dates the student chose are kept; otherwise the loan runs from now for
// expectedDays (the service default when expectedDays <= 0).
func (s *Service) StartLoan(ctx context.Context, caller Identity, id RequestID, expectedDays int) (*BorrowRequest, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	if expectedDays <= 0 {
		expectedDays = s.LoanDays
	}

	req, err := s.transit(ctx, id, EventStartLoan, func(_ Store, r *BorrowRequest) error {
		now := s.now()
		if r.BorrowDate == nil {
			r.BorrowDate = &now
		}
		if r.ReturnDate == nil {
			due := now.AddDate(0, 0, expectedDays)
			r.ReturnDate = &due
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.appendHistory(ctx, "start_loan", HistoryRecord{
		RequestID:  req.ID,
		StudentID:  req.StudentID,
		ItemID:     req.ItemID,
		Quantity:   req.QuantityRequested,
		BorrowDate: *req.BorrowDate,
		Status:     HistoryBorrowed,
	})
	s.notify(ctx, "start_loan", loanStartedNotice(req, s.itemName(ctx, req.ItemID)))
	return &req, nil
}

// ReturnResult is the outcome of MarkReturned.
type ReturnResult struct {
	Request  BorrowRequest
	Fine     Money
	DaysLate int
}

// MarkReturned closes a loan, puts the units back and charges any late fee.
func (s *Service) MarkReturned(ctx context.Context, caller Identity, id RequestID) (*ReturnResult, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}

	var adj Adjustment
	var daysLate int
	req, err := s.transit(ctx, id, EventReturn, func(tx Store, r *BorrowRequest) error {
		now := s.now()
		r.ActualReturnDate = &now
		daysLate = DaysLate(r.ReturnDate, now)
		r.Fine = Fine(r.ReturnDate, now, s.FinePerDay)
		var err error
		adj, err = s.Reconciler.Release(ctx, tx, r.ItemID, r.QuantityRequested)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.clampWarning(ctx, "return", req, adj)

	borrowed := *req.ActualReturnDate
	if req.BorrowDate != nil {
		borrowed = *req.BorrowDate
	}
	s.appendHistory(ctx, "return", HistoryRecord{
		RequestID:  req.ID,
		StudentID:  req.StudentID,
		ItemID:     req.ItemID,
		Quantity:   req.QuantityRequested,
		BorrowDate: borrowed,
		ReturnDate: req.ActualReturnDate,
		Status:     HistoryReturned,
		Fine:       req.Fine,
	})

	if req.Fine > 0 {
		if _, err := s.Store.AddFine(ctx, req.StudentID, req.Fine); err != nil {
			s.Warnings.Warn(ctx, Warning{
				Op: "return", Effect: EffectFineBalance,
				RequestID: req.ID, UserID: req.StudentID,
				Detail: fmt.Sprintf("fine of %d not added", req.Fine),
				Err:    err, At: s.now(),
			})
		}
	}

	s.notify(ctx, "return", returnNotice(req, s.itemName(ctx, req.ItemID), daysLate))
	return &ReturnResult{Request: req, Fine: req.Fine, DaysLate: daysLate}, nil
}

// =============================================================================
// READS
// =============================================================================

// GetRequest returns one request to its owner or to staff.
func (s *Service) GetRequest(ctx context.Context, caller Identity, id RequestID) (*BorrowRequest, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	r, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOrStaff(caller, r.StudentID); err != nil {
		return nil, err
	}
	return r, nil
}

// ListRequests lists requests; students only ever see their own.
func (s *Service) ListRequests(ctx context.Context, caller Identity, filter RequestFilter) ([]BorrowRequest, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if !caller.Role.IsStaff() {
		filter.StudentID = caller.UserID
	}
	return s.Store.ListRequests(ctx, filter)
}

// =============================================================================
// SIDE EFFECTS
// =============================================================================

func (s *Service) itemName(ctx context.Context, id ItemID) string {
	item, err := s.Store.GetItem(ctx, id)
	if err != nil {
		return "the item"
	}
	return item.Name
}

func (s *Service) notify(ctx context.Context, op string, n Notification) {
	if s.Notifier == nil {
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if err := s.Notifier.Notify(ctx, n); err != nil {
		s.Warnings.Warn(ctx, Warning{
			Op: op, Effect: EffectNotification,
			RequestID: n.RelatedRequestID, ItemID: n.RelatedItemID, UserID: n.UserID,
			Detail: n.Title, Err: err, At: s.now(),
		})
	}
}

func (s *Service) appendHistory(ctx context.Context, op string, rec HistoryRecord) {
	rec.ID = HistoryID(uuid.NewString())
	rec.CreatedAt = s.now()
	if err := s.Store.AppendHistory(ctx, rec); err != nil {
		s.Warnings.Warn(ctx, Warning{
			Op: op, Effect: EffectHistory,
			RequestID: rec.RequestID, ItemID: rec.ItemID, UserID: rec.StudentID,
			Detail: fmt.Sprintf("%s history row not written", rec.Status),
			Err:    err, At: s.now(),
		})
	}
}

func (s *Service) clampWarning(ctx context.Context, op string, r BorrowRequest, adj Adjustment) {
	if !adj.Clamped {
		return
	}
	s.Warnings.Warn(ctx, Warning{
		Op: op, Effect: EffectClamp,
		RequestID: r.ID, ItemID: adj.ItemID,
		Detail: fmt.Sprintf("available clamped to %d (was %d, moving %d)", adj.After, adj.Before, r.QuantityRequested),
		At:     s.now(),
	})
}
