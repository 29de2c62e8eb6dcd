package lending

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// FINE PAYMENTS
// =============================================================================
//
// A payment request is only a record: a student says they paid, staff check
// by hand and approve it, and the approved amount comes off the balance.

// SubmitPayment records a claim to have paid amount of the caller's fine.
func (s *Service) SubmitPayment(ctx context.Context, caller Identity, amount Money) (*PaymentRequest, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, invalid(CodeInvalidAmount, "amount", "amount must be positive")
	}

	p, err := s.Store.GetProfile(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if amount > p.FineBalance {
		return nil, invalid(CodeExceedsBalance, "amount",
			"amount Rp %d exceeds outstanding fine Rp %d", amount, p.FineBalance)
	}

	now := s.now()
	pay := PaymentRequest{
		ID:        PaymentID(uuid.NewString()),
		UserID:    caller.UserID,
		Amount:    amount,
		Status:    PaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.InsertPayment(ctx, pay); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	return &pay, nil
}

// ApprovePayment accepts a pending payment and takes its amount off the
// payer's fine balance (never below zero). Both writes commit together.
func (s *Service) ApprovePayment(ctx context.Context, caller Identity, id PaymentID) (*PaymentRequest, error) {
	return s.reviewPayment(ctx, caller, id, PaymentApproved)
}

// RejectPayment declines a pending payment. The balance is untouched.
func (s *Service) RejectPayment(ctx context.Context, caller Identity, id PaymentID) (*PaymentRequest, error) {
	return s.reviewPayment(ctx, caller, id, PaymentRejected)
}

func (s *Service) reviewPayment(ctx context.Context, caller Identity, id PaymentID, next PaymentStatus) (*PaymentRequest, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}

	var out PaymentRequest
	err := s.Store.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != PaymentPending {
			return fmt.Errorf("%w: payment %s is already %s", ErrInvalidTransition, id, p.Status)
		}

		now := s.now()
		if err := tx.UpdatePaymentStatus(ctx, id, PaymentPending, next, caller.UserID, now); err != nil {
			return fmt.Errorf("failed to update payment %s: %w", id, err)
		}
		if next == PaymentApproved {
			if _, err := tx.AddFine(ctx, p.UserID, -p.Amount); err != nil {
				return fmt.Errorf("failed to reduce fine for %s: %w", p.UserID, err)
			}
		}

		p.Status = next
		p.ReviewedBy = caller.UserID
		p.UpdatedAt = now
		out = *p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, "review_payment", paymentReviewedNotice(out))
	return &out, nil
}

// ListPayments lists payment requests. Students only see their own.
func (s *Service) ListPayments(ctx context.Context, caller Identity, filter PaymentFilter) ([]PaymentRequest, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if !caller.Role.IsStaff() {
		filter.UserID = caller.UserID
	}
	return s.Store.ListPayments(ctx, filter)
}
