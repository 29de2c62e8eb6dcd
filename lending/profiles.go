package lending

import (
	"context"
	"fmt"
	"strings"
)

// =============================================================================
// PROFILES
// =============================================================================
//
// Sign-ups arrive from the identity provider as pending accounts. Staff move
// them to student (or rejected) before they may borrow.

// NewProfile carries what the identity provider knows about a sign-up.
type NewProfile struct {
	ID            UserID
	FullName      string
	Email         string
	StudentNumber string
}

// RegisterProfile records a sign-up. Registering an existing user refreshes
// their name, email and student number only.
func (s *Service) RegisterProfile(ctx context.Context, in NewProfile) (*Profile, error) {
	if in.ID == "" {
		return nil, ErrUnauthorized
	}
	now := s.now()
	p := Profile{
		ID:            in.ID,
		FullName:      strings.TrimSpace(in.FullName),
		Email:         strings.TrimSpace(in.Email),
		StudentNumber: strings.TrimSpace(in.StudentNumber),
		Role:          RolePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.SaveProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save profile %s: %w", in.ID, err)
	}
	return s.Store.GetProfile(ctx, in.ID)
}

// GetProfile returns a profile to its owner or to staff.
func (s *Service) GetProfile(ctx context.Context, caller Identity, id UserID) (*Profile, error) {
	if err := requireOwnerOrStaff(caller, id); err != nil {
		return nil, err
	}
	return s.Store.GetProfile(ctx, id)
}

// ApproveUser activates a pending account as a student.
func (s *Service) ApproveUser(ctx context.Context, caller Identity, id UserID) (*Profile, error) {
	p, err := s.reviewUser(ctx, caller, id, RoleStudent)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, "approve_user", accountApprovedNotice(id))
	return p, nil
}

// RejectUser closes a pending account.
func (s *Service) RejectUser(ctx context.Context, caller Identity, id UserID) (*Profile, error) {
	return s.reviewUser(ctx, caller, id, RoleRejected)
}

func (s *Service) reviewUser(ctx context.Context, caller Identity, id UserID, next Role) (*Profile, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	p, err := s.Store.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Role != RolePending {
		return nil, invalid(CodeInvalidRole, "role", "account %s is %s, not pending", id, p.Role)
	}
	if err := s.Store.UpdateProfileRole(ctx, id, RolePending, next); err != nil {
		return nil, fmt.Errorf("failed to update role for %s: %w", id, err)
	}
	p.Role = next
	p.UpdatedAt = s.now()
	return p, nil
}

// ListPendingProfiles lists sign-ups waiting for review, oldest first.
func (s *Service) ListPendingProfiles(ctx context.Context, caller Identity) ([]Profile, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	return s.Store.ListProfiles(ctx, ProfileFilter{Role: RolePending})
}

// ListProfilesWithFines lists users owing money, largest balance first.
func (s *Service) ListProfilesWithFines(ctx context.Context, caller Identity) ([]Profile, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	return s.Store.ListProfiles(ctx, ProfileFilter{WithFines: true})
}
