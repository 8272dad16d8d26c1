package app

import (
	"context"

	"curator/api/internal/store"
)

func (s *Service) ListUsers(ctx context.Context) ([]store.User, error) {
	return s.store.ListUsers(ctx)
}

// UpdateUserRole changes another user's role. Demoting the sole remaining
// approver is refused, as is changing your own role, so the system can never
// reach zero approvers through this path.
func (s *Service) UpdateUserRole(ctx context.Context, session Session, targetID, role string) (store.User, error) {
	if session.Role != store.RoleApprover {
		return store.User{}, errForbidden("Only approvers may change roles")
	}
	if targetID == session.UserID {
		return store.User{}, errForbidden("You cannot change your own role")
	}
	if role != store.RoleUser && role != store.RoleApprover {
		return store.User{}, errValidation("unknown role: " + role)
	}

	target, err := s.store.GetUserByID(ctx, targetID)
	if err != nil {
		return store.User{}, err
	}

	if target.Role == store.RoleApprover && role == store.RoleUser {
		approvers, err := s.store.CountApprovers(ctx)
		if err != nil {
			return store.User{}, err
		}
		if approvers <= 1 {
			return store.User{}, errLastApprover()
		}
	}

	if err := s.store.UpdateUserRole(ctx, targetID, role); err != nil {
		return store.User{}, err
	}
	target.Role = role
	return target, nil
}
