package app

import (
	"context"
	"testing"

	"curator/api/internal/store"
)

func TestFirstSignUpBecomesApprover(t *testing.T) {
	service, _, _, _ := newTestService(t)

	first, err := service.SignUp(context.Background(), "founder@example.com", "password123", "Founder")
	if err != nil {
		t.Fatalf("first signup failed: %v", err)
	}
	if first.Role != store.RoleApprover {
		t.Errorf("first account should be promoted to APPROVER, got %s", first.Role)
	}

	second, err := service.SignUp(context.Background(), "editor@example.com", "password123", "Editor")
	if err != nil {
		t.Fatalf("second signup failed: %v", err)
	}
	if second.Role != store.RoleUser {
		t.Errorf("later accounts should stay USER, got %s", second.Role)
	}

	_, err = service.SignUp(context.Background(), "founder@example.com", "password123", "Dup")
	if code := domainCode(t, err); code != "EMAIL_EXISTS" {
		t.Errorf("expected EMAIL_EXISTS, got %s", code)
	}
}

func TestUpdateUserRoleGuards(t *testing.T) {
	service, memory, _, _ := newTestService(t)
	approver := seedUser(t, memory, "bob", store.RoleApprover)
	plain := seedUser(t, memory, "alice", store.RoleUser)

	// Non-approvers cannot change roles.
	_, err := service.UpdateUserRole(context.Background(), plain, approver.UserID, store.RoleUser)
	if code := domainCode(t, err); code != "FORBIDDEN" {
		t.Errorf("expected FORBIDDEN, got %s", code)
	}

	// Nobody may change their own role.
	_, err = service.UpdateUserRole(context.Background(), approver, approver.UserID, store.RoleUser)
	if code := domainCode(t, err); code != "FORBIDDEN" {
		t.Errorf("self role change: expected FORBIDDEN, got %s", code)
	}

	_, err = service.UpdateUserRole(context.Background(), approver, plain.UserID, "ADMIN")
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Errorf("unknown role: expected VALIDATION_ERROR, got %s", code)
	}

	promoted, err := service.UpdateUserRole(context.Background(), approver, plain.UserID, store.RoleApprover)
	if err != nil {
		t.Fatalf("promotion failed: %v", err)
	}
	if promoted.Role != store.RoleApprover {
		t.Errorf("expected APPROVER, got %s", promoted.Role)
	}
}

func TestLastApproverCannotBeDemoted(t *testing.T) {
	service, memory, _, _ := newTestService(t)
	first := seedUser(t, memory, "bob", store.RoleApprover)
	second := seedUser(t, memory, "carol", store.RoleApprover)

	// Two approvers: demoting one is fine.
	if _, err := service.UpdateUserRole(context.Background(), first, second.UserID, store.RoleUser); err != nil {
		t.Fatalf("demotion with two approvers failed: %v", err)
	}

	// bob is now the sole approver. An acting approver session (promoted
	// concurrently, say) still must not demote him.
	acting := Session{UserID: "someone-else", Role: store.RoleApprover}
	_, err := service.UpdateUserRole(context.Background(), acting, first.UserID, store.RoleUser)
	if code := domainCode(t, err); code != "LAST_APPROVER" {
		t.Errorf("expected LAST_APPROVER, got %s", code)
	}

	// Promoting someone else first unblocks the demotion.
	if _, err := service.UpdateUserRole(context.Background(), first, second.UserID, store.RoleApprover); err != nil {
		t.Fatalf("re-promotion failed: %v", err)
	}
	if _, err := service.UpdateUserRole(context.Background(), acting, first.UserID, store.RoleUser); err != nil {
		t.Errorf("demotion after re-promotion failed: %v", err)
	}
}
