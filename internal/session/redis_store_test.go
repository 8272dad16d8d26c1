package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"curator/api/internal/store"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *store.MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	users := store.NewMemoryStore()
	redisStore, err := NewRedisStore("redis://"+mini.Addr(), users)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return redisStore, users, mini
}

func TestNewRedisStore(t *testing.T) {
	redisStore, _, mini := setupTestRedis(t)
	defer redisStore.Close()
	defer mini.Close()

	if err := redisStore.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	redisStore, users, mini := setupTestRedis(t)
	defer redisStore.Close()
	defer mini.Close()

	ctx := context.Background()
	user := store.User{ID: "usr_1", Email: "a@b.c", Role: store.RoleApprover}
	if err := users.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	tokenHash := "token-hash"
	if err := redisStore.SaveRefreshSession(ctx, tokenHash, user.ID, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	found, err := redisStore.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if found.ID != user.ID {
		t.Errorf("expected user %s, got %s", user.ID, found.ID)
	}
	// Role comes from the user store at lookup time, not the session payload.
	if found.Role != store.RoleApprover {
		t.Errorf("expected role %s, got %s", store.RoleApprover, found.Role)
	}
}

func TestLookupUnknownToken(t *testing.T) {
	redisStore, _, mini := setupTestRedis(t)
	defer redisStore.Close()
	defer mini.Close()

	_, err := redisStore.LookupRefreshSession(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	redisStore, users, mini := setupTestRedis(t)
	defer redisStore.Close()
	defer mini.Close()

	ctx := context.Background()
	if err := users.CreateUser(ctx, store.User{ID: "usr_1", Email: "a@b.c"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := redisStore.SaveRefreshSession(ctx, "hash", "usr_1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := redisStore.RevokeRefreshSession(ctx, "hash"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := redisStore.LookupRefreshSession(ctx, "hash"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after revoke, got %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	redisStore, users, mini := setupTestRedis(t)
	defer redisStore.Close()
	defer mini.Close()

	ctx := context.Background()
	if err := users.CreateUser(ctx, store.User{ID: "usr_1", Email: "a@b.c"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := redisStore.SaveRefreshSession(ctx, "hash", "usr_1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	mini.FastForward(2 * time.Minute)

	if _, err := redisStore.LookupRefreshSession(ctx, "hash"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}
