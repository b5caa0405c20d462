package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) *RedisStore {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndLookup(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	record := Record{UserID: "user-123", DisplayName: "Avery"}
	if err := store.Save(ctx, "token-hash", record, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Lookup(ctx, "token-hash")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.UserID != "user-123" {
		t.Errorf("expected user-123, got %s", got.UserID)
	}
	if got.DisplayName != "Avery" {
		t.Errorf("expected Avery, got %s", got.DisplayName)
	}
}

func TestLookupExpired(t *testing.T) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	record := Record{UserID: "user-456"}
	if err := store.Save(ctx, "soon-expired", record, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s.FastForward(2 * time.Second)

	if _, err := store.Lookup(ctx, "soon-expired"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for expired session, got %v", err)
	}
}

func TestLookupMissing(t *testing.T) {
	store := setupTestRedis(t)

	if _, err := store.Lookup(context.Background(), "nope"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "to-revoke", Record{UserID: "user-789"}, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Revoke(ctx, "to-revoke"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := store.Lookup(ctx, "to-revoke"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after revoke, got %v", err)
	}

	// Revoking again is a no-op.
	if err := store.Revoke(ctx, "to-revoke"); err != nil {
		t.Errorf("Revoke of absent token failed: %v", err)
	}
}

func TestSaveAlreadyExpired(t *testing.T) {
	store := setupTestRedis(t)

	err := store.Save(context.Background(), "dead", Record{UserID: "u"}, time.Now().Add(-time.Minute))
	if err == nil {
		t.Error("expected error saving an already-expired session")
	}
}
