package memory

import (
	"context"
	"testing"
	"time"
)

func TestLockStore_SetIfAbsentAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewLockStore()
	store.clock = func() time.Time { return now }

	ok, _ := store.SetIfAbsent(ctx, "lock:a", "t1", time.Second)
	if !ok {
		t.Fatal("expected first acquisition to succeed")
	}
	if ok, _ := store.SetIfAbsent(ctx, "lock:a", "t2", time.Second); ok {
		t.Fatal("expected second acquisition to fail while lease is alive")
	}

	now = now.Add(time.Second)
	if ok, _ := store.SetIfAbsent(ctx, "lock:a", "t2", time.Second); !ok {
		t.Fatal("expected acquisition after lease expiry")
	}

	// Старый владелец не может удалить ключ, переданный другому.
	if ok, _ := store.CompareAndDelete(ctx, "lock:a", "t1"); ok {
		t.Fatal("stale owner must not release the lock")
	}
	if ok, _ := store.CompareAndDelete(ctx, "lock:a", "t2"); !ok {
		t.Fatal("owner must release the lock")
	}
	if ok, _ := store.CompareAndDelete(ctx, "lock:a", "t2"); ok {
		t.Fatal("second release must report false")
	}
}
