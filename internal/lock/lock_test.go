package lock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/lock"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (s *failingStore) SetIfAbsent(context.Context, string, string, time.Duration) (bool, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return false, errors.New("connection refused")
}

func (s *failingStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *failingStore) CompareAndDelete(context.Context, string, string) (bool, error) {
	return false, errors.New("connection refused")
}

func fastLocker(store domain.LockStore) *lock.Locker {
	return lock.NewLocker(store, lock.WithOptions(lock.Options{
		WaitBudget:    2 * time.Second,
		Lease:         time.Second,
		RetryInterval: time.Millisecond,
	}))
}

func TestKeys(t *testing.T) {
	cases := []struct {
		got  string
		want string
	}{
		{got: lock.OrderUserKey(7), want: "order:user:7"},
		{got: lock.ProductStockKey(3), want: "product:stock:3"},
		{got: lock.UserBalanceKey(7), want: "user:balance:7"},
		{got: lock.CouponUseKey(11), want: "coupon:use:11"},
		{got: lock.CouponPoolKey(1), want: "coupon:pool:1"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("unexpected key %q, want %q", tc.got, tc.want)
		}
	}
}

func TestLocker_MutualExclusion(t *testing.T) {
	locker := fastLocker(memory.NewLockStore())

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		total   int
	)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			return locker.WithLock(ctx, "counter", func(context.Context) error {
				n := inside.Add(1)
				for {
					seen := maxSeen.Load()
					if n <= seen || maxSeen.CompareAndSwap(seen, n) {
						break
					}
				}
				total++
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := maxSeen.Load(); got != 1 {
		t.Fatalf("critical sections overlapped: max concurrency %d", got)
	}
	if total != 20 {
		t.Fatalf("expected 20 executions, got %d", total)
	}
}

func TestLocker_TimeoutWhenBusy(t *testing.T) {
	ctx := context.Background()
	locker := fastLocker(memory.NewLockStore())

	held, err := locker.Acquire(ctx, "busy", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer locker.Release(ctx, held)

	if held.Key != "lock:busy" || held.Token == "" {
		t.Fatalf("unexpected handle: %+v", held)
	}

	_, err = locker.Acquire(ctx, "busy", 30*time.Millisecond, time.Second)
	if !errors.Is(err, domain.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if errors.Is(err, domain.ErrLockStoreUnavailable) {
		t.Fatal("busy lock must not be reported as unavailable store")
	}
	var acquireErr *lock.AcquireError
	if !errors.As(err, &acquireErr) || acquireErr.Key != "lock:busy" {
		t.Fatalf("expected AcquireError naming the key, got %v", err)
	}
}

func TestLocker_StoreUnavailable(t *testing.T) {
	store := &failingStore{}
	locker := fastLocker(store)

	_, err := locker.Acquire(context.Background(), "k", 20*time.Millisecond, time.Second)
	if !errors.Is(err, domain.ErrLockStoreUnavailable) {
		t.Fatalf("expected ErrLockStoreUnavailable, got %v", err)
	}
	if !lock.IsAcquireError(err) {
		t.Fatalf("expected AcquireError, got %T", err)
	}
	if calls := store.callCount(); calls < 2 {
		t.Fatalf("expected retries within the wait budget, got %d calls", calls)
	}
}

func TestLocker_ReleaseAfterExpiryKeepsNewOwner(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLockStore()
	locker := fastLocker(store)

	first, err := locker.Acquire(ctx, "lease", time.Second, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	second, err := locker.Acquire(ctx, "lease", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("second acquire after expiry: %v", err)
	}

	// Освобождение устаревшим владельцем не должно снять чужую блокировку.
	locker.Release(ctx, first)
	if _, err := locker.Acquire(ctx, "lease", 20*time.Millisecond, time.Second); !errors.Is(err, domain.ErrLockTimeout) {
		t.Fatalf("expected lock to stay with the second owner, got %v", err)
	}

	locker.Release(ctx, second)
	third, err := locker.Acquire(ctx, "lease", 20*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("expected lock free after owner release: %v", err)
	}
	locker.Release(ctx, third)
}

func TestLocker_ContextCanceled(t *testing.T) {
	store := memory.NewLockStore()
	locker := fastLocker(store)

	held, err := locker.Acquire(context.Background(), "ctx", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer locker.Release(context.Background(), held)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locker.Acquire(ctx, "ctx", time.Minute, time.Second)
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, domain.ErrLockTimeout) {
		t.Fatalf("expected ctx deadline wrapped as lock timeout, got %v", err)
	}
}

func TestLocker_WithLockReleasesOnError(t *testing.T) {
	ctx := context.Background()
	locker := fastLocker(memory.NewLockStore())
	boom := errors.New("boom")

	if err := locker.WithLock(ctx, "k", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	h, err := locker.Acquire(ctx, "k", 20*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("lock must be released after fn error: %v", err)
	}
	locker.Release(ctx, h)
}

type ttlStore struct {
	domain.LockStore
	mu   sync.Mutex
	ttls map[string]time.Duration
}

func (s *ttlStore) SetIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	s.ttls[key] = ttl
	s.mu.Unlock()
	return s.LockStore.SetIfAbsent(ctx, key, token, ttl)
}

func TestLocker_WithLeaseUsesExplicitLease(t *testing.T) {
	ctx := context.Background()
	store := &ttlStore{LockStore: memory.NewLockStore(), ttls: map[string]time.Duration{}}
	locker := fastLocker(store)

	err := locker.WithLease(ctx, "outer", time.Minute, func(ctx context.Context) error {
		return locker.WithLock(ctx, "inner", func(context.Context) error { return nil })
	})
	if err != nil {
		t.Fatalf("with lease: %v", err)
	}
	if err := locker.WithLease(ctx, "fallback", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("with zero lease: %v", err)
	}

	want := map[string]time.Duration{
		lock.KeyPrefix + "outer":    time.Minute,
		lock.KeyPrefix + "inner":    time.Second,
		lock.KeyPrefix + "fallback": time.Second,
	}
	for key, ttl := range want {
		if got := store.ttls[key]; got != ttl {
			t.Fatalf("lease for %s = %s, want %s", key, got, ttl)
		}
	}
}

func TestLocker_HoldLease(t *testing.T) {
	locker := fastLocker(memory.NewLockStore())

	// lease 1s + 3 вложенных ожидания по 2s + 4s работы.
	if got := locker.HoldLease(3, 4*time.Second); got != 11*time.Second {
		t.Fatalf("unexpected hold lease %s", got)
	}
	if got := locker.HoldLease(-1, 0); got != locker.Options().Lease {
		t.Fatalf("negative nesting must fall back to the base lease, got %s", got)
	}
}
