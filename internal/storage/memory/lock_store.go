package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type lockEntry struct {
	token    string
	deadline time.Time
}

// LockStore — in-memory хранилище блокировок с истечением по TTL.
type LockStore struct {
	mu    sync.Mutex
	keys  map[string]lockEntry
	clock func() time.Time
}

// NewLockStore создаёт in-memory LockStore.
func NewLockStore() *LockStore {
	return &LockStore{
		keys:  make(map[string]lockEntry),
		clock: time.Now,
	}
}

// SetIfAbsent записывает token, если ключа нет или его TTL истёк.
func (s *LockStore) SetIfAbsent(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if entry, ok := s.keys[key]; ok && now.Before(entry.deadline) {
		return false, nil
	}
	s.keys[key] = lockEntry{token: token, deadline: now.Add(ttl)}
	return true, nil
}

// CompareAndDelete удаляет ключ, только если он жив и хранит тот же token.
func (s *LockStore) CompareAndDelete(_ context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.keys[key]
	if !ok || entry.token != token || !s.clock().Before(entry.deadline) {
		return false, nil
	}
	delete(s.keys, key)
	return true, nil
}

var _ domain.LockStore = (*LockStore)(nil)
