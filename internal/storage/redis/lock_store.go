package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// compareAndDelete удаляет ключ только если значение совпадает с токеном владельца.
var compareAndDelete = goredis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
	return redis.call('del', KEYS[1])
else
	return 0
end`)

// LockStore реализует domain.LockStore через SET NX PX и Lua compare-and-delete.
type LockStore struct {
	client goredis.UniversalClient
}

// NewLockStore создаёт LockStore поверх клиента.
func NewLockStore(client goredis.UniversalClient) *LockStore {
	return &LockStore{client: client}
}

// SetIfAbsent выполняет SET key token NX PX ttl.
func (s *LockStore) SetIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: set %s: %w", domain.ErrLockStoreUnavailable, key, err)
	}
	return ok, nil
}

// CompareAndDelete атомарно удаляет ключ, если он принадлежит token.
func (s *LockStore) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	deleted, err := compareAndDelete.Run(ctx, s.client, []string{key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: release %s: %w", domain.ErrLockStoreUnavailable, key, err)
	}
	return deleted == 1, nil
}

var _ domain.LockStore = (*LockStore)(nil)
