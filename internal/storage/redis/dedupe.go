package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DedupeStore отмечает обработанные события через SET NX с TTL.
type DedupeStore struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewDedupeStore создаёт хранилище отметок с префиксом ключей.
func NewDedupeStore(client goredis.UniversalClient, prefix string, ttl time.Duration) *DedupeStore {
	return &DedupeStore{client: client, prefix: prefix, ttl: ttl}
}

// MarkProcessed возвращает true, если ключ отмечен впервые.
func (s *DedupeStore) MarkProcessed(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+key, "1", s.ttl).Result()
}

// Forget снимает отметку, чтобы повторная доставка обработала событие снова.
func (s *DedupeStore) Forget(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
