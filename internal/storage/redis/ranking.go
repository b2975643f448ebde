package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// RankingKey — sorted set с количеством заказанных единиц по товарам.
const RankingKey = "product:ranking:order_count"

// RankingSink хранит рейтинг товаров в sorted set: member = ID товара, score = количество.
type RankingSink struct {
	client goredis.UniversalClient
	key    string
}

// NewRankingSink создаёт рейтинг на ключе RankingKey.
func NewRankingSink(client goredis.UniversalClient) *RankingSink {
	return &RankingSink{client: client, key: RankingKey}
}

// Increment увеличивает счётчик товара через ZINCRBY.
func (s *RankingSink) Increment(ctx context.Context, productID, quantity int64) error {
	return s.IncrementBatch(ctx, map[int64]int64{productID: quantity})
}

// IncrementBatch отправляет ZINCRBY по всем товарам заказа одной транзакцией MULTI/EXEC.
func (s *RankingSink) IncrementBatch(ctx context.Context, quantities map[int64]int64) error {
	if len(quantities) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(quantities))
	for productID, qty := range quantities {
		if qty <= 0 {
			return domain.ErrItemQtyInvalid
		}
		ids = append(ids, productID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, productID := range ids {
			pipe.ZIncrBy(ctx, s.key, float64(quantities[productID]), strconv.FormatInt(productID, 10))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("zincrby batch of %d products: %w", len(ids), err)
	}
	return nil
}

// TopK возвращает до n товаров по убыванию счётчика.
func (s *RankingSink) TopK(ctx context.Context, n int) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}
	members, err := s.client.ZRevRange(ctx, s.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}

	result := make([]int64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse ranking member %q: %w", member, err)
		}
		result = append(result, id)
	}
	return result, nil
}

// Score возвращает накопленное количество по товару; 0, если товара в рейтинге нет.
func (s *RankingSink) Score(ctx context.Context, productID int64) (int64, error) {
	score, err := s.client.ZScore(ctx, s.key, strconv.FormatInt(productID, 10)).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("zscore: %w", err)
	}
	return int64(score), nil
}

// Clear удаляет рейтинг целиком.
func (s *RankingSink) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

var _ domain.RankingSink = (*RankingSink)(nil)
