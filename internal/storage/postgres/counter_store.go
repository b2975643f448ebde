package postgres

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// counterQueries: проверка и запись в одном UPDATE.
var counterQueries = map[domain.Resource]map[domain.Guard]string{
	domain.ResourceStock: {
		domain.GuardNonNegative:   `UPDATE products SET stock = stock + $2 WHERE id = $1 AND stock + $2 >= 0`,
		domain.GuardWithinCeiling: `UPDATE products SET stock = stock + $2 WHERE id = $1 AND stock + $2 >= 0`,
	},
	domain.ResourceBalance: {
		domain.GuardNonNegative:   `UPDATE accounts SET balance = balance + $2 WHERE user_id = $1 AND balance + $2 >= 0`,
		domain.GuardWithinCeiling: `UPDATE accounts SET balance = balance + $2 WHERE user_id = $1 AND balance + $2 >= 0`,
	},
	domain.ResourceActiveCoupons: {
		domain.GuardNonNegative: `UPDATE coupon_pools SET active_count = active_count + $2
			WHERE id = $1 AND active_count + $2 >= 0`,
		domain.GuardWithinCeiling: `UPDATE coupon_pools SET active_count = active_count + $2
			WHERE id = $1 AND active_count + $2 BETWEEN 0 AND ceiling`,
	},
}

// CounterStore реализует domain.CounterStore условными UPDATE.
type CounterStore struct {
	store *Store
}

// NewCounterStore создаёт счётчики поверх Store.
func NewCounterStore(store *Store) *CounterStore {
	return &CounterStore{store: store}
}

// Adjust прибавляет delta, если guard выполняется. Если строки нет, тоже false.
func (c *CounterStore) Adjust(ctx context.Context, resource domain.Resource, entityID, delta int64, guard domain.Guard) (bool, error) {
	query, ok := counterQueries[resource][guard]
	if !ok {
		return false, fmt.Errorf("unknown counter %q/%d", resource, guard)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := c.store.conn(ctx).ExecContext(ctx, query, entityID, delta)
	if err != nil {
		return false, fmt.Errorf("adjust %s %d by %d: %w", resource, entityID, delta, err)
	}
	return affectedOne(res)
}

var _ domain.CounterStore = (*CounterStore)(nil)
