package memory

import (
	"context"
	"fmt"
	"math"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const noCeiling = math.MaxInt64

// guardUnchecked применяется только к откату уже выполненного изменения.
const guardUnchecked domain.Guard = -1

func guardAllows(next, ceiling int64, guard domain.Guard) bool {
	switch guard {
	case guardUnchecked:
		return true
	case domain.GuardWithinCeiling:
		return next >= 0 && next <= ceiling
	default:
		return next >= 0
	}
}

// CounterStore применяет условные изменения к остаткам, балансам и пулам купонов.
// Проверка и запись выполняются под мьютексом соответствующего репозитория.
type CounterStore struct {
	products *productRepositoryInMemory
	accounts *accountRepositoryInMemory
	coupons  *couponRepositoryInMemory
}

// NewCounterStore связывает счётчики с in-memory репозиториями.
func NewCounterStore(products *productRepositoryInMemory, accounts *accountRepositoryInMemory, coupons *couponRepositoryInMemory) *CounterStore {
	return &CounterStore{products: products, accounts: accounts, coupons: coupons}
}

// Adjust прибавляет delta, если guard выполняется.
func (s *CounterStore) Adjust(ctx context.Context, resource domain.Resource, entityID, delta int64, guard domain.Guard) (bool, error) {
	var apply func(id, delta int64, guard domain.Guard) bool
	switch resource {
	case domain.ResourceStock:
		apply = s.products.adjust
	case domain.ResourceBalance:
		apply = s.accounts.adjust
	case domain.ResourceActiveCoupons:
		apply = s.coupons.adjust
	default:
		return false, fmt.Errorf("unknown resource %q", resource)
	}

	if !apply(entityID, delta, guard) {
		return false, nil
	}
	onRollback(ctx, func() {
		apply(entityID, -delta, guardUnchecked)
	})
	return true, nil
}

var _ domain.CounterStore = (*CounterStore)(nil)
