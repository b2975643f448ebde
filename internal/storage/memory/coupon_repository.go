package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type couponPool struct {
	ceiling int64
	active  int64
}

// couponRepositoryInMemory хранит купоны и счётчики пулов.
type couponRepositoryInMemory struct {
	mu      sync.RWMutex
	nextID  int64
	coupons map[int64]domain.Coupon
	pools   map[int64]*couponPool
}

// NewCouponRepository создаёт in-memory реализацию CouponRepository.
func NewCouponRepository() *couponRepositoryInMemory {
	return &couponRepositoryInMemory{
		coupons: make(map[int64]domain.Coupon),
		pools:   make(map[int64]*couponPool),
	}
}

// EnsurePool создаёт пул с потолком; существующий пул не меняется.
func (r *couponRepositoryInMemory) EnsurePool(_ context.Context, poolID, ceiling int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pools[poolID]; !ok {
		r.pools[poolID] = &couponPool{ceiling: ceiling}
	}
	return nil
}

// Create сохраняет купон и назначает ему ID.
func (r *couponRepositoryInMemory) Create(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	coupon.ID = r.nextID
	r.coupons[coupon.ID] = coupon

	id := coupon.ID
	onRollback(ctx, func() {
		r.mu.Lock()
		delete(r.coupons, id)
		r.mu.Unlock()
	})
	return coupon, nil
}

// Get возвращает купон или ErrCouponNotFound.
func (r *couponRepositoryInMemory) Get(_ context.Context, id int64) (domain.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	coupon, ok := r.coupons[id]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return coupon, nil
}

// ListByUser возвращает купоны пользователя по возрастанию ID.
func (r *couponRepositoryInMemory) ListByUser(_ context.Context, userID int64) ([]domain.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.Coupon
	for _, coupon := range r.coupons {
		if coupon.UserID == userID {
			result = append(result, coupon)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// MarkUsed переводит купон ACTIVE→USED одним шагом.
func (r *couponRepositoryInMemory) MarkUsed(ctx context.Context, id int64, usedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	coupon, ok := r.coupons[id]
	if !ok {
		return false, domain.ErrCouponNotFound
	}
	if coupon.Status != domain.CouponStatusActive {
		return false, nil
	}
	prev := coupon
	coupon.Status = domain.CouponStatusUsed
	coupon.UsedAt = &usedAt
	r.coupons[id] = coupon

	onRollback(ctx, func() {
		r.mu.Lock()
		r.coupons[id] = prev
		r.mu.Unlock()
	})
	return true, nil
}

// CountActive считает купоны пула в статусе ACTIVE.
func (r *couponRepositoryInMemory) CountActive(_ context.Context, poolID int64) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, coupon := range r.coupons {
		if coupon.PoolID == poolID && coupon.Status == domain.CouponStatusActive {
			n++
		}
	}
	return n, nil
}

func (r *couponRepositoryInMemory) adjust(poolID, delta int64, guard domain.Guard) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.pools[poolID]
	if !ok || !guardAllows(pool.active+delta, pool.ceiling, guard) {
		return false
	}
	pool.active += delta
	return true
}

var _ domain.CouponRepository = (*couponRepositoryInMemory)(nil)
