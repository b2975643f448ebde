package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const couponColumns = `id, user_id, pool_id, discount_rate, status, expires_at, issued_at, used_at`

type couponRepository struct {
	store *Store
}

// NewCouponRepository создаёт PostgreSQL-реализацию CouponRepository.
func NewCouponRepository(store *Store) domain.CouponRepository {
	return &couponRepository{store: store}
}

func (r *couponRepository) EnsurePool(ctx context.Context, poolID, ceiling int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO coupon_pools (id, ceiling, active_count) VALUES ($1, $2, 0)
		ON CONFLICT (id) DO NOTHING
	`, poolID, ceiling); err != nil {
		return fmt.Errorf("ensure coupon pool %d: %w", poolID, err)
	}
	return nil
}

func (r *couponRepository) Create(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := r.store.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO coupons (user_id, pool_id, discount_rate, status, expires_at, issued_at, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		coupon.UserID, coupon.PoolID, coupon.DiscountRate, string(coupon.Status),
		coupon.ExpiresAt, coupon.IssuedAt, coupon.UsedAt,
	).Scan(&coupon.ID)
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("insert coupon: %w", err)
	}
	return coupon, nil
}

func (r *couponRepository) Get(ctx context.Context, id int64) (domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	coupon, err := scanCoupon(r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return domain.Coupon{}, fmt.Errorf("select coupon: %w", err)
	}
	return coupon, nil
}

func (r *couponRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.store.conn(ctx).QueryContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()

	var result []domain.Coupon
	for rows.Next() {
		coupon, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		result = append(result, coupon)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coupons: %w", err)
	}
	return result, nil
}

func (r *couponRepository) MarkUsed(ctx context.Context, id int64, usedAt time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, `
		UPDATE coupons SET status = $2, used_at = $3
		WHERE id = $1 AND status = $4
	`, id, string(domain.CouponStatusUsed), usedAt, string(domain.CouponStatusActive))
	if err != nil {
		return false, fmt.Errorf("mark coupon used: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil || ok {
		return ok, err
	}

	var exists bool
	if err := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check coupon exists: %w", err)
	}
	if !exists {
		return false, domain.ErrCouponNotFound
	}
	return false, nil
}

func (r *couponRepository) CountActive(ctx context.Context, poolID int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var n int64
	if err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM coupons WHERE pool_id = $1 AND status = $2
	`, poolID, string(domain.CouponStatusActive)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active coupons: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoupon(row rowScanner) (domain.Coupon, error) {
	var (
		c      domain.Coupon
		status string
		usedAt sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.PoolID, &c.DiscountRate, &status, &c.ExpiresAt, &c.IssuedAt, &usedAt); err != nil {
		return domain.Coupon{}, err
	}
	c.Status = domain.CouponStatus(status)
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.IssuedAt = c.IssuedAt.UTC()
	if usedAt.Valid {
		t := usedAt.Time.UTC()
		c.UsedAt = &t
	}
	return c, nil
}

var _ domain.CouponRepository = (*couponRepository)(nil)
