// Package coupon выдаёт купоны из ограниченного пула и применяет их к заказам.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/ledger"
	"github.com/vladislavdragonenkov/fulfillment/internal/lock"
)

const (
	defaultCeiling      = 100
	defaultDiscountRate = 10
	defaultValidity     = 30 * 24 * time.Hour
)

var couponIssueTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fulfillment_coupon_issue_total",
	Help: "Coupon issuance attempts grouped by result.",
}, []string{"result"})

// Config задаёт параметры пула.
type Config struct {
	PoolID  int64
	Ceiling int64
	// DiscountRate — скидка в процентах.
	DiscountRate int32
	Validity     time.Duration
}

// DefaultConfig возвращает пул на 100 купонов со скидкой 10% и сроком 30 дней.
func DefaultConfig() Config {
	return Config{
		PoolID:       domain.DefaultCouponPool,
		Ceiling:      defaultCeiling,
		DiscountRate: defaultDiscountRate,
		Validity:     defaultValidity,
	}
}

// Option настраивает Limiter.
type Option func(*Limiter)

// WithPoolLock сериализует выдачу под глобальной блокировкой пула.
func WithPoolLock(locker *lock.Locker) Option {
	return func(l *Limiter) { l.poolLock = locker }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock подменяет часы.
func WithClock(clock domain.Clock) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// Limiter выдаёт купоны, не превышая потолок активных купонов пула.
type Limiter struct {
	cfg      Config
	uow      domain.UnitOfWork
	coupons  domain.CouponRepository
	accounts domain.AccountRepository
	ledger   *ledger.Ledger
	poolLock *lock.Locker
	clock    domain.Clock
	logger   *log.Entry
}

// NewLimiter создаёт Limiter.
func NewLimiter(cfg Config, uow domain.UnitOfWork, coupons domain.CouponRepository, accounts domain.AccountRepository, l *ledger.Ledger, options ...Option) *Limiter {
	defaults := DefaultConfig()
	if cfg.PoolID == 0 {
		cfg.PoolID = defaults.PoolID
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = defaults.Ceiling
	}
	if cfg.DiscountRate <= 0 {
		cfg.DiscountRate = defaults.DiscountRate
	}
	if cfg.Validity <= 0 {
		cfg.Validity = defaults.Validity
	}

	limiter := &Limiter{
		cfg:      cfg,
		uow:      uow,
		coupons:  coupons,
		accounts: accounts,
		ledger:   l,
		clock:    domain.SystemClock{},
		logger:   log.New().WithField("component", "coupon"),
	}
	for _, option := range options {
		option(limiter)
	}
	return limiter
}

// EnsurePool создаёт пул с потолком из конфигурации.
func (l *Limiter) EnsurePool(ctx context.Context) error {
	return l.coupons.EnsurePool(ctx, l.cfg.PoolID, l.cfg.Ceiling)
}

// Issue выдаёт пользователю новый купон.
// Резерв места в пуле и создание купона фиксируются одной единицей работы.
func (l *Limiter) Issue(ctx context.Context, userID int64) (domain.Coupon, error) {
	if _, err := l.accounts.Get(ctx, userID); err != nil {
		return domain.Coupon{}, err
	}

	var issued domain.Coupon
	issue := func(ctx context.Context) error {
		return l.uow.Do(ctx, func(ctx context.Context) error {
			applied, err := l.ledger.TryAdjust(ctx, domain.ResourceActiveCoupons, l.cfg.PoolID, 1, domain.GuardWithinCeiling)
			if err != nil {
				return err
			}
			if !applied {
				return domain.ErrCouponLimitReached
			}

			now := l.clock.Now()
			coupon, err := l.coupons.Create(ctx, domain.Coupon{
				UserID:       userID,
				PoolID:       l.cfg.PoolID,
				DiscountRate: l.cfg.DiscountRate,
				Status:       domain.CouponStatusActive,
				IssuedAt:     now,
				ExpiresAt:    now.Add(l.cfg.Validity),
			})
			if err != nil {
				return fmt.Errorf("create coupon: %w", err)
			}
			issued = coupon
			return nil
		})
	}

	var err error
	if l.poolLock != nil {
		err = l.poolLock.WithLock(ctx, lock.CouponPoolKey(l.cfg.PoolID), issue)
	} else {
		err = issue(ctx)
	}

	switch {
	case err == nil:
		couponIssueTotal.WithLabelValues("issued").Inc()
		l.logger.WithFields(log.Fields{"user_id": userID, "coupon_id": issued.ID}).Debug("coupon issued")
		return issued, nil
	case errors.Is(err, domain.ErrCouponLimitReached):
		couponIssueTotal.WithLabelValues("limit_reached").Inc()
		l.logger.WithField("user_id", userID).Debug("coupon pool exhausted")
		return domain.Coupon{}, err
	default:
		couponIssueTotal.WithLabelValues("error").Inc()
		return domain.Coupon{}, err
	}
}

// Usable загружает купон и проверяет, что покупатель может применить его сейчас.
func (l *Limiter) Usable(ctx context.Context, couponID, userID int64) (domain.Coupon, error) {
	coupon, err := l.coupons.Get(ctx, couponID)
	if err != nil {
		return domain.Coupon{}, err
	}
	if !coupon.CanUse(userID, l.clock.Now()) {
		return domain.Coupon{}, domain.ErrCouponUnusable
	}
	return coupon, nil
}

// Use переводит купон в USED и освобождает место в пуле.
// Вызывается внутри единицы работы заказа под блокировкой купона.
func (l *Limiter) Use(ctx context.Context, couponID, userID int64) error {
	coupon, err := l.Usable(ctx, couponID, userID)
	if err != nil {
		return err
	}

	return l.uow.Do(ctx, func(ctx context.Context) error {
		ok, err := l.coupons.MarkUsed(ctx, coupon.ID, l.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrCouponUnusable
		}
		applied, err := l.ledger.TryAdjust(ctx, domain.ResourceActiveCoupons, coupon.PoolID, -1, domain.GuardNonNegative)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("release coupon pool %d: counter already zero", coupon.PoolID)
		}
		return nil
	})
}

// ActiveCount возвращает число купонов пула в статусе ACTIVE.
func (l *Limiter) ActiveCount(ctx context.Context) (int64, error) {
	return l.coupons.CountActive(ctx, l.cfg.PoolID)
}

// ListByUser возвращает купоны пользователя.
func (l *Limiter) ListByUser(ctx context.Context, userID int64) ([]domain.Coupon, error) {
	return l.coupons.ListByUser(ctx, userID)
}
