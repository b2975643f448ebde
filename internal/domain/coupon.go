package domain

import "time"

// CouponStatus описывает состояние купона.
type CouponStatus string

const (
	// CouponStatusActive — купон выдан и может быть применён.
	CouponStatusActive CouponStatus = "ACTIVE"
	// CouponStatusUsed — купон применён к заказу.
	CouponStatusUsed CouponStatus = "USED"
	// CouponStatusExpired — купон истёк. Статус вычисляется по времени и не пишется в хранилище.
	CouponStatusExpired CouponStatus = "EXPIRED"
)

// DefaultCouponPool — идентификатор пула купонов по умолчанию.
const DefaultCouponPool int64 = 1

// Coupon — скидочный купон пользователя.
type Coupon struct {
	ID     int64
	UserID int64
	PoolID int64
	// DiscountRate — скидка в процентах.
	DiscountRate int32
	Status       CouponStatus
	ExpiresAt    time.Time
	IssuedAt     time.Time
	UsedAt       *time.Time
}

// Expired сообщает, истёк ли купон к моменту now.
func (c *Coupon) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// EffectiveStatus возвращает статус с учётом срока действия.
func (c *Coupon) EffectiveStatus(now time.Time) CouponStatus {
	if c.Status == CouponStatusActive && c.Expired(now) {
		return CouponStatusExpired
	}
	return c.Status
}

// CanUse проверяет, может ли пользователь применить купон сейчас.
func (c *Coupon) CanUse(userID int64, now time.Time) bool {
	return c.UserID == userID && c.EffectiveStatus(now) == CouponStatusActive
}

// Discount считает скидку от суммы заказа: total * rate / 100.
func (c *Coupon) Discount(total int64) int64 {
	return total * int64(c.DiscountRate) / 100
}
