package lock

import "strconv"

// KeyPrefix добавляется ко всем ключам блокировок в хранилище.
const KeyPrefix = "lock:"

// OrderUserKey сериализует все заказы одного покупателя.
func OrderUserKey(userID int64) string {
	return "order:user:" + strconv.FormatInt(userID, 10)
}

// ProductStockKey защищает резервирование остатка товара.
func ProductStockKey(productID int64) string {
	return "product:stock:" + strconv.FormatInt(productID, 10)
}

// UserBalanceKey защищает списание и пополнение баланса.
func UserBalanceKey(userID int64) string {
	return "user:balance:" + strconv.FormatInt(userID, 10)
}

// CouponUseKey защищает применение конкретного купона.
func CouponUseKey(couponID int64) string {
	return "coupon:use:" + strconv.FormatInt(couponID, 10)
}

// CouponPoolKey — глобальная блокировка выдачи купонов из пула.
func CouponPoolKey(poolID int64) string {
	return "coupon:pool:" + strconv.FormatInt(poolID, 10)
}
