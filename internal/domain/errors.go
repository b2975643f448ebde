package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserIDRequired = errors.New("user_id is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// Ошибка, если скидка больше суммы заказа или отрицательная.
	ErrDiscountInvalid = errors.New("discount must be within order total")
	// Ошибка неположительной суммы (пополнение, платёж, бронирование).
	ErrAmountInvalid = errors.New("amount must be greater than zero")
	// Ошибка отсутствующего идентификатора заказа в платеже.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка некорректного количества мест в бронировании.
	ErrSeatCountInvalid = errors.New("seat count must be greater than zero")
	// Ошибка отсутствующего названия концерта.
	ErrConcertNameRequired = errors.New("concert name is required")

	// ErrUserNotFound возвращается, если пользователь (владелец баланса) не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrCouponNotFound возвращается, если купон не найден или принадлежит другому пользователю.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrReservationNotFound возвращается, если бронирование не найдено.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrOutboxRecordNotFound возвращается, если запись outbox не найдена.
	ErrOutboxRecordNotFound = errors.New("outbox record not found")
	// ErrAlreadyExists — запись с таким идентификатором уже есть.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrInsufficientStock — остатка товара не хватает для резерва.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInsufficientBalance — на балансе пользователя недостаточно средств.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrCouponLimitReached — пул активных купонов исчерпан.
	ErrCouponLimitReached = errors.New("coupon limit reached")
	// ErrCouponUnusable — купон уже использован, истёк или не принадлежит покупателю.
	ErrCouponUnusable = errors.New("coupon unusable")
	// ErrInvalidTransition — недопустимый переход статуса (терминальные статусы неизменны).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrLockTimeout — блокировку не удалось взять за отведённое время (ключ занят).
	ErrLockTimeout = errors.New("lock acquisition timed out")
	// ErrLockStoreUnavailable — хранилище блокировок недоступно.
	ErrLockStoreUnavailable = errors.New("lock store unavailable")

	// ErrPaymentDeclined — платёж отклонён провайдером (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentTemporary — временная ошибка платёжного провайдера, можно повторить.
	ErrPaymentTemporary = errors.New("payment temporary error")

	// ErrEventSerialization — событие невозможно сериализовать; запись outbox не создаётся.
	ErrEventSerialization = errors.New("event serialization failed")
	// ErrOutboxPublish — ошибка при доставке сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsContention сообщает, относится ли ошибка к конкурентным (восстановимым) отказам.
func IsContention(err error) bool {
	switch {
	case errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrCouponLimitReached),
		errors.Is(err, ErrCouponUnusable),
		errors.Is(err, ErrLockTimeout):
		return true
	default:
		return false
	}
}
