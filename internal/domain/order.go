package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата и списания ещё не завершены.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusCompleted — оплата прошла, все ресурсы списаны.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled — заказ отменён компенсацией, статус терминальный.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Terminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ProductID int64
	Quantity  int32
	// UnitPrice — цена за единицу на момент заказа.
	UnitPrice int64
}

// Subtotal возвращает стоимость позиции.
func (i OrderItem) Subtotal() int64 {
	return int64(i.Quantity) * i.UnitPrice
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID     string
	UserID int64
	Status OrderStatus
	Items  []OrderItem
	// CouponID равен нулю, если купон не применялся.
	CouponID       int64
	TotalAmount    int64
	DiscountAmount int64
	FinalAmount    int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID <= 0 {
		errs = append(errs, ErrUserIDRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	var calc int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += item.Subtotal()
	}
	if calc != o.TotalAmount {
		errs = append(errs, ErrAmountMismatch)
	}
	if o.DiscountAmount < 0 || o.DiscountAmount > o.TotalAmount || o.FinalAmount != o.TotalAmount-o.DiscountAmount {
		errs = append(errs, ErrDiscountInvalid)
	}

	return errs
}

// Complete переводит заказ в COMPLETED.
func (o *Order) Complete(now time.Time) error {
	return o.transition(OrderStatusCompleted, now)
}

// Cancel переводит заказ в CANCELLED.
func (o *Order) Cancel(now time.Time) error {
	return o.transition(OrderStatusCancelled, now)
}

func (o *Order) transition(next OrderStatus, now time.Time) error {
	if o.Status != OrderStatusPending {
		return ErrInvalidTransition
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}
