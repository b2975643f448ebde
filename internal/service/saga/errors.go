package saga

import (
	"errors"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Reason — причина отказа саги для клиента и метрик.
type Reason string

const (
	ReasonInsufficientStock   Reason = "insufficient_stock"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonCouponUnusable      Reason = "coupon_unusable"
	ReasonLockTimeout         Reason = "lock_timeout"
	ReasonLockUnavailable     Reason = "lock_unavailable"
	ReasonPaymentFailed       Reason = "payment_failed"
	ReasonValidation          Reason = "validation"
	ReasonInternal            Reason = "internal"
)

var userMessages = map[Reason]string{
	ReasonInsufficientStock:   "not enough stock for the requested items",
	ReasonInsufficientBalance: "not enough balance to pay for the order",
	ReasonCouponUnusable:      "coupon cannot be applied to this order",
	ReasonLockTimeout:         "order is busy, please retry",
	ReasonLockUnavailable:     "service temporarily unavailable, please retry",
	ReasonPaymentFailed:       "payment failed",
	ReasonValidation:          "invalid order request",
	ReasonInternal:            "order could not be processed",
}

// FulfillmentError — типизированный отказ саги.
// Error() отдаёт только сообщение для клиента; исходная причина доступна через errors.Is/As.
type FulfillmentError struct {
	Reason  Reason
	OrderID string
	Err     error
}

func (e *FulfillmentError) Error() string {
	if msg, ok := userMessages[e.Reason]; ok {
		return msg
	}
	return userMessages[ReasonInternal]
}

func (e *FulfillmentError) Unwrap() error { return e.Err }

// ReasonOf возвращает причину отказа или пустую строку, если err не FulfillmentError.
func ReasonOf(err error) Reason {
	var fe *FulfillmentError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}

func reasonFor(err error) Reason {
	if reason := ReasonOf(err); reason != "" {
		return reason
	}
	return classify(err)
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return ReasonInsufficientStock
	case errors.Is(err, domain.ErrInsufficientBalance):
		return ReasonInsufficientBalance
	case errors.Is(err, domain.ErrCouponUnusable), errors.Is(err, domain.ErrCouponNotFound):
		return ReasonCouponUnusable
	case errors.Is(err, domain.ErrLockStoreUnavailable):
		return ReasonLockUnavailable
	case errors.Is(err, domain.ErrLockTimeout):
		return ReasonLockTimeout
	case errors.Is(err, domain.ErrPaymentDeclined), errors.Is(err, domain.ErrPaymentTemporary):
		return ReasonPaymentFailed
	case errors.Is(err, domain.ErrUserIDRequired),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrAmountInvalid),
		errors.Is(err, domain.ErrSeatCountInvalid),
		errors.Is(err, domain.ErrConcertNameRequired),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrProductNotFound):
		return ReasonValidation
	default:
		return ReasonInternal
	}
}

// NewFailure оборачивает err в FulfillmentError с причиной по типу ошибки.
// Уже типизированная ошибка возвращается как есть.
func NewFailure(orderID string, err error) *FulfillmentError {
	var fe *FulfillmentError
	if errors.As(err, &fe) {
		if fe.OrderID == "" {
			fe.OrderID = orderID
		}
		return fe
	}
	return &FulfillmentError{Reason: classify(err), OrderID: orderID, Err: err}
}
