package domain

import "time"

// PaymentStatus описывает состояние платежа в системе.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж инициирован, но не подтверждён.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusCompleted — платёж подтверждён, заказ оплачен.
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	// PaymentStatusFailed — платёж не прошёл; статус терминальный и отменяет заказ.
	PaymentStatusFailed PaymentStatus = "FAILED"
)

// Payment описывает платёж, связанный с заказом один к одному.
type Payment struct {
	ID        string
	OrderID   string
	Amount    int64
	Status    PaymentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.Amount < 0 {
		errs = append(errs, ErrAmountInvalid)
	}

	return errs
}

// Complete подтверждает платёж.
func (p *Payment) Complete(now time.Time) error {
	if p.Status != PaymentStatusPending {
		return ErrInvalidTransition
	}
	p.Status = PaymentStatusCompleted
	p.UpdatedAt = now
	return nil
}

// Fail помечает платёж неуспешным.
func (p *Payment) Fail(now time.Time) error {
	if p.Status != PaymentStatusPending {
		return ErrInvalidTransition
	}
	p.Status = PaymentStatusFailed
	p.UpdatedAt = now
	return nil
}
