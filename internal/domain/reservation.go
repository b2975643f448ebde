package domain

import "time"

// ReservationStatus отражает статус бронирования мест на концерт.
type ReservationStatus string

const (
	// ReservationStatusPending — бронь создана, оплата ещё не прошла.
	ReservationStatusPending ReservationStatus = "PENDING"
	// ReservationStatusConfirmed — оплачено, средства списаны.
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	// ReservationStatusCancelled — бронь отменена компенсацией.
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
)

// Reservation описывает бронирование мест на концерт.
type Reservation struct {
	ID          string
	UserID      int64
	ConcertName string
	ConcertDate time.Time
	SeatCount   int32
	TotalAmount int64
	Status      ReservationStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate проверяет, корректно ли заполнены ключевые поля бронирования.
func (r *Reservation) Validate() []error {
	var errs []error

	if r.UserID <= 0 {
		errs = append(errs, ErrUserIDRequired)
	}
	if r.ConcertName == "" {
		errs = append(errs, ErrConcertNameRequired)
	}
	if r.SeatCount <= 0 {
		errs = append(errs, ErrSeatCountInvalid)
	}
	if r.TotalAmount <= 0 {
		errs = append(errs, ErrAmountInvalid)
	}

	return errs
}

// Confirm переводит бронь в CONFIRMED.
func (r *Reservation) Confirm(now time.Time) error {
	if r.Status != ReservationStatusPending {
		return ErrInvalidTransition
	}
	r.Status = ReservationStatusConfirmed
	r.UpdatedAt = now
	return nil
}

// Cancel переводит бронь в CANCELLED.
func (r *Reservation) Cancel(now time.Time) error {
	if r.Status != ReservationStatusPending {
		return ErrInvalidTransition
	}
	r.Status = ReservationStatusCancelled
	r.UpdatedAt = now
	return nil
}
