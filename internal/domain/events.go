package domain

import "time"

const (
	// EventTypeOrderCompleted — заказ оплачен и завершён.
	EventTypeOrderCompleted = "order-completed"
	// EventTypeReservationConfirmed — бронирование оплачено и подтверждено.
	EventTypeReservationConfirmed = "reservation-confirmed"

	// TopicOrderEvents — топик событий заказов.
	TopicOrderEvents = "order-events"
	// TopicReservationEvents — топик событий бронирований.
	TopicReservationEvents = "reservation-events"
)

// Event — доменное событие, которое фиксируется в outbox.
type Event interface {
	EventType() string
	Topic() string
	// Key — ключ партиционирования и агрегат, к которому относится событие.
	Key() string
}

// OrderCompleted публикуется после фиксации завершённого заказа.
type OrderCompleted struct {
	OrderID        string `json:"orderId"`
	UserID         int64  `json:"userId"`
	FinalAmount    int64  `json:"finalAmount"`
	TotalAmount    int64  `json:"totalAmount"`
	DiscountAmount int64  `json:"discountAmount"`
}

func (OrderCompleted) EventType() string { return EventTypeOrderCompleted }
func (OrderCompleted) Topic() string     { return TopicOrderEvents }
func (e OrderCompleted) Key() string     { return e.OrderID }

// NewOrderCompleted собирает событие из завершённого заказа.
func NewOrderCompleted(o Order) OrderCompleted {
	return OrderCompleted{
		OrderID:        o.ID,
		UserID:         o.UserID,
		FinalAmount:    o.FinalAmount,
		TotalAmount:    o.TotalAmount,
		DiscountAmount: o.DiscountAmount,
	}
}

// ReservationConfirmed публикуется после подтверждения бронирования.
type ReservationConfirmed struct {
	ReservationID string    `json:"reservationId"`
	UserID        int64     `json:"userId"`
	ConcertName   string    `json:"concertName"`
	ConcertDate   time.Time `json:"concertDate"`
	SeatCount     int32     `json:"seatCount"`
	TotalAmount   int64     `json:"totalAmount"`
}

func (ReservationConfirmed) EventType() string { return EventTypeReservationConfirmed }
func (ReservationConfirmed) Topic() string     { return TopicReservationEvents }
func (e ReservationConfirmed) Key() string     { return e.ReservationID }

// NewReservationConfirmed собирает событие из подтверждённой брони.
func NewReservationConfirmed(r Reservation) ReservationConfirmed {
	return ReservationConfirmed{
		ReservationID: r.ID,
		UserID:        r.UserID,
		ConcertName:   r.ConcertName,
		ConcertDate:   r.ConcertDate,
		SeatCount:     r.SeatCount,
		TotalAmount:   r.TotalAmount,
	}
}
