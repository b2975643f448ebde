// Package reservation подтверждает бронирование мест на концерт: оплата, списание баланса
// и запись события reservation-confirmed в outbox.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/ledger"
	"github.com/vladislavdragonenkov/fulfillment/internal/lock"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
)

const (
	defaultPaymentTimeout = 3 * time.Second
	deliveryAllowance     = 5 * time.Second
)

// ReserveCommand — запрос на бронирование.
type ReserveCommand struct {
	UserID      int64
	ConcertName string
	ConcertDate time.Time
	SeatCount   int32
	TotalAmount int64
}

// Result — подтверждённая бронь и запись outbox.
type Result struct {
	Reservation domain.Reservation
	Outbox      domain.OutboxRecord
}

// Service подтверждает брони.
type Service struct {
	uow            domain.UnitOfWork
	locker         *lock.Locker
	ledger         *ledger.Ledger
	recorder       *outbox.Recorder
	gateway        domain.PaymentGateway
	accounts       domain.AccountRepository
	reservations   domain.ReservationRepository
	clock          domain.Clock
	logger         *log.Entry
	paymentTimeout time.Duration
	buyerLease     time.Duration
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock задаёт источник времени.
func WithClock(clock domain.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPaymentTimeout ограничивает вызов платёжного шлюза.
func WithPaymentTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.paymentTimeout = timeout
		}
	}
}

// WithBuyerLease фиксирует аренду блокировки покупателя. Ноль оставляет расчётную.
func WithBuyerLease(lease time.Duration) Option {
	return func(s *Service) {
		if lease > 0 {
			s.buyerLease = lease
		}
	}
}

// NewService создаёт сервис подтверждения броней.
func NewService(
	uow domain.UnitOfWork,
	locker *lock.Locker,
	l *ledger.Ledger,
	recorder *outbox.Recorder,
	gateway domain.PaymentGateway,
	accounts domain.AccountRepository,
	reservations domain.ReservationRepository,
	options ...Option,
) *Service {
	s := &Service{
		uow:            uow,
		locker:         locker,
		ledger:         l,
		recorder:       recorder,
		gateway:        gateway,
		accounts:       accounts,
		reservations:   reservations,
		clock:          domain.SystemClock{},
		logger:         log.New().WithField("component", "reservation"),
		paymentTimeout: defaultPaymentTimeout,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Confirm создаёт бронь, проводит оплату и подтверждает её.
// Ошибка имеет тип *saga.FulfillmentError, OrderID в ней равен id брони, если бронь успела создаться.
func (s *Service) Confirm(ctx context.Context, cmd ReserveCommand) (Result, error) {
	now := s.clock.Now()
	res := domain.Reservation{
		ID:          uuid.NewString(),
		UserID:      cmd.UserID,
		ConcertName: cmd.ConcertName,
		ConcertDate: cmd.ConcertDate,
		SeatCount:   cmd.SeatCount,
		TotalAmount: cmd.TotalAmount,
		Status:      domain.ReservationStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	logger := s.logger.WithFields(log.Fields{
		"reservation_id": res.ID,
		"user_id":        res.UserID,
	})

	if errs := res.Validate(); len(errs) > 0 {
		return Result{}, saga.NewFailure("", errors.Join(errs...))
	}
	if _, err := s.accounts.Get(ctx, res.UserID); err != nil {
		return Result{}, saga.NewFailure("", err)
	}

	var (
		result  Result
		created bool
	)
	err := s.locker.WithLease(ctx, lock.OrderUserKey(res.UserID), s.lease(), func(ctx context.Context) error {
		if err := s.reservations.Create(ctx, res); err != nil {
			return fmt.Errorf("create reservation: %w", err)
		}
		created = true

		charged, err := s.settle(ctx, res)
		if err != nil {
			s.compensate(ctx, logger, res, charged)
			return err
		}

		result, err = s.complete(ctx, res)
		if err != nil {
			s.compensate(ctx, logger, res, true)
			return err
		}
		return nil
	})
	if err != nil {
		id := ""
		if created {
			id = res.ID
		}
		failure := saga.NewFailure(id, err)
		logger.WithError(failure.Err).WithField("reason", failure.Reason).Info("reservation rejected")
		return Result{}, failure
	}

	logger.WithField("outbox_status", result.Outbox.Status).Info("reservation confirmed")
	return result, nil
}

// lease: внутри держится одна вложенная блокировка баланса, вызов шлюза и доставка события.
func (s *Service) lease() time.Duration {
	if s.buyerLease > 0 {
		return s.buyerLease
	}
	return s.locker.HoldLease(1, s.paymentTimeout+deliveryAllowance)
}

// settle оплачивает бронь и списывает баланс. charged=true, если баланс уже списан.
func (s *Service) settle(ctx context.Context, res domain.Reservation) (bool, error) {
	payCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	err := s.gateway.Process(payCtx, res.UserID, res.TotalAmount, res.ID)
	cancel()
	if err != nil {
		return false, &saga.FulfillmentError{Reason: saga.ReasonPaymentFailed, OrderID: res.ID, Err: err}
	}

	var applied bool
	err = s.locker.WithLock(ctx, lock.UserBalanceKey(res.UserID), func(ctx context.Context) error {
		var err error
		applied, err = s.ledger.Reserve(ctx, domain.ResourceBalance, res.UserID, res.TotalAmount)
		return err
	})
	if err != nil {
		return false, err
	}
	if !applied {
		return false, domain.ErrInsufficientBalance
	}
	return true, nil
}

func (s *Service) complete(ctx context.Context, res domain.Reservation) (Result, error) {
	now := s.clock.Now()
	confirmed := res
	if err := confirmed.Confirm(now); err != nil {
		return Result{}, err
	}

	record, err := s.recorder.RecordAndSend(ctx, domain.NewReservationConfirmed(confirmed), func(ctx context.Context) error {
		return s.reservations.UpdateStatus(ctx, res.ID, domain.ReservationStatusPending, domain.ReservationStatusConfirmed, now)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Reservation: confirmed, Outbox: record}, nil
}

func (s *Service) compensate(ctx context.Context, logger *log.Entry, res domain.Reservation, charged bool) {
	ctx = context.WithoutCancel(ctx)

	if charged {
		if err := s.ledger.Restore(ctx, domain.ResourceBalance, res.UserID, res.TotalAmount); err != nil {
			logger.WithError(err).Error("failed to refund reservation")
		}
	}
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		return s.reservations.UpdateStatus(ctx, res.ID, domain.ReservationStatusPending, domain.ReservationStatusCancelled, s.clock.Now())
	})
	if err != nil {
		logger.WithError(err).Error("failed to cancel reservation")
	}
}

// Get возвращает бронь по id.
func (s *Service) Get(ctx context.Context, id string) (domain.Reservation, error) {
	return s.reservations.Get(ctx, id)
}
