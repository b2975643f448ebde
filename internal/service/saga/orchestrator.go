// Package saga исполняет заказ: резерв остатков, скидка по купону, оплата, списание баланса
// и завершение с записью события в outbox. Любой отказ после создания заказа компенсируется.
package saga

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/ledger"
	"github.com/vladislavdragonenkov/fulfillment/internal/lock"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/coupon"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
)

const (
	defaultPaymentTimeout = 3 * time.Second
	// deliveryAllowance — запас аренды на фиксацию и доставку события в outbox.
	deliveryAllowance = 5 * time.Second
)

// ItemRequest — строка заказа от клиента.
type ItemRequest struct {
	ProductID int64
	Quantity  int32
}

// PlaceOrderCommand — запрос на оформление заказа. CouponID = 0 означает без купона.
type PlaceOrderCommand struct {
	UserID   int64
	Items    []ItemRequest
	CouponID int64
}

// OrderResult — итог успешной саги.
type OrderResult struct {
	Order   domain.Order
	Payment domain.Payment
	Outbox  domain.OutboxRecord
}

// Dependencies — порты, которыми пользуется сага.
type Dependencies struct {
	UoW      domain.UnitOfWork
	Locker   *lock.Locker
	Ledger   *ledger.Ledger
	Coupons  *coupon.Limiter
	Outbox   *outbox.Recorder
	Gateway  domain.PaymentGateway
	Accounts domain.AccountRepository
	Products domain.ProductRepository
	Orders   domain.OrderRepository
	Payments domain.PaymentRepository
	Timeline domain.TimelineRepository
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics подменяет метрики (например, изолированный регистр в тестах).
func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithoutMetrics отключает метрики.
func WithoutMetrics() Option {
	return func(o *Orchestrator) {
		o.metrics = nil
	}
}

// WithClock задаёт источник времени для статусов и timeline.
func WithClock(clock domain.Clock) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithPaymentTimeout ограничивает вызов платёжного шлюза.
func WithPaymentTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.paymentTimeout = timeout
		}
	}
}

// WithBuyerLease фиксирует аренду блокировки покупателя. Ноль оставляет расчётную.
func WithBuyerLease(lease time.Duration) Option {
	return func(o *Orchestrator) {
		if lease > 0 {
			o.buyerLease = lease
		}
	}
}

// Orchestrator реализует сагу исполнения заказа.
type Orchestrator struct {
	deps           Dependencies
	logger         *log.Entry
	metrics        *metrics.SagaMetrics
	clock          domain.Clock
	paymentTimeout time.Duration
	buyerLease     time.Duration
}

// NewOrchestrator создаёт сагу.
func NewOrchestrator(deps Dependencies, options ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:           deps,
		logger:         log.New().WithField("component", "saga"),
		metrics:        metrics.NewSagaMetrics(),
		clock:          domain.SystemClock{},
		paymentTimeout: defaultPaymentTimeout,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// run хранит состояние одной саги для компенсации.
type run struct {
	orderID  string
	userID   int64
	couponID int64
	items    []domain.OrderItem
	total    int64
	discount int64

	reserved []domain.OrderItem
	order    domain.Order
	payment  domain.Payment
	created  bool
	charged  bool
}

func (r *run) final() int64 { return r.total - r.discount }

// Place оформляет заказ. Ошибка всегда *FulfillmentError.
func (o *Orchestrator) Place(ctx context.Context, cmd PlaceOrderCommand) (OrderResult, error) {
	started := time.Now()
	if o.metrics != nil {
		o.metrics.RecordSagaStarted()
		defer func() { o.metrics.RecordSagaFinished(time.Since(started)) }()
	}

	r := &run{orderID: uuid.NewString(), userID: cmd.UserID, couponID: cmd.CouponID}
	logger := o.logger.WithFields(log.Fields{
		"order_id": r.orderID,
		"user_id":  cmd.UserID,
	})

	stepStarted := time.Now()
	err := o.validate(ctx, cmd, r)
	o.observeStep(domain.SagaStepValidate, stepStarted)
	if err != nil {
		return OrderResult{}, o.fail(logger, r, err)
	}

	var result OrderResult
	err = o.deps.Locker.WithLease(ctx, lock.OrderUserKey(r.userID), o.leaseFor(r), func(ctx context.Context) error {
		var err error
		result, err = o.fulfil(ctx, logger, r)
		return err
	})
	if err != nil {
		return OrderResult{}, o.fail(logger, r, err)
	}

	if o.metrics != nil {
		o.metrics.RecordSagaCompleted()
	}
	logger.WithFields(log.Fields{
		"final_amount":  result.Order.FinalAmount,
		"outbox_status": result.Outbox.Status,
	}).Info("order completed")
	return result, nil
}

// leaseFor покрывает худший случай саги под блокировкой покупателя: ожидание каждой
// вложенной блокировки (товары, баланс, купон), таймаут шлюза и доставку события.
func (o *Orchestrator) leaseFor(r *run) time.Duration {
	if o.buyerLease > 0 {
		return o.buyerLease
	}
	return o.deps.Locker.HoldLease(len(r.items)+2, o.paymentTimeout+deliveryAllowance)
}

// validate проверяет запрос до касания ресурсов и считает сумму заказа.
func (o *Orchestrator) validate(ctx context.Context, cmd PlaceOrderCommand, r *run) error {
	if cmd.UserID <= 0 {
		return domain.ErrUserIDRequired
	}
	if len(cmd.Items) == 0 {
		return domain.ErrItemsRequired
	}

	// Повторяющиеся товары сливаются в одну строку.
	quantities := make(map[int64]int64, len(cmd.Items))
	for _, item := range cmd.Items {
		if item.Quantity <= 0 {
			return domain.ErrItemQtyInvalid
		}
		quantities[item.ProductID] += int64(item.Quantity)
	}

	ids := make([]int64, 0, len(quantities))
	for id, qty := range quantities {
		if qty > math.MaxInt32 {
			return domain.ErrItemQtyInvalid
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if _, err := o.deps.Accounts.Get(ctx, cmd.UserID); err != nil {
		return err
	}
	products, err := o.deps.Products.GetMany(ctx, ids)
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}

	r.items = make([]domain.OrderItem, 0, len(ids))
	for _, id := range ids {
		product, ok := products[id]
		if !ok {
			return fmt.Errorf("product %d: %w", id, domain.ErrProductNotFound)
		}
		item := domain.OrderItem{ProductID: id, Quantity: int32(quantities[id]), UnitPrice: product.Price}
		r.items = append(r.items, item)
		r.total += item.Subtotal()
	}
	return nil
}

// fulfil выполняется под блокировкой покупателя.
func (o *Orchestrator) fulfil(ctx context.Context, logger *log.Entry, r *run) (OrderResult, error) {
	if err := o.reserveStock(ctx, r); err != nil {
		o.restoreStock(ctx, logger, r)
		return OrderResult{}, err
	}

	if err := o.applyDiscount(ctx, r); err != nil {
		o.restoreStock(ctx, logger, r)
		return OrderResult{}, err
	}

	if err := o.create(ctx, r); err != nil {
		o.restoreStock(ctx, logger, r)
		return OrderResult{}, err
	}

	result, err := o.settle(ctx, r)
	if err != nil {
		o.compensate(ctx, logger, r, err)
		return OrderResult{}, err
	}
	return result, nil
}

func (o *Orchestrator) settle(ctx context.Context, r *run) (OrderResult, error) {
	if err := o.pay(ctx, r); err != nil {
		return OrderResult{}, err
	}
	if err := o.reserveBalance(ctx, r); err != nil {
		return OrderResult{}, err
	}
	return o.complete(ctx, r)
}

// reserveStock резервирует товары по возрастанию id, каждый под своей блокировкой.
func (o *Orchestrator) reserveStock(ctx context.Context, r *run) error {
	defer o.observeStep(domain.SagaStepReserve, time.Now())

	for _, item := range r.items {
		var applied bool
		err := o.deps.Locker.WithLock(ctx, lock.ProductStockKey(item.ProductID), func(ctx context.Context) error {
			var err error
			applied, err = o.deps.Ledger.Reserve(ctx, domain.ResourceStock, item.ProductID, int64(item.Quantity))
			return err
		})
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("product %d: %w", item.ProductID, domain.ErrInsufficientStock)
		}
		r.reserved = append(r.reserved, item)
	}

	o.appendTimeline(ctx, r.orderID, domain.SagaStepReserve, fmt.Sprintf("%d items reserved", len(r.reserved)))
	return nil
}

func (o *Orchestrator) applyDiscount(ctx context.Context, r *run) error {
	if r.couponID == 0 {
		return nil
	}
	defer o.observeStep(domain.SagaStepDiscount, time.Now())

	c, err := o.deps.Coupons.Usable(ctx, r.couponID, r.userID)
	if err != nil {
		return fmt.Errorf("coupon %d: %w", r.couponID, err)
	}
	r.discount = c.Discount(r.total)

	o.appendTimeline(ctx, r.orderID, domain.SagaStepDiscount, fmt.Sprintf("coupon %d discount %d", c.ID, r.discount))
	return nil
}

// create записывает заказ и платёж в статусе PENDING одной единицей работы.
func (o *Orchestrator) create(ctx context.Context, r *run) error {
	defer o.observeStep(domain.SagaStepCreate, time.Now())

	now := o.clock.Now()
	order := domain.Order{
		ID:             r.orderID,
		UserID:         r.userID,
		Status:         domain.OrderStatusPending,
		Items:          r.items,
		CouponID:       r.couponID,
		TotalAmount:    r.total,
		DiscountAmount: r.discount,
		FinalAmount:    r.final(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	payment := domain.Payment{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Amount:    order.FinalAmount,
		Status:    domain.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errs := payment.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	err := o.deps.UoW.Do(ctx, func(ctx context.Context) error {
		if err := o.deps.Orders.Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := o.deps.Payments.Create(ctx, payment); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.order = order
	r.payment = payment
	r.created = true
	o.appendTimeline(ctx, r.orderID, domain.SagaStepCreate, "order and payment pending")
	return nil
}

// pay вызывает платёжный шлюз, ключ идемпотентности равен id платежа.
func (o *Orchestrator) pay(ctx context.Context, r *run) error {
	if r.final() == 0 {
		return nil
	}
	defer o.observeStep(domain.SagaStepPay, time.Now())

	payCtx, cancel := context.WithTimeout(ctx, o.paymentTimeout)
	defer cancel()

	if err := o.deps.Gateway.Process(payCtx, r.userID, r.final(), r.payment.ID); err != nil {
		return &FulfillmentError{Reason: ReasonPaymentFailed, OrderID: r.orderID, Err: err}
	}
	o.appendTimeline(ctx, r.orderID, domain.SagaStepPay, fmt.Sprintf("payment %s processed", r.payment.ID))
	return nil
}

func (o *Orchestrator) reserveBalance(ctx context.Context, r *run) error {
	if r.final() == 0 {
		return nil
	}
	defer o.observeStep(domain.SagaStepBalance, time.Now())

	var applied bool
	err := o.deps.Locker.WithLock(ctx, lock.UserBalanceKey(r.userID), func(ctx context.Context) error {
		var err error
		applied, err = o.deps.Ledger.Reserve(ctx, domain.ResourceBalance, r.userID, r.final())
		return err
	})
	if err != nil {
		return err
	}
	if !applied {
		return domain.ErrInsufficientBalance
	}

	r.charged = true
	o.appendTimeline(ctx, r.orderID, domain.SagaStepBalance, fmt.Sprintf("balance charged %d", r.final()))
	return nil
}

// complete фиксирует купон, статусы и запись outbox одной единицей работы.
// Блокировка купона держится на всё время фиксации; доставка события идёт после её снятия.
func (o *Orchestrator) complete(ctx context.Context, r *run) (OrderResult, error) {
	defer o.observeStep(domain.SagaStepComplete, time.Now())

	now := o.clock.Now()
	order := r.order
	if err := order.Complete(now); err != nil {
		return OrderResult{}, err
	}
	payment := r.payment
	if err := payment.Complete(now); err != nil {
		return OrderResult{}, err
	}

	commit := func(ctx context.Context) (domain.OutboxRecord, error) {
		return o.deps.Outbox.Record(ctx, domain.NewOrderCompleted(order), func(ctx context.Context) error {
			if r.couponID != 0 {
				if err := o.deps.Coupons.Use(ctx, r.couponID, r.userID); err != nil {
					return fmt.Errorf("use coupon %d: %w", r.couponID, err)
				}
			}
			if err := o.deps.Orders.UpdateStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCompleted, now); err != nil {
				return fmt.Errorf("complete order: %w", err)
			}
			if err := o.deps.Payments.UpdateStatus(ctx, payment.ID, domain.PaymentStatusPending, domain.PaymentStatusCompleted, now); err != nil {
				return fmt.Errorf("complete payment: %w", err)
			}
			return nil
		})
	}

	var (
		record domain.OutboxRecord
		err    error
	)
	if r.couponID != 0 {
		err = o.deps.Locker.WithLock(ctx, lock.CouponUseKey(r.couponID), func(ctx context.Context) error {
			var err error
			record, err = commit(ctx)
			return err
		})
	} else {
		record, err = commit(ctx)
	}
	if err != nil {
		return OrderResult{}, err
	}
	if r.couponID != 0 {
		o.appendTimeline(ctx, r.orderID, domain.SagaStepCoupon, fmt.Sprintf("coupon %d used", r.couponID))
	}
	o.appendTimeline(ctx, r.orderID, domain.SagaStepComplete, "order completed")

	record = o.deps.Outbox.Deliver(ctx, record)
	return OrderResult{Order: order, Payment: payment, Outbox: record}, nil
}

// compensate откатывает созданный заказ: FAILED/CANCELLED, возврат баланса и остатков.
// Выполняется и после отмены ctx.
func (o *Orchestrator) compensate(ctx context.Context, logger *log.Entry, r *run, cause error) {
	defer o.observeStep(domain.SagaStepCompensate, time.Now())
	ctx = context.WithoutCancel(ctx)

	now := o.clock.Now()
	err := o.deps.UoW.Do(ctx, func(ctx context.Context) error {
		if err := o.deps.Payments.UpdateStatus(ctx, r.payment.ID, domain.PaymentStatusPending, domain.PaymentStatusFailed, now); err != nil {
			return fmt.Errorf("fail payment: %w", err)
		}
		if err := o.deps.Orders.UpdateStatus(ctx, r.orderID, domain.OrderStatusPending, domain.OrderStatusCancelled, now); err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
		return nil
	})
	if err != nil {
		logger.WithError(err).Error("failed to cancel order during compensation")
	}

	if r.charged {
		if err := o.deps.Ledger.Restore(ctx, domain.ResourceBalance, r.userID, r.final()); err != nil {
			logger.WithError(err).Error("failed to refund balance")
		} else {
			r.charged = false
		}
	}
	o.restoreStock(ctx, logger, r)

	if o.metrics != nil {
		o.metrics.RecordSagaCompensated()
	}
	o.appendTimeline(ctx, r.orderID, domain.SagaStepCompensate, string(reasonFor(cause)))
}

// restoreStock возвращает уже зарезервированные позиции без блокировок: Restore атомарен сам по себе.
func (o *Orchestrator) restoreStock(ctx context.Context, logger *log.Entry, r *run) {
	ctx = context.WithoutCancel(ctx)
	for _, item := range r.reserved {
		if err := o.deps.Ledger.Restore(ctx, domain.ResourceStock, item.ProductID, int64(item.Quantity)); err != nil {
			logger.WithError(err).WithField("product_id", item.ProductID).Error("failed to restore stock")
		}
	}
	r.reserved = nil
}

func (o *Orchestrator) fail(logger *log.Entry, r *run, err error) error {
	orderID := ""
	if r.created {
		orderID = r.orderID
	}
	failure := NewFailure(orderID, err)

	if o.metrics != nil {
		o.metrics.RecordSagaFailed(string(failure.Reason))
	}

	entry := logger.WithError(failure.Err).WithField("reason", failure.Reason)
	switch {
	case failure.Reason == ReasonInternal || failure.Reason == ReasonLockUnavailable:
		entry.Error("order failed")
	case failure.Reason == ReasonPaymentFailed:
		entry.Warn("order failed")
	default:
		entry.Info("order rejected")
	}
	return failure
}

func (o *Orchestrator) appendTimeline(ctx context.Context, orderID string, step domain.SagaStep, detail string) {
	if o.deps.Timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		AggregateID: orderID,
		Step:        step,
		Detail:      detail,
		Occurred:    o.clock.Now(),
	}
	if err := o.deps.Timeline.Append(context.WithoutCancel(ctx), event); err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append timeline event")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordTimelineEvent()
	}
}

func (o *Orchestrator) observeStep(step domain.SagaStep, started time.Time) {
	if o.metrics != nil {
		o.metrics.RecordStepDuration(string(step), time.Since(started))
	}
}
