package domain

import (
	"context"
	"time"
)

// UnitOfWork выполняет fn атомарно: все изменения через репозитории внутри fn
// фиксируются вместе или не фиксируются вовсе. Вложенный вызов присоединяется к внешнему.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// LockStore — хранилище ключей для распределённых блокировок.
type LockStore interface {
	// SetIfAbsent атомарно записывает token, если ключа нет, и ставит TTL.
	SetIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// CompareAndDelete удаляет ключ только если его значение равно token.
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
}

// Resource — счётчик, который меняется только условными атомарными операциями.
type Resource string

const (
	// ResourceStock — остаток товара (products.stock).
	ResourceStock Resource = "stock"
	// ResourceBalance — баланс пользователя (accounts.balance).
	ResourceBalance Resource = "balance"
	// ResourceActiveCoupons — число активных купонов пула, ограниченное потолком пула.
	ResourceActiveCoupons Resource = "active_coupons"
)

// Guard — условие, при котором изменение счётчика применяется.
type Guard int

const (
	// GuardNonNegative: значение после изменения >= 0.
	GuardNonNegative Guard = iota
	// GuardWithinCeiling: 0 <= значение после изменения <= потолок ресурса.
	GuardWithinCeiling
)

// CounterStore применяет условные изменения одним атомарным шагом хранилища.
type CounterStore interface {
	// Adjust прибавляет delta, если guard выполняется. Возвращает false, если строка не изменилась.
	Adjust(ctx context.Context, resource Resource, entityID, delta int64, guard Guard) (bool, error)
}

// AccountRepository хранит пользователей и их балансы.
type AccountRepository interface {
	Create(ctx context.Context, account Account) (Account, error)
	Get(ctx context.Context, userID int64) (Account, error)
}

// ProductRepository хранит товары.
type ProductRepository interface {
	Create(ctx context.Context, product Product) (Product, error)
	Get(ctx context.Context, id int64) (Product, error)
	// GetMany возвращает найденные товары; отсутствующие ID просто не попадают в результат.
	GetMany(ctx context.Context, ids []int64) (map[int64]Product, error)
}

// CouponRepository хранит купоны и пулы купонов.
type CouponRepository interface {
	// EnsurePool создаёт пул с потолком, если его ещё нет.
	EnsurePool(ctx context.Context, poolID, ceiling int64) error
	Create(ctx context.Context, coupon Coupon) (Coupon, error)
	Get(ctx context.Context, id int64) (Coupon, error)
	ListByUser(ctx context.Context, userID int64) ([]Coupon, error)
	// MarkUsed переводит купон ACTIVE→USED. false, если купон уже не активен.
	MarkUsed(ctx context.Context, id int64, usedAt time.Time) (bool, error)
	CountActive(ctx context.Context, poolID int64) (int64, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// UpdateStatus меняет статус только если текущий равен from.
	UpdateStatus(ctx context.Context, id string, from, to OrderStatus, at time.Time) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]Order, error)
}

// PaymentRepository хранит платежи по заказам.
type PaymentRepository interface {
	Create(ctx context.Context, payment Payment) error
	GetByOrder(ctx context.Context, orderID string) (Payment, error)
	UpdateStatus(ctx context.Context, id string, from, to PaymentStatus, at time.Time) error
}

// ReservationRepository хранит бронирования.
type ReservationRepository interface {
	Create(ctx context.Context, reservation Reservation) error
	Get(ctx context.Context, id string) (Reservation, error)
	UpdateStatus(ctx context.Context, id string, from, to ReservationStatus, at time.Time) error
}

// OutboxRepository хранит записи transactional outbox.
type OutboxRepository interface {
	Insert(ctx context.Context, record OutboxRecord) error
	Get(ctx context.Context, id string) (OutboxRecord, error)
	ListByAggregate(ctx context.Context, aggregateID string) ([]OutboxRecord, error)
	// PullRetryable возвращает FAILED и PENDING (созданные раньше staleBefore) записи
	// с числом попыток меньше maxAttempts, старые первыми.
	PullRetryable(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]OutboxRecord, error)
	Stats(ctx context.Context, staleBefore time.Time, maxAttempts int) (OutboxStats, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id, errMsg string, at time.Time) error
	// DeleteSentBefore удаляет до limit записей SENT, обновлённых раньше before.
	DeleteSentBefore(ctx context.Context, before time.Time, limit int) (int, error)
}

// TimelineRepository хранит шаги жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, aggregateID string) ([]TimelineEvent, error)
}

// PaymentGateway — внешний платёжный шаг.
type PaymentGateway interface {
	// Process списывает amount у пользователя. Повтор с тем же ключом не списывает повторно.
	Process(ctx context.Context, userID, amount int64, idempotencyKey string) error
}

// EventPublisher доставляет запись outbox потребителю. Должен быть идемпотентным по ID записи.
type EventPublisher interface {
	Publish(ctx context.Context, record OutboxRecord) error
}

// RankingSink — рейтинг товаров по заказанному количеству.
type RankingSink interface {
	Increment(ctx context.Context, productID, quantity int64) error
	// IncrementBatch применяет все приращения заказа целиком или не применяет ни одного.
	IncrementBatch(ctx context.Context, quantities map[int64]int64) error
	TopK(ctx context.Context, n int) ([]int64, error)
}

// SagaStep задаёт константы шагов для метрик/логов.
type SagaStep string

const (
	SagaStepValidate   SagaStep = "validate"
	SagaStepReserve    SagaStep = "reserve_stock"
	SagaStepDiscount   SagaStep = "discount"
	SagaStepCreate     SagaStep = "create"
	SagaStepPay        SagaStep = "pay"
	SagaStepBalance    SagaStep = "reserve_balance"
	SagaStepCoupon     SagaStep = "use_coupon"
	SagaStepComplete   SagaStep = "complete"
	SagaStepCompensate SagaStep = "compensate"
)

// Clock отдаёт текущее время; подменяется в тестах.
type Clock interface {
	Now() time.Time
}

// SystemClock отдаёт time.Now в UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock всегда возвращает одно и то же время.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }
