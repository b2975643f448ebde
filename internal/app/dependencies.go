package app

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/ledger"
	"github.com/vladislavdragonenkov/fulfillment/internal/lock"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/ranking"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/balance"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/coupon"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/reservation"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/retention"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

// Dependencies хранит собранный граф компонентов сервиса.
type Dependencies struct {
	Accounts     domain.AccountRepository
	Products     domain.ProductRepository
	Orders       domain.OrderRepository
	Reservations domain.ReservationRepository
	Outbox       domain.OutboxRepository
	Timeline     domain.TimelineRepository

	Locker      *lock.Locker
	Ledger      *ledger.Ledger
	Coupons     *coupon.Limiter
	Gateway     *payment.MockGateway
	Saga        *saga.Orchestrator
	Reservation *reservation.Service
	Balance     *balance.Service

	Ranking   ranking.Sink
	Projector *ranking.Projector
	Worker    *outbox.Worker
	Retention *retention.CleanupWorker
	Consumer  *kafka.Consumer
	Health    *health.Handler

	logger  *log.Entry
	closers []func() error
}

// NewDependencies собирает сервис по конфигурации. При ошибке уже открытые ресурсы закрываются.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *Dependencies, err error) {
	if logger == nil {
		logger = log.New().WithField("component", "app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Dependencies{logger: logger}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	repos, err := initStorage(ctx, cfg, logger.WithField("component", "storage"))
	if err != nil {
		return nil, err
	}
	if repos.postgres != nil {
		d.closers = append(d.closers, repos.postgres.Close)
	}

	lockStore, redisClient, err := initLockStore(ctx, cfg, logger.WithField("component", "lock-store"))
	if err != nil {
		return nil, err
	}
	if redisClient != nil {
		d.closers = append(d.closers, redisClient.Close)
	}

	producer, err := initKafkaProducer(cfg.Brokers(), logger)
	if err != nil {
		return nil, err
	}
	if producer != nil {
		d.closers = append(d.closers, func() error {
			closeKafka(producer, logger)
			return nil
		})
	}

	d.Accounts = repos.accounts
	d.Products = repos.products
	d.Orders = repos.orders
	d.Reservations = repos.reservations
	d.Outbox = repos.outbox
	d.Timeline = repos.timeline

	d.Locker = lock.NewLocker(lockStore,
		lock.WithOptions(cfg.lockOptions()),
		lock.WithLogger(logger.WithField("component", "lock")),
	)
	d.Ledger = ledger.New(repos.counters, logger.WithField("component", "ledger"))

	couponOpts := []coupon.Option{coupon.WithLogger(logger.WithField("component", "coupon"))}
	if cfg.CouponPoolLock {
		couponOpts = append(couponOpts, coupon.WithPoolLock(d.Locker))
	}
	d.Coupons = coupon.NewLimiter(cfg.couponConfig(), repos.uow, repos.coupons, repos.accounts, d.Ledger, couponOpts...)
	if err := d.Coupons.EnsurePool(ctx); err != nil {
		return nil, fmt.Errorf("ensure coupon pool: %w", err)
	}

	sink, dedupe := initRanking(redisClient, cfg.RankingDedupeTTL)
	d.Ranking = sink
	d.Projector = ranking.NewProjector(sink, dedupe, repos.orders, logger.WithField("component", "ranking"))

	var publisher, dlq domain.EventPublisher
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer)
		dlq = kafka.NewDLQPublisher(producer)

		consumer, err := kafka.NewConsumer(cfg.Brokers(), kafka.GroupRanking, []string{domain.TopicOrderEvents},
			kafka.HandleEvents(d.Projector),
			kafka.WithDLQ(producer),
			kafka.WithConsumerLogger(logger.WithField("component", "ranking-consumer")),
		)
		if err != nil {
			return nil, err
		}
		d.Consumer = consumer
	} else {
		publisher = ranking.NewInProcessPublisher(d.Projector)
	}

	recorder := outbox.NewRecorder(repos.uow, repos.outbox, publisher, domain.SystemClock{}, logger.WithField("component", "outbox"))

	workerOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithMaxDeliveries(cfg.OutboxMaxDeliveries),
		outbox.WithStaleAfter(cfg.OutboxStaleAfter),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if dlq != nil {
		workerOpts = append(workerOpts, outbox.WithDLQPublisher(dlq))
	}
	d.Worker = outbox.NewWorker(repos.outbox, publisher, workerOpts...)
	if cfg.OutboxRetention > 0 {
		d.Retention = retention.NewCleanupWorker(repos.outbox,
			retention.WithLogger(logger.WithField("component", "outbox-retention")),
			retention.WithInterval(cfg.OutboxCleanupInterval),
			retention.WithRetention(cfg.OutboxRetention),
		)
	}

	// Внешнего платёжного провайдера нет: mock за retry-обёрткой.
	d.Gateway = payment.NewMockGateway()
	gateway := payment.NewRetryingGateway(d.Gateway, payment.DefaultRetryConfig(), logger.WithField("component", "payment"))

	d.Saga = saga.NewOrchestrator(saga.Dependencies{
		UoW:      repos.uow,
		Locker:   d.Locker,
		Ledger:   d.Ledger,
		Coupons:  d.Coupons,
		Outbox:   recorder,
		Gateway:  gateway,
		Accounts: repos.accounts,
		Products: repos.products,
		Orders:   repos.orders,
		Payments: repos.payments,
		Timeline: repos.timeline,
	},
		saga.WithLogger(logger.WithField("component", "saga")),
		saga.WithPaymentTimeout(cfg.PaymentTimeout),
		saga.WithBuyerLease(cfg.LockBuyerLease),
	)
	d.Reservation = reservation.NewService(repos.uow, d.Locker, d.Ledger, recorder, gateway, repos.accounts, repos.reservations,
		reservation.WithLogger(logger.WithField("component", "reservation")),
		reservation.WithPaymentTimeout(cfg.PaymentTimeout),
		reservation.WithBuyerLease(cfg.LockBuyerLease),
	)
	d.Balance = balance.NewService(repos.accounts, d.Locker, d.Ledger, logger.WithField("component", "balance"))

	d.Health = newHealthHandler(cfg, repos, redisClient)
	return d, nil
}

func newHealthHandler(cfg Config, repos repositories, redisClient *goredis.Client) *health.Handler {
	h := health.NewHandler(version.GetVersion())
	if repos.postgres != nil {
		h.RegisterChecker("postgres", health.NewSimpleChecker("postgres", repos.postgres.Ping))
	}
	if redisClient != nil {
		h.RegisterChecker("redis", health.NewSimpleChecker("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}
	h.RegisterChecker("outbox", health.NewOutboxBacklogChecker(
		repos.outbox,
		domain.SystemClock{},
		cfg.OutboxStaleAfter,
		cfg.OutboxMaxDeliveries,
		cfg.OutboxBacklogMaxAge,
	))
	return h
}

// Close освобождает ресурсы в обратном порядке открытия.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	if err := errors.Join(errs...); err != nil {
		d.logger.WithError(err).Warn("failed to close dependencies")
		return err
	}
	return nil
}
