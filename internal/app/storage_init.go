package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/ranking"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/fulfillment/internal/storage/redis"
)

const rankingDedupePrefix = "ranking:processed:"

// repositories: хранилища выбранного драйвера.
type repositories struct {
	uow          domain.UnitOfWork
	counters     domain.CounterStore
	accounts     domain.AccountRepository
	products     domain.ProductRepository
	coupons      domain.CouponRepository
	orders       domain.OrderRepository
	payments     domain.PaymentRepository
	reservations domain.ReservationRepository
	outbox       domain.OutboxRepository
	timeline     domain.TimelineRepository

	postgres *postgres.Store
}

func newMemoryRepositories() repositories {
	products := memory.NewProductRepository()
	accounts := memory.NewAccountRepository()
	coupons := memory.NewCouponRepository()

	return repositories{
		uow:          memory.NewUnitOfWork(),
		counters:     memory.NewCounterStore(products, accounts, coupons),
		accounts:     accounts,
		products:     products,
		coupons:      coupons,
		orders:       memory.NewOrderRepository(),
		payments:     memory.NewPaymentRepository(),
		reservations: memory.NewReservationRepository(),
		outbox:       memory.NewOutboxRepository(),
		timeline:     memory.NewTimelineRepository(),
	}
}

func newPostgresRepositories(store *postgres.Store) repositories {
	return repositories{
		uow:          store,
		counters:     postgres.NewCounterStore(store),
		accounts:     postgres.NewAccountRepository(store),
		products:     postgres.NewProductRepository(store),
		coupons:      postgres.NewCouponRepository(store),
		orders:       postgres.NewOrderRepository(store),
		payments:     postgres.NewPaymentRepository(store),
		reservations: postgres.NewReservationRepository(store),
		outbox:       postgres.NewOutboxRepository(store),
		timeline:     postgres.NewTimelineRepository(store),
		postgres:     store,
	}
}

// initStorage открывает хранилище по cfg.StorageDriver и при необходимости применяет миграции.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (repositories, error) {
	if cfg.StorageDriver != StoragePostgres {
		logger.Info("using in-memory storage")
		return newMemoryRepositories(), nil
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return repositories{}, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return repositories{}, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("postgres schema is up to date")
	}
	logger.Info("using postgres storage")
	return newPostgresRepositories(store), nil
}

// initLockStore выбирает хранилище блокировок. Клиент Redis возвращается, чтобы
// переиспользовать его под рейтинг и проверку готовности.
func initLockStore(ctx context.Context, cfg Config, logger *log.Entry) (domain.LockStore, *goredis.Client, error) {
	if cfg.LockDriver != LockRedis {
		logger.Info("using in-process lock store")
		return memory.NewLockStore(), nil, nil
	}

	client, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	logger.WithField("addr", cfg.RedisAddr).Info("using redis lock store")
	return redisstore.NewLockStore(client), client, nil
}

// initRanking строит рейтинг и отметки обработанных событий поверх Redis, если он есть.
func initRanking(client *goredis.Client, dedupeTTL time.Duration) (ranking.Sink, ranking.Deduper) {
	if client == nil {
		return ranking.NewMemorySink(), ranking.NewMemoryDedupe()
	}
	return redisstore.NewRankingSink(client), redisstore.NewDedupeStore(client, rankingDedupePrefix, dedupeTTL)
}
