package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/lock"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/coupon"
)

const (
	// StorageMemory — все репозитории в памяти процесса.
	StorageMemory = "memory"
	// StoragePostgres — репозитории и счётчики в PostgreSQL.
	StoragePostgres = "postgres"

	// LockMemory — блокировки в памяти процесса (один экземпляр сервиса).
	LockMemory = "memory"
	// LockRedis — распределённые блокировки в Redis.
	LockRedis = "redis"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	LockDriver        string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	LockWaitBudget    time.Duration
	LockLease         time.Duration
	LockRetryInterval time.Duration

	// LockBuyerLease задаёт lease блокировки покупателя, 0 рассчитывает его от бюджетов.
	LockBuyerLease time.Duration

	// KafkaBrokers — список брокеров через запятую; без брокеров события идут в рейтинг внутри процесса.
	KafkaBrokers string

	PaymentTimeout time.Duration

	CouponCeiling      int64
	CouponDiscountRate int32
	CouponValidity     time.Duration
	CouponPoolLock     bool

	OutboxPollInterval  time.Duration
	OutboxBatchSize     int
	OutboxMaxAttempts   int
	OutboxMaxDeliveries int
	OutboxStaleAfter    time.Duration
	OutboxRetryDelay    time.Duration
	OutboxBacklogMaxAge time.Duration

	// OutboxRetention задаёт срок хранения доставленных записей, 0 отключает очистку.
	OutboxRetention       time.Duration
	OutboxCleanupInterval time.Duration

	RankingDedupeTTL time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	locks := lock.DefaultOptions()
	coupons := coupon.DefaultConfig()

	return Config{
		MetricsAddr: ":9090",

		StorageDriver:       StorageMemory,
		PostgresAutoMigrate: true,

		LockDriver:        LockMemory,
		RedisAddr:         "localhost:6379",
		LockWaitBudget:    locks.WaitBudget,
		LockLease:         locks.Lease,
		LockRetryInterval: locks.RetryInterval,

		PaymentTimeout: 3 * time.Second,

		CouponCeiling:      coupons.Ceiling,
		CouponDiscountRate: coupons.DiscountRate,
		CouponValidity:     coupons.Validity,

		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   3,
		OutboxMaxDeliveries: 10,
		OutboxStaleAfter:    30 * time.Second,
		OutboxRetryDelay:    50 * time.Millisecond,
		OutboxBacklogMaxAge: 5 * time.Minute,

		OutboxRetention:       7 * 24 * time.Hour,
		OutboxCleanupInterval: 10 * time.Minute,

		RankingDedupeTTL: 7 * 24 * time.Hour,
	}
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage requires a DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.StorageDriver))
	}

	switch c.LockDriver {
	case LockMemory:
	case LockRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("redis lock driver requires an address"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lock driver %q", c.LockDriver))
	}

	if c.LockWaitBudget <= 0 || c.LockLease <= 0 || c.LockRetryInterval <= 0 {
		errs = append(errs, errors.New("lock budgets must be positive"))
	}
	if c.CouponCeiling < 0 {
		errs = append(errs, errors.New("coupon ceiling must be non-negative"))
	}
	if c.CouponDiscountRate < 0 || c.CouponDiscountRate > 100 {
		errs = append(errs, errors.New("coupon discount rate must be within 0..100"))
	}
	if c.LockBuyerLease < 0 {
		errs = append(errs, errors.New("buyer lock lease must be non-negative"))
	}
	if c.OutboxRetention < 0 {
		errs = append(errs, errors.New("outbox retention must be non-negative"))
	}
	if c.CouponValidity <= 0 {
		errs = append(errs, errors.New("coupon validity must be positive"))
	}

	return errors.Join(errs...)
}

// Brokers разбирает KafkaBrokers.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (c Config) lockOptions() lock.Options {
	return lock.Options{
		WaitBudget:    c.LockWaitBudget,
		Lease:         c.LockLease,
		RetryInterval: c.LockRetryInterval,
	}
}

func (c Config) couponConfig() coupon.Config {
	cfg := coupon.DefaultConfig()
	cfg.Ceiling = c.CouponCeiling
	cfg.DiscountRate = c.CouponDiscountRate
	cfg.Validity = c.CouponValidity
	return cfg
}
