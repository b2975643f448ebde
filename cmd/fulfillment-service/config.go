package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/app"
)

const (
	envLogLevel    = "FULFILLMENT_LOG_LEVEL"
	envMetricsAddr = "FULFILLMENT_METRICS_ADDR"

	envStorageDriver       = "FULFILLMENT_STORAGE_DRIVER"
	envPostgresDSN         = "FULFILLMENT_POSTGRES_DSN"
	envPostgresAutoMigrate = "FULFILLMENT_POSTGRES_AUTO_MIGRATE"

	envLockDriver        = "FULFILLMENT_LOCK_DRIVER"
	envRedisAddr         = "FULFILLMENT_REDIS_ADDR"
	envRedisPassword     = "FULFILLMENT_REDIS_PASSWORD"
	envRedisDB           = "FULFILLMENT_REDIS_DB"
	envLockWaitBudget    = "FULFILLMENT_LOCK_WAIT_BUDGET"
	envLockLease         = "FULFILLMENT_LOCK_LEASE"
	envLockRetryInterval = "FULFILLMENT_LOCK_RETRY_INTERVAL"
	envLockBuyerLease    = "FULFILLMENT_LOCK_BUYER_LEASE"

	envKafkaBrokers = "FULFILLMENT_KAFKA_BROKERS"

	envPaymentTimeout = "FULFILLMENT_PAYMENT_TIMEOUT"

	envCouponCeiling      = "FULFILLMENT_COUPON_CEILING"
	envCouponDiscountRate = "FULFILLMENT_COUPON_DISCOUNT_RATE"
	envCouponValidity     = "FULFILLMENT_COUPON_VALIDITY"
	envCouponPoolLock     = "FULFILLMENT_COUPON_POOL_LOCK"

	envOutboxPollInterval  = "FULFILLMENT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize     = "FULFILLMENT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts   = "FULFILLMENT_OUTBOX_MAX_ATTEMPTS"
	envOutboxMaxDeliveries = "FULFILLMENT_OUTBOX_MAX_DELIVERIES"
	envOutboxStaleAfter    = "FULFILLMENT_OUTBOX_STALE_AFTER"
	envOutboxRetryDelay    = "FULFILLMENT_OUTBOX_RETRY_DELAY"
	envOutboxBacklogMaxAge = "FULFILLMENT_OUTBOX_BACKLOG_MAX_AGE"
	envOutboxRetention     = "FULFILLMENT_OUTBOX_RETENTION"
	envOutboxCleanup       = "FULFILLMENT_OUTBOX_CLEANUP_INTERVAL"

	envRankingDedupeTTL = "FULFILLMENT_RANKING_DEDUPE_TTL"
)

type envLookup func(key string) (string, bool)

func positiveInt(v int) bool                   { return v > 0 }
func nonNegativeInt(v int) bool                { return v >= 0 }
func positiveDuration(v time.Duration) bool    { return v > 0 }
func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

// readConfigFromEnv накладывает переменные окружения на app.DefaultConfig.
// Некорректное значение не прерывает запуск: остаётся значение по умолчанию и добавляется предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	r := envReader{lookup: lookup}

	r.str(envMetricsAddr, &cfg.MetricsAddr)

	r.lower(envStorageDriver, &cfg.StorageDriver)
	r.str(envPostgresDSN, &cfg.PostgresDSN)
	r.boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	r.lower(envLockDriver, &cfg.LockDriver)
	r.str(envRedisAddr, &cfg.RedisAddr)
	r.raw(envRedisPassword, &cfg.RedisPassword)
	r.integer(envRedisDB, &cfg.RedisDB, nonNegativeInt, "must be >= 0")
	r.duration(envLockWaitBudget, &cfg.LockWaitBudget, positiveDuration, "must be > 0")
	r.duration(envLockLease, &cfg.LockLease, positiveDuration, "must be > 0")
	r.duration(envLockRetryInterval, &cfg.LockRetryInterval, positiveDuration, "must be > 0")
	r.duration(envLockBuyerLease, &cfg.LockBuyerLease, nonNegativeDuration, "must be >= 0")

	r.str(envKafkaBrokers, &cfg.KafkaBrokers)

	r.duration(envPaymentTimeout, &cfg.PaymentTimeout, positiveDuration, "must be > 0")

	var ceiling int
	if r.integer(envCouponCeiling, &ceiling, nonNegativeInt, "must be >= 0") {
		cfg.CouponCeiling = int64(ceiling)
	}
	var rate int
	if r.integer(envCouponDiscountRate, &rate, func(v int) bool { return v >= 0 && v <= 100 }, "must be within 0..100") {
		cfg.CouponDiscountRate = int32(rate)
	}
	r.duration(envCouponValidity, &cfg.CouponValidity, positiveDuration, "must be > 0")
	r.boolean(envCouponPoolLock, &cfg.CouponPoolLock)

	r.duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	r.integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	r.integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	r.integer(envOutboxMaxDeliveries, &cfg.OutboxMaxDeliveries, positiveInt, "must be > 0")
	r.duration(envOutboxStaleAfter, &cfg.OutboxStaleAfter, nonNegativeDuration, "must be >= 0")
	r.duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	r.duration(envOutboxBacklogMaxAge, &cfg.OutboxBacklogMaxAge, positiveDuration, "must be > 0")
	r.duration(envOutboxRetention, &cfg.OutboxRetention, nonNegativeDuration, "must be >= 0")
	r.duration(envOutboxCleanup, &cfg.OutboxCleanupInterval, positiveDuration, "must be > 0")

	r.duration(envRankingDedupeTTL, &cfg.RankingDedupeTTL, positiveDuration, "must be > 0")

	return cfg, r.warnings
}

// envReader применяет значения переменных к полям конфигурации и собирает предупреждения.
type envReader struct {
	lookup   envLookup
	warnings []string
}

func (r *envReader) value(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func (r *envReader) warn(key, value string, err error) {
	r.warnings = append(r.warnings, fmt.Sprintf("ignore %s=%q: %v", key, value, err))
}

func (r *envReader) raw(key string, dst *string) {
	if v, ok := r.value(key); ok {
		*dst = v
	}
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.value(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func (r *envReader) lower(key string, dst *string) {
	if v, ok := r.value(key); ok {
		*dst = strings.ToLower(strings.TrimSpace(v))
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := parseBool(v)
	if err != nil {
		r.warn(key, v, err)
		return
	}
	*dst = parsed
}

func (r *envReader) integer(key string, dst *int, valid func(int) bool, rule string) bool {
	v, ok := r.value(key)
	if !ok {
		return false
	}
	parsed, err := parseInt(v, valid, rule)
	if err != nil {
		r.warn(key, v, err)
		return false
	}
	*dst = parsed
	return true
}

func (r *envReader) duration(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := parseDuration(v, valid, rule)
	if err != nil {
		r.warn(key, v, err)
		return
	}
	*dst = parsed
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", raw, err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}
