// Package lock реализует распределённые блокировки поверх LockStore:
// SET-if-absent с TTL для захвата и compare-and-delete по токену владельца для освобождения.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	defaultWaitBudget    = 5 * time.Second
	defaultLease         = 8 * time.Second
	defaultRetryInterval = 50 * time.Millisecond
	releaseTimeout       = time.Second
)

var (
	lockAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_lock_acquire_total",
		Help: "Total number of lock acquisitions grouped by result.",
	}, []string{"result"})
	lockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fulfillment_lock_wait_seconds",
		Help:    "Time spent waiting for a lock.",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})
	lockReleaseMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_lock_release_miss_total",
		Help: "Releases that found the lock expired, reassigned or unreachable.",
	})
)

// Handle описывает захваченную блокировку.
type Handle struct {
	Key           string
	Token         string
	LeaseDeadline time.Time
}

// AcquireError сообщает, какой ключ не удалось захватить.
// Err оборачивает domain.ErrLockTimeout или domain.ErrLockStoreUnavailable.
type AcquireError struct {
	Key string
	Err error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("acquire lock %q: %v", e.Key, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// Options задаёт бюджеты ожидания по умолчанию.
type Options struct {
	WaitBudget    time.Duration
	Lease         time.Duration
	RetryInterval time.Duration
}

// DefaultOptions возвращает параметры по умолчанию: ожидание 5s, lease 8s, опрос каждые 50ms.
func DefaultOptions() Options {
	return Options{
		WaitBudget:    defaultWaitBudget,
		Lease:         defaultLease,
		RetryInterval: defaultRetryInterval,
	}
}

// Option настраивает Locker.
type Option func(*Locker)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(l *Locker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithOptions задаёт бюджеты ожидания.
func WithOptions(opts Options) Option {
	return func(l *Locker) {
		if opts.WaitBudget > 0 {
			l.opts.WaitBudget = opts.WaitBudget
		}
		if opts.Lease > 0 {
			l.opts.Lease = opts.Lease
		}
		if opts.RetryInterval > 0 {
			l.opts.RetryInterval = opts.RetryInterval
		}
	}
}

// Locker выдаёт именованные блокировки с ограниченным ожиданием и lease.
type Locker struct {
	store  domain.LockStore
	opts   Options
	logger *log.Entry
	now    func() time.Time
}

// NewLocker создаёт Locker поверх хранилища.
func NewLocker(store domain.LockStore, options ...Option) *Locker {
	l := &Locker{
		store:  store,
		opts:   DefaultOptions(),
		logger: log.New().WithField("component", "lock"),
		now:    time.Now,
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// Options возвращает действующие параметры.
func (l *Locker) Options() Options { return l.opts }

// Acquire пытается захватить key, опрашивая хранилище до истечения waitBudget.
func (l *Locker) Acquire(ctx context.Context, key string, waitBudget, lease time.Duration) (*Handle, error) {
	storeKey := KeyPrefix + key
	token := uuid.NewString()
	started := l.now()
	deadline := started.Add(waitBudget)

	var (
		lastStoreErr error
		sawBusy      bool
	)
	for {
		ok, err := l.store.SetIfAbsent(ctx, storeKey, token, lease)
		switch {
		case err != nil:
			lastStoreErr = err
		case ok:
			now := l.now()
			lockWaitSeconds.Observe(now.Sub(started).Seconds())
			lockAcquireTotal.WithLabelValues("acquired").Inc()
			return &Handle{Key: storeKey, Token: token, LeaseDeadline: now.Add(lease)}, nil
		default:
			sawBusy = true
		}

		if !l.now().Before(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			lockAcquireTotal.WithLabelValues("canceled").Inc()
			return nil, &AcquireError{Key: storeKey, Err: fmt.Errorf("%w: %w", domain.ErrLockTimeout, ctx.Err())}
		case <-time.After(l.opts.RetryInterval):
		}
	}

	lockWaitSeconds.Observe(l.now().Sub(started).Seconds())
	if !sawBusy && lastStoreErr != nil {
		lockAcquireTotal.WithLabelValues("unavailable").Inc()
		return nil, &AcquireError{Key: storeKey, Err: fmt.Errorf("%w: %w", domain.ErrLockStoreUnavailable, lastStoreErr)}
	}
	lockAcquireTotal.WithLabelValues("timeout").Inc()
	return nil, &AcquireError{Key: storeKey, Err: domain.ErrLockTimeout}
}

// Release освобождает блокировку, если она всё ещё принадлежит владельцу handle.
// Неудача только логируется: lease истечёт сам.
func (l *Locker) Release(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	ok, err := l.store.CompareAndDelete(ctx, h.Key, h.Token)
	if err != nil {
		lockReleaseMisses.Inc()
		l.logger.WithError(err).WithField("key", h.Key).Warn("failed to release lock")
		return
	}
	if !ok {
		lockReleaseMisses.Inc()
		l.logger.WithField("key", h.Key).Warn("lock already expired or taken by another owner")
	}
}

// WithLock выполняет fn под блокировкой key с параметрами по умолчанию.
// Блокировка освобождается при любом исходе fn.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.WithLease(ctx, key, l.opts.Lease, fn)
}

// WithLease как WithLock, но с явным lease: для блокировок, которые держатся
// на время нескольких вложенных захватов и внешних вызовов.
func (l *Locker) WithLease(ctx context.Context, key string, lease time.Duration, fn func(ctx context.Context) error) error {
	if lease <= 0 {
		lease = l.opts.Lease
	}
	h, err := l.Acquire(ctx, key, l.opts.WaitBudget, lease)
	if err != nil {
		return err
	}
	defer l.Release(ctx, h)

	return fn(ctx)
}

// HoldLease оценивает lease внешней блокировки, под которой берутся nested
// вложенных блокировок и выполняется работа длительностью до extra.
// Каждая вложенная блокировка может ждать до WaitBudget.
func (l *Locker) HoldLease(nested int, extra time.Duration) time.Duration {
	if nested < 0 {
		nested = 0
	}
	return l.opts.Lease + time.Duration(nested)*l.opts.WaitBudget + extra
}

// IsAcquireError проверяет, что ошибка пришла из Acquire.
func IsAcquireError(err error) bool {
	var acquireErr *AcquireError
	return errors.As(err, &acquireErr)
}
