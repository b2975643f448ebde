package payment

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryingGateway повторяет временные ошибки платёжного шлюза с тем же idempotency-ключом.
type RetryingGateway struct {
	next   domain.PaymentGateway
	config RetryConfig
	logger *log.Entry
}

// NewRetryingGateway оборачивает шлюз retry логикой.
func NewRetryingGateway(next domain.PaymentGateway, config RetryConfig, logger *log.Entry) *RetryingGateway {
	if logger == nil {
		logger = log.New().WithField("component", "payment-retry")
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}

	return &RetryingGateway{
		next:   next,
		config: config,
		logger: logger,
	}
}

// Process вызывает шлюз, повторяя ErrPaymentTemporary до MaxAttempts раз.
func (g *RetryingGateway) Process(ctx context.Context, userID, amount int64, idempotencyKey string) error {
	var lastErr error
	delay := g.config.InitialDelay

	for attempt := 1; attempt <= g.config.MaxAttempts; attempt++ {
		err := g.next.Process(ctx, userID, amount, idempotencyKey)
		if err == nil {
			if attempt > 1 {
				g.logger.WithFields(log.Fields{
					"user_id": userID,
					"key":     idempotencyKey,
					"attempt": attempt,
				}).Info("payment succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !errors.Is(err, domain.ErrPaymentTemporary) {
			return err
		}
		if attempt == g.config.MaxAttempts {
			break
		}

		g.logger.WithError(err).WithFields(log.Fields{
			"user_id": userID,
			"attempt": attempt,
			"delay":   delay,
		}).Warn("payment failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * g.config.BackoffFactor)
		if g.config.MaxDelay > 0 && delay > g.config.MaxDelay {
			delay = g.config.MaxDelay
		}
	}

	return lastErr
}

var _ domain.PaymentGateway = (*RetryingGateway)(nil)
