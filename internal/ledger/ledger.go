// Package ledger выполняет условные атомарные изменения остатков, балансов и счётчиков пулов купонов.
// Это основная защита от перерасхода: корректность не зависит от распределённых блокировок.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// ErrZeroDelta: изменение на ноль считается ошибкой вызова.
var ErrZeroDelta = errors.New("ledger delta must not be zero")

var ledgerAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fulfillment_ledger_adjustments_total",
	Help: "Conditional counter adjustments grouped by resource and result.",
}, []string{"resource", "result"})

// Ledger применяет условные изменения через CounterStore.
type Ledger struct {
	store  domain.CounterStore
	logger *log.Entry
}

// New создаёт Ledger.
func New(store domain.CounterStore, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.New().WithField("component", "ledger")
	}
	return &Ledger{store: store, logger: logger}
}

// TryAdjust прибавляет delta к счётчику, если guard выполняется.
// applied=false означает, что ресурса не хватает или сущности нет. Это не ошибка.
func (l *Ledger) TryAdjust(ctx context.Context, resource domain.Resource, entityID, delta int64, guard domain.Guard) (bool, error) {
	if delta == 0 {
		return false, ErrZeroDelta
	}

	applied, err := l.store.Adjust(ctx, resource, entityID, delta, guard)
	if err != nil {
		ledgerAdjustments.WithLabelValues(string(resource), "error").Inc()
		return false, fmt.Errorf("adjust %s %d by %d: %w", resource, entityID, delta, err)
	}
	if !applied {
		ledgerAdjustments.WithLabelValues(string(resource), "rejected").Inc()
		l.logger.WithFields(log.Fields{
			"resource": resource,
			"entity":   entityID,
			"delta":    delta,
		}).Debug("guard rejected adjustment")
		return false, nil
	}
	ledgerAdjustments.WithLabelValues(string(resource), "applied").Inc()
	return true, nil
}

// Reserve списывает qty, не опуская счётчик ниже нуля.
func (l *Ledger) Reserve(ctx context.Context, resource domain.Resource, entityID, qty int64) (bool, error) {
	if qty <= 0 {
		return false, domain.ErrAmountInvalid
	}
	return l.TryAdjust(ctx, resource, entityID, -qty, domain.GuardNonNegative)
}

// Restore возвращает ранее списанные qty. Неприменённый возврат считается ошибкой: сущность пропала.
func (l *Ledger) Restore(ctx context.Context, resource domain.Resource, entityID, qty int64) error {
	if qty <= 0 {
		return domain.ErrAmountInvalid
	}
	applied, err := l.TryAdjust(ctx, resource, entityID, qty, domain.GuardNonNegative)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("restore %s %d: entity missing", resource, entityID)
	}
	return nil
}
