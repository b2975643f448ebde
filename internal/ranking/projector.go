// Package ranking строит рейтинг товаров по событиям order-completed.
package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fulfillment_ranking_events_total",
	Help: "Events seen by the ranking projector by result",
}, []string{"result"})

var errOrderIDMissing = errors.New("order-completed event without orderId")

// Sink дополняет RankingSink чтением счётчика и сбросом.
type Sink interface {
	domain.RankingSink
	Score(ctx context.Context, productID int64) (int64, error)
	Clear(ctx context.Context) error
}

// Deduper отмечает уже применённые события. Реализации: MemoryDedupe, redis.DedupeStore.
type Deduper interface {
	MarkProcessed(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Projector применяет order-completed к рейтингу. Повторная доставка того же заказа ничего не меняет.
type Projector struct {
	sink   domain.RankingSink
	dedupe Deduper
	orders domain.OrderRepository
	logger *log.Entry
}

// NewProjector создаёт проектор рейтинга.
func NewProjector(sink domain.RankingSink, dedupe Deduper, orders domain.OrderRepository, logger *log.Entry) *Projector {
	if logger == nil {
		logger = log.New().WithField("component", "ranking")
	}
	return &Projector{sink: sink, dedupe: dedupe, orders: orders, logger: logger}
}

// Handle обрабатывает одно событие. События других типов пропускаются.
func (p *Projector) Handle(ctx context.Context, eventType string, payload []byte) error {
	if eventType != domain.EventTypeOrderCompleted {
		eventsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	var event domain.OrderCompleted
	if err := json.Unmarshal(payload, &event); err != nil {
		eventsTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("decode %s: %w", eventType, err)
	}
	if event.OrderID == "" {
		eventsTotal.WithLabelValues("invalid").Inc()
		return errOrderIDMissing
	}

	first, err := p.dedupe.MarkProcessed(ctx, event.OrderID)
	if err != nil {
		return fmt.Errorf("mark %s processed: %w", event.OrderID, err)
	}
	if !first {
		eventsTotal.WithLabelValues("duplicate").Inc()
		p.logger.WithField("order_id", event.OrderID).Debug("order already ranked")
		return nil
	}

	if err := p.apply(ctx, event.OrderID); err != nil {
		if forgetErr := p.dedupe.Forget(context.WithoutCancel(ctx), event.OrderID); forgetErr != nil {
			p.logger.WithError(forgetErr).WithField("order_id", event.OrderID).Warn("failed to reset dedupe mark")
		}
		eventsTotal.WithLabelValues("failed").Inc()
		return err
	}

	eventsTotal.WithLabelValues("applied").Inc()
	return nil
}

func (p *Projector) apply(ctx context.Context, orderID string) error {
	order, err := p.orders.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}

	// Одинаковые товары уже слиты при оформлении, но агрегируем на случай старых заказов.
	quantities := make(map[int64]int64, len(order.Items))
	for _, item := range order.Items {
		quantities[item.ProductID] += int64(item.Quantity)
	}
	// Все товары заказа применяются разом: иначе после частичного сбоя
	// повторная доставка посчитала бы уже применённые товары второй раз.
	if err := p.sink.IncrementBatch(ctx, quantities); err != nil {
		return fmt.Errorf("rank order %s: %w", orderID, err)
	}

	p.logger.WithFields(log.Fields{
		"order_id": orderID,
		"products": len(quantities),
	}).Debug("order ranked")
	return nil
}

// InProcessPublisher передаёт записи outbox сразу в проектор, когда Kafka не настроена.
type InProcessPublisher struct {
	projector *Projector
}

// NewInProcessPublisher создаёт паблишер поверх проектора.
func NewInProcessPublisher(projector *Projector) *InProcessPublisher {
	return &InProcessPublisher{projector: projector}
}

// Publish применяет запись к рейтингу.
func (p *InProcessPublisher) Publish(ctx context.Context, record domain.OutboxRecord) error {
	return p.projector.Handle(ctx, record.EventType, record.Payload)
}

var _ domain.EventPublisher = (*InProcessPublisher)(nil)
