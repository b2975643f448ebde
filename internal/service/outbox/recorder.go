// Package outbox фиксирует доменные события в одной единице работы с изменением
// состояния и доставляет их потребителю: сразу после фиксации и повторно фоновым воркером.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const deliveryTimeout = 5 * time.Second

// Recorder записывает событие в outbox и пытается доставить его сразу после фиксации.
type Recorder struct {
	uow       domain.UnitOfWork
	repo      domain.OutboxRepository
	publisher domain.EventPublisher
	clock     domain.Clock
	logger    *log.Entry
}

// NewRecorder создаёт Recorder. При nil publisher записи остаются PENDING до воркера.
func NewRecorder(uow domain.UnitOfWork, repo domain.OutboxRepository, publisher domain.EventPublisher, clock domain.Clock, logger *log.Entry) *Recorder {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = log.New().WithField("component", "outbox")
	}
	return &Recorder{
		uow:       uow,
		repo:      repo,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

// RecordAndSend выполняет mutate и вставку записи PENDING одной единицей работы,
// затем пытается доставить запись. Ошибка доставки не возвращается: запись остаётся FAILED.
// Ошибка сериализации возвращается до любых изменений.
func (r *Recorder) RecordAndSend(ctx context.Context, event domain.Event, mutate func(ctx context.Context) error) (domain.OutboxRecord, error) {
	record, err := r.Record(ctx, event, mutate)
	if err != nil {
		return domain.OutboxRecord{}, err
	}
	return r.Deliver(ctx, record), nil
}

// Record только фиксирует mutate и запись PENDING; доставку вызывающий делает сам через Deliver.
func (r *Recorder) Record(ctx context.Context, event domain.Event, mutate func(ctx context.Context) error) (domain.OutboxRecord, error) {
	record, err := r.newRecord(event)
	if err != nil {
		return domain.OutboxRecord{}, err
	}

	err = r.uow.Do(ctx, func(ctx context.Context) error {
		if mutate != nil {
			if err := mutate(ctx); err != nil {
				return err
			}
		}
		if err := r.repo.Insert(ctx, record); err != nil {
			return fmt.Errorf("insert outbox record: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.OutboxRecord{}, err
	}
	return record, nil
}

// Deliver публикует запись и отмечает результат. Возвращает запись с обновлённым статусом.
func (r *Recorder) Deliver(ctx context.Context, record domain.OutboxRecord) domain.OutboxRecord {
	if r.publisher == nil {
		return record
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	logger := r.logger.WithFields(log.Fields{
		"outbox_id":  record.ID,
		"event_type": record.EventType,
		"key":        record.AggregateID,
	})

	now := r.clock.Now()
	if err := r.publisher.Publish(ctx, record); err != nil {
		outboxPublishAttempts.WithLabelValues("immediate_failed").Inc()
		logger.WithError(err).Warn("outbox delivery failed, record kept for redelivery")

		record.Status = domain.OutboxStatusFailed
		record.ErrorMessage = err.Error()
		record.Attempts++
		record.UpdatedAt = now
		if markErr := r.repo.MarkFailed(ctx, record.ID, record.ErrorMessage, now); markErr != nil {
			logger.WithError(markErr).Warn("failed to mark outbox record as failed")
		}
		return record
	}

	outboxPublishAttempts.WithLabelValues("immediate_sent").Inc()
	record.Status = domain.OutboxStatusSent
	record.ErrorMessage = ""
	record.Attempts++
	record.UpdatedAt = now
	if err := r.repo.MarkSent(ctx, record.ID, now); err != nil {
		logger.WithError(err).Warn("failed to mark outbox record as sent")
	}
	return record
}

func (r *Recorder) newRecord(event domain.Event) (domain.OutboxRecord, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return domain.OutboxRecord{}, fmt.Errorf("%w: %s: %w", domain.ErrEventSerialization, event.EventType(), err)
	}

	now := r.clock.Now()
	return domain.OutboxRecord{
		ID:          uuid.NewString(),
		EventType:   event.EventType(),
		AggregateID: event.Key(),
		Topic:       event.Topic(),
		Payload:     payload,
		Status:      domain.OutboxStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
