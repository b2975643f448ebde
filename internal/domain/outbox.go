package domain

import "time"

// OutboxStatus описывает состояние записи transactional outbox.
type OutboxStatus string

const (
	// OutboxStatusPending — запись создана вместе с доменным изменением, доставка не подтверждена.
	OutboxStatusPending OutboxStatus = "PENDING"
	// OutboxStatusSent — сообщение доставлено потребителю.
	OutboxStatusSent OutboxStatus = "SENT"
	// OutboxStatusFailed — последняя попытка доставки не удалась, запись ждёт повторной доставки.
	OutboxStatusFailed OutboxStatus = "FAILED"
)

// OutboxRecord хранит сериализованное событие и историю его доставки.
type OutboxRecord struct {
	ID          string
	EventType   string
	AggregateID string
	Topic       string
	Payload     []byte
	Status      OutboxStatus
	// ErrorMessage заполняется для FAILED.
	ErrorMessage string
	Attempts     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OutboxStats описывает backlog записей, ожидающих (повторной) доставки.
type OutboxStats struct {
	RetryableCount    int
	OldestRetryableAt time.Time
}
