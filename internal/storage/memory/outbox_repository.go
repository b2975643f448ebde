package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// outboxRepositoryInMemory — простое in-memory хранилище для transactional outbox.
type outboxRepositoryInMemory struct {
	mu      sync.RWMutex
	records map[string]domain.OutboxRecord
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *outboxRepositoryInMemory {
	return &outboxRepositoryInMemory{records: make(map[string]domain.OutboxRecord)}
}

// Insert сохраняет запись; откатывается вместе с единицей работы.
func (r *outboxRepositoryInMemory) Insert(ctx context.Context, record domain.OutboxRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.ID]; exists {
		return domain.ErrAlreadyExists
	}
	record.Payload = append([]byte(nil), record.Payload...)
	r.records[record.ID] = record

	onRollback(ctx, func() {
		r.mu.Lock()
		delete(r.records, record.ID)
		r.mu.Unlock()
	})
	return nil
}

func (r *outboxRepositoryInMemory) Get(_ context.Context, id string) (domain.OutboxRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return domain.OutboxRecord{}, domain.ErrOutboxRecordNotFound
	}
	return record, nil
}

// ListByAggregate возвращает записи агрегата в порядке создания.
func (r *outboxRepositoryInMemory) ListByAggregate(_ context.Context, aggregateID string) ([]domain.OutboxRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.OutboxRecord
	for _, record := range r.records {
		if record.AggregateID == aggregateID {
			result = append(result, record)
		}
	}
	sortByCreated(result)
	return result, nil
}

// PullRetryable возвращает до limit записей, которые можно доставить повторно.
func (r *outboxRepositoryInMemory) PullRetryable(_ context.Context, staleBefore time.Time, maxAttempts, limit int) ([]domain.OutboxRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.OutboxRecord, 0, limit)
	for _, record := range r.records {
		if retryable(record, staleBefore, maxAttempts) {
			result = append(result, record)
		}
	}
	sortByCreated(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Stats возвращает размер backlog и время самой старой записи.
func (r *outboxRepositoryInMemory) Stats(_ context.Context, staleBefore time.Time, maxAttempts int) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, record := range r.records {
		if !retryable(record, staleBefore, maxAttempts) {
			continue
		}
		stats.RetryableCount++
		if stats.OldestRetryableAt.IsZero() || record.CreatedAt.Before(stats.OldestRetryableAt) {
			stats.OldestRetryableAt = record.CreatedAt
		}
	}
	return stats, nil
}

// MarkSent фиксирует успешную доставку.
func (r *outboxRepositoryInMemory) MarkSent(_ context.Context, id string, at time.Time) error {
	return r.mark(id, domain.OutboxStatusSent, "", at)
}

// MarkFailed фиксирует неудачную попытку доставки с текстом ошибки.
func (r *outboxRepositoryInMemory) MarkFailed(_ context.Context, id, errMsg string, at time.Time) error {
	return r.mark(id, domain.OutboxStatusFailed, errMsg, at)
}

func (r *outboxRepositoryInMemory) mark(id string, status domain.OutboxStatus, errMsg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxRecordNotFound
	}
	record.Status = status
	record.ErrorMessage = errMsg
	record.Attempts++
	record.UpdatedAt = at
	r.records[id] = record
	return nil
}

// DeleteSentBefore удаляет самые старые доставленные записи.
func (r *outboxRepositoryInMemory) DeleteSentBefore(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []domain.OutboxRecord
	for _, record := range r.records {
		if record.Status == domain.OutboxStatusSent && record.UpdatedAt.Before(before) {
			expired = append(expired, record)
		}
	}
	sortByCreated(expired)
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, record := range expired {
		delete(r.records, record.ID)
	}
	return len(expired), nil
}

func retryable(record domain.OutboxRecord, staleBefore time.Time, maxAttempts int) bool {
	if maxAttempts > 0 && record.Attempts >= maxAttempts {
		return false
	}
	switch record.Status {
	case domain.OutboxStatusFailed:
		return true
	case domain.OutboxStatusPending:
		return record.CreatedAt.Before(staleBefore)
	default:
		return false
	}
}

func sortByCreated(records []domain.OutboxRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
