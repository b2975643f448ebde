package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const outboxColumns = `id, event_type, aggregate_id, topic, payload, status, error_message, attempts, created_at, updated_at`

// retryableCondition отбирает FAILED или зависшие PENDING с запасом попыток.
const retryableCondition = `
	(status = 'FAILED' OR (status = 'PENDING' AND created_at < $1))
	AND ($2 <= 0 OR attempts < $2)`

type outboxRepository struct {
	store *Store
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{store: store}
}

func (r *outboxRepository) Insert(ctx context.Context, record domain.OutboxRecord) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO outbox_records (`+outboxColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		record.ID, record.EventType, record.AggregateID, record.Topic, record.Payload,
		string(record.Status), record.ErrorMessage, record.Attempts, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert outbox record: %w", err)
	}
	return nil
}

func (r *outboxRepository) Get(ctx context.Context, id string) (domain.OutboxRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record, err := scanOutbox(r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OutboxRecord{}, domain.ErrOutboxRecordNotFound
		}
		return domain.OutboxRecord{}, fmt.Errorf("select outbox record: %w", err)
	}
	return record, nil
}

func (r *outboxRepository) ListByAggregate(ctx context.Context, aggregateID string) ([]domain.OutboxRecord, error) {
	return r.list(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_records
		WHERE aggregate_id = $1
		ORDER BY created_at, id
	`, aggregateID)
}

func (r *outboxRepository) PullRetryable(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]domain.OutboxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_records
		WHERE `+retryableCondition+`
		ORDER BY created_at, id
		LIMIT $3
	`, staleBefore, maxAttempts, limit)
}

func (r *outboxRepository) Stats(ctx context.Context, staleBefore time.Time, maxAttempts int) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_records
		WHERE `+retryableCondition,
		staleBefore, maxAttempts,
	).Scan(&stats.RetryableCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}

	if oldest.Valid {
		stats.OldestRetryableAt = oldest.Time.UTC()
	}
	return stats, nil
}

// DeleteSentBefore удаляет порцию доставленных записей, начиная с самых старых.
func (r *outboxRepository) DeleteSentBefore(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, `
		DELETE FROM outbox_records
		WHERE id IN (
			SELECT id FROM outbox_records
			WHERE status = 'SENT' AND updated_at < $1
			ORDER BY created_at, id
			LIMIT $2
		)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("delete sent outbox records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete sent outbox records: %w", err)
	}
	return int(deleted), nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	return r.markStatus(ctx, id, domain.OutboxStatusSent, "", at)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id, errMsg string, at time.Time) error {
	return r.markStatus(ctx, id, domain.OutboxStatusFailed, errMsg, at)
}

func (r *outboxRepository) markStatus(ctx context.Context, id string, status domain.OutboxStatus, errMsg string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, `
		UPDATE outbox_records
		SET status = $2,
		    error_message = $3,
		    attempts = attempts + 1,
		    updated_at = $4
		WHERE id = $1
	`, id, string(status), errMsg, at)
	if err != nil {
		return fmt.Errorf("mark outbox record as %s: %w", status, err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrOutboxRecordNotFound
	}
	return nil
}

func (r *outboxRepository) list(ctx context.Context, query string, args ...any) ([]domain.OutboxRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.store.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox records: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OutboxRecord, 0)
	for rows.Next() {
		record, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return result, nil
}

func scanOutbox(row rowScanner) (domain.OutboxRecord, error) {
	var (
		record domain.OutboxRecord
		status string
	)
	if err := row.Scan(
		&record.ID, &record.EventType, &record.AggregateID, &record.Topic, &record.Payload,
		&status, &record.ErrorMessage, &record.Attempts, &record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		return domain.OutboxRecord{}, err
	}
	record.Status = domain.OutboxStatus(status)
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
