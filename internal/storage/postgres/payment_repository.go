package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type paymentRepository struct {
	store *Store
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{store: store}
}

func (r *paymentRepository) Create(ctx context.Context, payment domain.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO payments (id, order_id, amount, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, payment.ID, payment.OrderID, payment.Amount, string(payment.Status), payment.CreatedAt, payment.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		p      domain.Payment
		status string
	)
	err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT id, order_id, amount, status, created_at, updated_at
		FROM payments WHERE order_id = $1
	`, orderID).Scan(&p.ID, &p.OrderID, &p.Amount, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	p.Status = domain.PaymentStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (r *paymentRepository) UpdateStatus(ctx context.Context, id string, from, to domain.PaymentStatus, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, `
		UPDATE payments SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	var exists bool
	if err := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check payment exists: %w", err)
	}
	if !exists {
		return domain.ErrPaymentNotFound
	}
	return domain.ErrInvalidTransition
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
