package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type paymentRepositoryInMemory struct {
	mu      sync.RWMutex
	items   map[string]domain.Payment
	byOrder map[string]string
}

// NewPaymentRepository создаёт in-memory реализацию PaymentRepository.
func NewPaymentRepository() domain.PaymentRepository {
	return &paymentRepositoryInMemory{
		items:   make(map[string]domain.Payment),
		byOrder: make(map[string]string),
	}
}

func (r *paymentRepositoryInMemory) Create(ctx context.Context, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[payment.ID]; exists {
		return domain.ErrAlreadyExists
	}
	if _, exists := r.byOrder[payment.OrderID]; exists {
		return domain.ErrAlreadyExists
	}
	r.items[payment.ID] = payment
	r.byOrder[payment.OrderID] = payment.ID

	onRollback(ctx, func() {
		r.mu.Lock()
		delete(r.items, payment.ID)
		delete(r.byOrder, payment.OrderID)
		r.mu.Unlock()
	})
	return nil
}

func (r *paymentRepositoryInMemory) GetByOrder(_ context.Context, orderID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byOrder[orderID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return r.items[id], nil
}

func (r *paymentRepositoryInMemory) UpdateStatus(ctx context.Context, id string, from, to domain.PaymentStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	payment, ok := r.items[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if payment.Status != from {
		return domain.ErrInvalidTransition
	}
	prev := payment
	payment.Status = to
	payment.UpdatedAt = at
	r.items[id] = payment

	onRollback(ctx, func() {
		r.mu.Lock()
		r.items[id] = prev
		r.mu.Unlock()
	})
	return nil
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
