package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type reservationRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Reservation
}

// NewReservationRepository создаёт in-memory реализацию ReservationRepository.
func NewReservationRepository() domain.ReservationRepository {
	return &reservationRepositoryInMemory{items: make(map[string]domain.Reservation)}
}

func (r *reservationRepositoryInMemory) Create(ctx context.Context, reservation domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[reservation.ID]; exists {
		return domain.ErrAlreadyExists
	}
	r.items[reservation.ID] = reservation

	onRollback(ctx, func() {
		r.mu.Lock()
		delete(r.items, reservation.ID)
		r.mu.Unlock()
	})
	return nil
}

func (r *reservationRepositoryInMemory) Get(_ context.Context, id string) (domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reservation, ok := r.items[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return reservation, nil
}

func (r *reservationRepositoryInMemory) UpdateStatus(ctx context.Context, id string, from, to domain.ReservationStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reservation, ok := r.items[id]
	if !ok {
		return domain.ErrReservationNotFound
	}
	if reservation.Status != from {
		return domain.ErrInvalidTransition
	}
	prev := reservation
	reservation.Status = to
	reservation.UpdatedAt = at
	r.items[id] = reservation

	onRollback(ctx, func() {
		r.mu.Lock()
		r.items[id] = prev
		r.mu.Unlock()
	})
	return nil
}

var _ domain.ReservationRepository = (*reservationRepositoryInMemory)(nil)
