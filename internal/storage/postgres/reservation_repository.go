package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type reservationRepository struct {
	store *Store
}

// NewReservationRepository создаёт PostgreSQL-реализацию ReservationRepository.
func NewReservationRepository(store *Store) domain.ReservationRepository {
	return &reservationRepository{store: store}
}

func (r *reservationRepository) Create(ctx context.Context, res domain.Reservation) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO reservations (
			id, user_id, concert_name, concert_date, seat_count, total_amount, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		res.ID, res.UserID, res.ConcertName, res.ConcertDate, res.SeatCount,
		res.TotalAmount, string(res.Status), res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (r *reservationRepository) Get(ctx context.Context, id string) (domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		res    domain.Reservation
		status string
	)
	err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT id, user_id, concert_name, concert_date, seat_count, total_amount, status, created_at, updated_at
		FROM reservations WHERE id = $1
	`, id).Scan(
		&res.ID, &res.UserID, &res.ConcertName, &res.ConcertDate, &res.SeatCount,
		&res.TotalAmount, &status, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("select reservation: %w", err)
	}
	res.Status = domain.ReservationStatus(status)
	res.ConcertDate = res.ConcertDate.UTC()
	res.CreatedAt = res.CreatedAt.UTC()
	res.UpdatedAt = res.UpdatedAt.UTC()
	return res, nil
}

func (r *reservationRepository) UpdateStatus(ctx context.Context, id string, from, to domain.ReservationStatus, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, `
		UPDATE reservations SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("update reservation status: %w", err)
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
		`SELECT EXISTS (SELECT 1 FROM reservations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check reservation exists: %w", err)
	}
	if !exists {
		return domain.ErrReservationNotFound
	}
	return domain.ErrInvalidTransition
}

var _ domain.ReservationRepository = (*reservationRepository)(nil)
