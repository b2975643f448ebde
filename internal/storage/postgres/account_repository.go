package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type accountRepository struct {
	store *Store
}

// NewAccountRepository создаёт PostgreSQL-реализацию AccountRepository.
func NewAccountRepository(store *Store) domain.AccountRepository {
	return &accountRepository{store: store}
}

func (r *accountRepository) Create(ctx context.Context, account domain.Account) (domain.Account, error) {
	if account.Balance < 0 {
		return domain.Account{}, domain.ErrAmountInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var err error
	if account.UserID == 0 {
		err = r.store.conn(ctx).QueryRowContext(ctx, `
			INSERT INTO accounts (name, balance) VALUES ($1, $2)
			RETURNING user_id
		`, account.Name, account.Balance).Scan(&account.UserID)
	} else {
		_, err = r.store.conn(ctx).ExecContext(ctx, `
			INSERT INTO accounts (user_id, name, balance) VALUES ($1, $2, $3)
		`, account.UserID, account.Name, account.Balance)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Account{}, domain.ErrAlreadyExists
		}
		return domain.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

func (r *accountRepository) Get(ctx context.Context, userID int64) (domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var account domain.Account
	err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT user_id, name, balance FROM accounts WHERE user_id = $1
	`, userID).Scan(&account.UserID, &account.Name, &account.Balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, domain.ErrUserNotFound
		}
		return domain.Account{}, fmt.Errorf("select account: %w", err)
	}
	return account, nil
}

var _ domain.AccountRepository = (*accountRepository)(nil)
