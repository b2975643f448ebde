package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// accountRepositoryInMemory хранит пользователей и балансы.
type accountRepositoryInMemory struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]domain.Account
}

// NewAccountRepository создаёт in-memory реализацию AccountRepository.
func NewAccountRepository() *accountRepositoryInMemory {
	return &accountRepositoryInMemory{items: make(map[int64]domain.Account)}
}

// Create сохраняет пользователя; нулевой ID заменяется следующим по порядку.
func (r *accountRepositoryInMemory) Create(ctx context.Context, account domain.Account) (domain.Account, error) {
	if account.Balance < 0 {
		return domain.Account{}, domain.ErrAmountInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if account.UserID == 0 {
		r.nextID++
		account.UserID = r.nextID
	} else if account.UserID > r.nextID {
		r.nextID = account.UserID
	}
	if _, exists := r.items[account.UserID]; exists {
		return domain.Account{}, domain.ErrAlreadyExists
	}
	r.items[account.UserID] = account

	id := account.UserID
	onRollback(ctx, func() {
		r.mu.Lock()
		delete(r.items, id)
		r.mu.Unlock()
	})
	return account, nil
}

// Get возвращает пользователя или ErrUserNotFound.
func (r *accountRepositoryInMemory) Get(_ context.Context, userID int64) (domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.items[userID]
	if !ok {
		return domain.Account{}, domain.ErrUserNotFound
	}
	return account, nil
}

func (r *accountRepositoryInMemory) adjust(id, delta int64, guard domain.Guard) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.items[id]
	if !ok || !guardAllows(account.Balance+delta, noCeiling, guard) {
		return false
	}
	account.Balance += delta
	r.items[id] = account
	return true
}

var _ domain.AccountRepository = (*accountRepositoryInMemory)(nil)
