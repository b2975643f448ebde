// Package balance пополняет баланс пользователя под его блокировкой.
package balance

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/ledger"
	"github.com/vladislavdragonenkov/fulfillment/internal/lock"
)

// Service пополняет балансы.
type Service struct {
	accounts domain.AccountRepository
	locker   *lock.Locker
	ledger   *ledger.Ledger
	logger   *log.Entry
}

// NewService создаёт сервис пополнения.
func NewService(accounts domain.AccountRepository, locker *lock.Locker, l *ledger.Ledger, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "balance")
	}
	return &Service{accounts: accounts, locker: locker, ledger: l, logger: logger}
}

// Charge зачисляет amount на баланс и возвращает актуальное состояние счёта.
func (s *Service) Charge(ctx context.Context, userID, amount int64) (domain.Account, error) {
	if amount <= 0 {
		return domain.Account{}, domain.ErrAmountInvalid
	}
	if _, err := s.accounts.Get(ctx, userID); err != nil {
		return domain.Account{}, err
	}

	err := s.locker.WithLock(ctx, lock.UserBalanceKey(userID), func(ctx context.Context) error {
		applied, err := s.ledger.TryAdjust(ctx, domain.ResourceBalance, userID, amount, domain.GuardNonNegative)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("charge user %d: %w", userID, domain.ErrUserNotFound)
		}
		return nil
	})
	if err != nil {
		return domain.Account{}, err
	}

	account, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return domain.Account{}, err
	}
	s.logger.WithFields(log.Fields{
		"user_id": userID,
		"amount":  amount,
		"balance": account.Balance,
	}).Info("balance charged")
	return account, nil
}
