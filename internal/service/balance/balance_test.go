package balance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/ledger"
	"github.com/vladislavdragonenkov/fulfillment/internal/lock"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/balance"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func newService(t *testing.T) (*balance.Service, domain.AccountRepository) {
	t.Helper()
	products := memory.NewProductRepository()
	accounts := memory.NewAccountRepository()
	coupons := memory.NewCouponRepository()
	l := ledger.New(memory.NewCounterStore(products, accounts, coupons), nil)
	locker := lock.NewLocker(memory.NewLockStore(), lock.WithOptions(lock.Options{RetryInterval: time.Millisecond}))
	return balance.NewService(accounts, locker, l, nil), accounts
}

func TestCharge(t *testing.T) {
	svc, accounts := newService(t)
	ctx := context.Background()

	acc, err := accounts.Create(ctx, domain.Account{Name: "buyer", Balance: 100})
	require.NoError(t, err)

	updated, err := svc.Charge(ctx, acc.UserID, 250)
	require.NoError(t, err)
	require.Equal(t, int64(350), updated.Balance)
}

func TestChargeRejectsInvalidInput(t *testing.T) {
	svc, accounts := newService(t)
	ctx := context.Background()

	acc, err := accounts.Create(ctx, domain.Account{Name: "buyer"})
	require.NoError(t, err)

	_, err = svc.Charge(ctx, acc.UserID, 0)
	require.ErrorIs(t, err, domain.ErrAmountInvalid)

	_, err = svc.Charge(ctx, acc.UserID, -5)
	require.ErrorIs(t, err, domain.ErrAmountInvalid)

	_, err = svc.Charge(ctx, 404, 10)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestChargeConcurrent(t *testing.T) {
	svc, accounts := newService(t)
	ctx := context.Background()

	acc, err := accounts.Create(ctx, domain.Account{Name: "buyer"})
	require.NoError(t, err)

	var g errgroup.Group
	for range 50 {
		g.Go(func() error {
			_, err := svc.Charge(ctx, acc.UserID, 10)
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := accounts.Get(ctx, acc.UserID)
	require.NoError(t, err)
	require.Equal(t, int64(500), got.Balance)
}
