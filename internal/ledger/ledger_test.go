package ledger_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/ledger"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

type fixture struct {
	ledger   *ledger.Ledger
	products domain.ProductRepository
	accounts domain.AccountRepository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	products := memory.NewProductRepository()
	accounts := memory.NewAccountRepository()
	coupons := memory.NewCouponRepository()
	return fixture{
		ledger:   ledger.New(memory.NewCounterStore(products, accounts, coupons), nil),
		products: products,
		accounts: accounts,
	}
}

func TestLedger_ConcurrentReserveNeverOvercommits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	product, err := f.products.Create(ctx, domain.Product{Name: "mug", Price: 100, Stock: 10})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	var applied atomic.Int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			ok, err := f.ledger.Reserve(ctx, domain.ResourceStock, product.ID, 1)
			if ok {
				applied.Add(1)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, _ := f.products.Get(ctx, product.ID)
	if applied.Load() != 10 || stored.Stock != 0 {
		t.Fatalf("expected 10 applied and stock 0, got applied=%d stock=%d", applied.Load(), stored.Stock)
	}
}

func TestLedger_ReserveAndRestoreBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	account, _ := f.accounts.Create(ctx, domain.Account{Name: "bob", Balance: 10000})

	ok, err := f.ledger.Reserve(ctx, domain.ResourceBalance, account.UserID, 6000)
	if err != nil || !ok {
		t.Fatalf("first reserve: ok=%v err=%v", ok, err)
	}
	ok, err = f.ledger.Reserve(ctx, domain.ResourceBalance, account.UserID, 6000)
	if err != nil || ok {
		t.Fatalf("second reserve must be rejected: ok=%v err=%v", ok, err)
	}

	if err := f.ledger.Restore(ctx, domain.ResourceBalance, account.UserID, 6000); err != nil {
		t.Fatalf("restore: %v", err)
	}
	stored, _ := f.accounts.Get(ctx, account.UserID)
	if stored.Balance != 10000 {
		t.Fatalf("expected balance 10000, got %d", stored.Balance)
	}
}

func TestLedger_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.ledger.TryAdjust(ctx, domain.ResourceStock, 1, 0, domain.GuardNonNegative); !errors.Is(err, ledger.ErrZeroDelta) {
		t.Fatalf("expected ErrZeroDelta, got %v", err)
	}
	if _, err := f.ledger.Reserve(ctx, domain.ResourceStock, 1, -1); !errors.Is(err, domain.ErrAmountInvalid) {
		t.Fatalf("expected ErrAmountInvalid, got %v", err)
	}
	if err := f.ledger.Restore(ctx, domain.ResourceStock, 404, 1); err == nil {
		t.Fatal("expected error restoring a missing entity")
	}
}
