package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestPaymentValidate(t *testing.T) {
	p := domain.Payment{ID: "pay-1", OrderID: "order-1", Amount: 100, Status: domain.PaymentStatusPending}
	if errs := p.Validate(); len(errs) != 0 {
		t.Fatalf("expected valid payment, got %v", errs)
	}

	p.OrderID = ""
	p.Amount = -1
	if errs := p.Validate(); len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
}

func TestPaymentTransitions(t *testing.T) {
	now := time.Now().UTC()
	p := domain.Payment{ID: "pay-1", OrderID: "order-1", Status: domain.PaymentStatusPending}
	if err := p.Fail(now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := p.Complete(now); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("FAILED must be terminal, got %v", err)
	}
}
