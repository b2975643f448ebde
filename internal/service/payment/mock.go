package payment

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// MockGateway — конфигурируемая заглушка PaymentGateway.
// Повторный вызов с тем же idempotency-ключом после успеха не списывает повторно.
type MockGateway struct {
	mu sync.Mutex
	// Err возвращается каждым вызовом, если задан.
	Err error
	// FailFirst — число первых вызовов, которые вернут ErrPaymentTemporary.
	FailFirst int
	// Hook вызывается перед обработкой (например, для блокировки в тестах).
	Hook func(ctx context.Context) error

	calls     int
	processed map[string]int64
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{processed: make(map[string]int64)}
}

// Process проверяет сумму, считает вызовы и возвращает настроенный результат.
func (m *MockGateway) Process(ctx context.Context, userID, amount int64, idempotencyKey string) error {
	if m.Hook != nil {
		if err := m.Hook(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if amount < 0 {
		return domain.ErrAmountInvalid
	}
	if _, done := m.processed[idempotencyKey]; done && idempotencyKey != "" {
		return nil
	}
	if m.calls <= m.FailFirst {
		return domain.ErrPaymentTemporary
	}
	if m.Err != nil {
		return m.Err
	}
	if idempotencyKey != "" {
		m.processed[idempotencyKey] = amount
	}
	return nil
}

// Calls возвращает число вызовов Process.
func (m *MockGateway) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Processed возвращает число успешно проведённых платежей (уникальных ключей).
func (m *MockGateway) Processed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.processed)
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
