package ranking

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// MemorySink — рейтинг в памяти процесса.
type MemorySink struct {
	mu     sync.RWMutex
	scores map[int64]int64
}

// NewMemorySink создаёт пустой рейтинг.
func NewMemorySink() *MemorySink {
	return &MemorySink{scores: make(map[int64]int64)}
}

// Increment увеличивает счётчик товара.
func (s *MemorySink) Increment(ctx context.Context, productID, quantity int64) error {
	return s.IncrementBatch(ctx, map[int64]int64{productID: quantity})
}

// IncrementBatch проверяет все количества и применяет их под одной блокировкой.
func (s *MemorySink) IncrementBatch(_ context.Context, quantities map[int64]int64) error {
	for _, qty := range quantities {
		if qty <= 0 {
			return domain.ErrItemQtyInvalid
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for productID, qty := range quantities {
		s.scores[productID] += qty
	}
	return nil
}

// TopK возвращает до n товаров по убыванию счётчика; при равенстве меньший ID выше.
func (s *MemorySink) TopK(_ context.Context, n int) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	ids := make([]int64, 0, len(s.scores))
	for id := range s.scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if s.scores[ids[i]] != s.scores[ids[j]] {
			return s.scores[ids[i]] > s.scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	s.mu.RUnlock()

	if len(ids) > n {
		ids = ids[:n]
	}
	return ids, nil
}

// Score возвращает накопленное количество по товару.
func (s *MemorySink) Score(_ context.Context, productID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scores[productID], nil
}

// Clear обнуляет рейтинг.
func (s *MemorySink) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = make(map[int64]int64)
	return nil
}

// MemoryDedupe хранит отметки обработанных событий в памяти.
type MemoryDedupe struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryDedupe создаёт пустое множество отметок.
func NewMemoryDedupe() *MemoryDedupe {
	return &MemoryDedupe{seen: make(map[string]struct{})}
}

// MarkProcessed возвращает true, если ключ отмечен впервые.
func (d *MemoryDedupe) MarkProcessed(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}

// Forget снимает отметку.
func (d *MemoryDedupe) Forget(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

var (
	_ Sink    = (*MemorySink)(nil)
	_ Deduper = (*MemoryDedupe)(nil)
)
