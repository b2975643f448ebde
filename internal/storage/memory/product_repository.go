package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// productRepositoryInMemory хранит товары и их остатки.
type productRepositoryInMemory struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]domain.Product
}

// NewProductRepository создаёт in-memory реализацию ProductRepository.
func NewProductRepository() *productRepositoryInMemory {
	return &productRepositoryInMemory{items: make(map[int64]domain.Product)}
}

// Create сохраняет товар; нулевой ID заменяется следующим по порядку.
func (r *productRepositoryInMemory) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	if product.Stock < 0 || product.Price < 0 {
		return domain.Product{}, domain.ErrItemPriceInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if product.ID == 0 {
		r.nextID++
		product.ID = r.nextID
	} else if product.ID > r.nextID {
		r.nextID = product.ID
	}
	if _, exists := r.items[product.ID]; exists {
		return domain.Product{}, domain.ErrAlreadyExists
	}
	r.items[product.ID] = product

	id := product.ID
	onRollback(ctx, func() {
		r.mu.Lock()
		delete(r.items, id)
		r.mu.Unlock()
	})
	return product, nil
}

// Get возвращает товар или ErrProductNotFound.
func (r *productRepositoryInMemory) Get(_ context.Context, id int64) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// GetMany возвращает найденные товары по списку ID.
func (r *productRepositoryInMemory) GetMany(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := r.items[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (r *productRepositoryInMemory) adjust(id, delta int64, guard domain.Guard) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[id]
	if !ok || !guardAllows(product.Stock+delta, noCeiling, guard) {
		return false
	}
	product.Stock += delta
	r.items[id] = product
	return true
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
