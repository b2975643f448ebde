package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type productRepository struct {
	store *Store
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{store: store}
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	if product.Stock < 0 || product.Price < 0 {
		return domain.Product{}, domain.ErrItemPriceInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var err error
	if product.ID == 0 {
		err = r.store.conn(ctx).QueryRowContext(ctx, `
			INSERT INTO products (name, price, stock) VALUES ($1, $2, $3)
			RETURNING id
		`, product.Name, product.Price, product.Stock).Scan(&product.ID)
	} else {
		_, err = r.store.conn(ctx).ExecContext(ctx, `
			INSERT INTO products (id, name, price, stock) VALUES ($1, $2, $3, $4)
		`, product.ID, product.Name, product.Price, product.Stock)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, domain.ErrAlreadyExists
		}
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return product, nil
}

func (r *productRepository) Get(ctx context.Context, id int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var p domain.Product
	err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, price, stock FROM products WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r *productRepository) GetMany(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.store.conn(ctx).QueryContext(ctx, `
		SELECT id, name, price, stock FROM products WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return result, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
