package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-register/internal/domain/product"
)

const (
	findProductByCodeSQL = `SELECT product_id, rtrim(code), name, price
		FROM products WHERE code = $1`

	listProductsSQL = `SELECT product_id, rtrim(code), name, price
		FROM products ORDER BY product_id`

	upsertProductSQL = `INSERT INTO products (code, name, price)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// FindByCode returns the product with the given scan code.
func (r *ProductRepository) FindByCode(ctx context.Context, code string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, findProductByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding product %q: %w", code, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("finding product %q: %w", code, err)
	}
	return &p, nil
}

// List returns all products ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return products, nil
}

// Upsert inserts or updates products by code in a single batch and returns
// the number of rows affected.
func (r *ProductRepository) Upsert(ctx context.Context, products []product.Product) (int64, error) {
	if len(products) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(upsertProductSQL, p.Code, p.Name, p.Price)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	var affected int64
	for _, p := range products {
		tag, err := br.Exec()
		if err != nil {
			return affected, fmt.Errorf("upserting product %q: %w", p.Code, err)
		}
		affected += tag.RowsAffected()
	}
	return affected, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Price)
	return p, err
}
