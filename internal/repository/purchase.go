package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-register/internal/domain/purchase"
)

const (
	insertTransactionSQL = `INSERT INTO transactions (employee_code, store_code, register_number, total_amount)
		VALUES ($1, $2, $3, $4)
		RETURNING transaction_id`

	insertLineItemSQL = `INSERT INTO transaction_line_items
		(transaction_id, line_sequence, product_id, product_code, product_name, product_price)
		VALUES ($1, $2, $3, $4, $5, $6)`

	getTransactionSQL = `SELECT transaction_id, created_at, rtrim(employee_code), rtrim(store_code),
		rtrim(register_number), total_amount
		FROM transactions WHERE transaction_id = $1`

	listLineItemsSQL = `SELECT transaction_id, line_sequence, product_id, rtrim(product_code), product_name, product_price
		FROM transaction_line_items WHERE transaction_id = $1
		ORDER BY line_sequence`
)

var _ purchase.Store = (*PurchaseStore)(nil)

// PurchaseStore implements purchase.Store backed by PostgreSQL.
type PurchaseStore struct {
	pool *pgxpool.Pool
}

// NewPurchaseStore returns a PurchaseStore that uses the given pool.
func NewPurchaseStore(pool *pgxpool.Pool) *PurchaseStore {
	return &PurchaseStore{pool: pool}
}

// WithinTx runs fn against a writer bound to a single database transaction.
func (s *PurchaseStore) WithinTx(ctx context.Context, fn func(ctx context.Context, w purchase.Writer) error) error {
	return withinTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txWriter{tx: tx})
	})
}

// Get loads a transaction header and its line items.
func (s *PurchaseStore) Get(ctx context.Context, id int64) (*purchase.Transaction, error) {
	rows, err := s.pool.Query(ctx, getTransactionSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting transaction %d: %w", id, err)
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanTransaction)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, purchase.ErrNotFound
		}
		return nil, fmt.Errorf("getting transaction %d: %w", id, err)
	}

	rows, err = s.pool.Query(ctx, listLineItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing line items of %d: %w", id, err)
	}
	lines, err := pgx.CollectRows(rows, scanLineItem)
	if err != nil {
		return nil, fmt.Errorf("listing line items of %d: %w", id, err)
	}
	t.Lines = lines
	return &t, nil
}

type txWriter struct {
	tx pgx.Tx
}

func (w *txWriter) InsertHeader(ctx context.Context, h purchase.Header) (int64, error) {
	var id int64
	err := w.tx.QueryRow(ctx, insertTransactionSQL,
		h.EmployeeCode, h.StoreCode, h.RegisterNumber, h.TotalAmount,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting transaction: %w", err)
	}
	return id, nil
}

func (w *txWriter) InsertLineItem(ctx context.Context, li purchase.LineItem) error {
	_, err := w.tx.Exec(ctx, insertLineItemSQL,
		li.TransactionID, li.Sequence, li.ProductID, li.ProductCode, li.ProductName, li.ProductPrice,
	)
	if err != nil {
		return fmt.Errorf("inserting line item %d/%d: %w", li.TransactionID, li.Sequence, err)
	}
	return nil
}

func scanTransaction(row pgx.CollectableRow) (purchase.Transaction, error) {
	var t purchase.Transaction
	err := row.Scan(&t.ID, &t.CreatedAt, &t.EmployeeCode, &t.StoreCode, &t.RegisterNumber, &t.TotalAmount)
	return t, err
}

func scanLineItem(row pgx.CollectableRow) (purchase.LineItem, error) {
	var li purchase.LineItem
	err := row.Scan(&li.TransactionID, &li.Sequence, &li.ProductID, &li.ProductCode, &li.ProductName, &li.ProductPrice)
	return li, err
}
