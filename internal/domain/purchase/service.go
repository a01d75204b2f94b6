package purchase

import (
	"context"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-register/internal/domain/product"
)

// Service records purchases as a header plus ordered line items.
type Service struct {
	store Store
}

// NewService creates a purchase Service backed by store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Record validates req, computes the total from the item prices, and writes
// the transaction and its line items atomically. It returns the generated
// transaction id. Identical requests produce distinct transactions.
func (s *Service) Record(ctx context.Context, req Request) (int64, error) {
	if err := Validate(req); err != nil {
		return 0, err
	}
	total, err := Total(req.Items)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.store.WithinTx(ctx, func(ctx context.Context, w Writer) error {
		txID, err := w.InsertHeader(ctx, Header{
			EmployeeCode:   req.EmployeeCode,
			StoreCode:      req.StoreCode,
			RegisterNumber: req.RegisterNumber,
			TotalAmount:    total,
		})
		if err != nil {
			return errors.Wrap(err, "insert header")
		}
		for i, item := range req.Items {
			li := LineItem{
				TransactionID: txID,
				Sequence:      i + 1,
				ProductID:     item.ProductID,
				ProductCode:   item.Code,
				ProductName:   item.Name,
				ProductPrice:  item.Price,
			}
			if err := w.InsertLineItem(ctx, li); err != nil {
				return errors.Wrapf(err, "insert line %d", li.Sequence)
			}
		}
		id = txID
		return nil
	})
	if err != nil {
		return 0, &StorageError{Err: err}
	}
	return id, nil
}

// Get returns a recorded transaction with its lines ordered by sequence.
func (s *Service) Get(ctx context.Context, id int64) (*Transaction, error) {
	if id <= 0 {
		return nil, ErrNotFound
	}
	tx, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get transaction %d", id)
	}
	return tx, nil
}

// Total sums the item prices. Prices already validated as non-negative.
func Total(items []Item) (int64, error) {
	var total int64
	for i, item := range items {
		if item.Price > math.MaxInt64-total {
			return 0, &ValidationError{Field: fmt.Sprintf("items[%d].price", i), Reason: "total overflows"}
		}
		total += item.Price
	}
	return total, nil
}

// Validate checks req before any storage work happens.
func Validate(req Request) error {
	if len(req.Items) == 0 {
		return ErrEmptyItems
	}
	for i, item := range req.Items {
		if err := validateItem(i, item); err != nil {
			return err
		}
	}
	if err := checkText("employee_code", req.EmployeeCode, MaxEmployeeCodeLen); err != nil {
		return err
	}
	if err := checkText("store_code", req.StoreCode, MaxStoreCodeLen); err != nil {
		return err
	}
	return checkText("register_number", req.RegisterNumber, MaxRegisterNumberLen)
}

func validateItem(i int, item Item) error {
	field := func(name string) string { return fmt.Sprintf("items[%d].%s", i, name) }
	if item.ProductID <= 0 {
		return &ValidationError{Field: field("product_id"), Reason: "must be positive"}
	}
	if err := checkText(field("code"), item.Code, product.CodeLen); err != nil {
		return err
	}
	if err := checkText(field("name"), item.Name, product.MaxNameLen); err != nil {
		return err
	}
	if item.Price < 0 {
		return &ValidationError{Field: field("price"), Reason: "must not be negative"}
	}
	// line prices are stored as INTEGER
	if item.Price > math.MaxInt32 {
		return &ValidationError{Field: field("price"), Reason: "too large"}
	}
	return nil
}

func checkText(field, v string, maxLen int) error {
	if v == "" {
		return &ValidationError{Field: field, Reason: "required"}
	}
	if utf8.RuneCountInString(v) > maxLen {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("exceeds %d characters", maxLen)}
	}
	return nil
}
