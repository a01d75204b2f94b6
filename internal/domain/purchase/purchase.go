package purchase

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Column widths of the transactions table.
const (
	MaxEmployeeCodeLen   = 10
	MaxStoreCodeLen      = 5
	MaxRegisterNumberLen = 3
)

var (
	// ErrInvalidRequest matches every validation failure returned by Record.
	ErrInvalidRequest = errors.New("invalid purchase request")
	// ErrNotFound is returned when a transaction id is unknown.
	ErrNotFound = errors.New("transaction not found")
	// ErrEmptyItems is returned when a purchase carries no items.
	ErrEmptyItems = &ValidationError{Field: "items", Reason: "at least one item required"}
)

// ValidationError describes a single rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is reports ErrInvalidRequest as a match so callers can test the category.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// StorageError wraps a failure of the atomic write. Nothing was persisted.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return "record purchase: " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Item is one scanned product as presented by the register.
type Item struct {
	ProductID int64
	Code      string
	Name      string
	Price     int64
}

// Request holds the input for recording a purchase.
type Request struct {
	Items          []Item
	EmployeeCode   string
	StoreCode      string
	RegisterNumber string
}

// Header is the transaction row written before its line items.
type Header struct {
	EmployeeCode   string
	StoreCode      string
	RegisterNumber string
	TotalAmount    int64
}

// LineItem is a snapshot of one scanned product inside a transaction.
// Sequence starts at 1 and follows scan order.
type LineItem struct {
	TransactionID int64
	Sequence      int
	ProductID     int64
	ProductCode   string
	ProductName   string
	ProductPrice  int64
}

// Transaction is a persisted purchase with its line items.
type Transaction struct {
	ID             int64
	CreatedAt      time.Time
	EmployeeCode   string
	StoreCode      string
	RegisterNumber string
	TotalAmount    int64
	Lines          []LineItem
}

// Writer inserts rows inside one atomic unit.
type Writer interface {
	InsertHeader(ctx context.Context, h Header) (int64, error)
	InsertLineItem(ctx context.Context, li LineItem) error
}

// Store persists transactions. WithinTx commits when fn returns nil and
// rolls back otherwise, leaving no partial rows behind.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, w Writer) error) error
	Get(ctx context.Context, id int64) (*Transaction, error)
}
