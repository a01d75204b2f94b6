package product

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

// Column widths of the products table.
const (
	CodeLen    = 13
	MaxNameLen = 50
)

var (
	// ErrNotFound is returned when no product matches the scanned code.
	ErrNotFound = errors.New("product not found")
	// ErrEmptyCode is returned when a lookup is attempted without a code.
	ErrEmptyCode = errors.New("product code required")
)

// Product represents a catalog item. Price is in minor currency units.
type Product struct {
	ID    int64
	Code  string
	Name  string
	Price int64
}

// Repository defines read operations for the product catalog.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Product, error)
	List(ctx context.Context) ([]Product, error)
}

// NormalizeCode trims surrounding whitespace from a scanned code.
func NormalizeCode(code string) string {
	return strings.TrimSpace(code)
}

// Catalog performs code lookups against a Repository.
type Catalog struct {
	repo Repository
}

// NewCatalog returns a Catalog backed by repo.
func NewCatalog(repo Repository) *Catalog {
	return &Catalog{repo: repo}
}

// FindByCode returns the product registered under code, or ErrNotFound.
func (c *Catalog) FindByCode(ctx context.Context, code string) (*Product, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrEmptyCode
	}
	if len(code) > CodeLen {
		return nil, ErrNotFound
	}
	p, err := c.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "find product %q", code)
	}
	return p, nil
}

// List returns every product in the catalog.
func (c *Catalog) List(ctx context.Context) ([]Product, error) {
	products, err := c.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return products, nil
}
