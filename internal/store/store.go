package store

import (
	"context"
	"errors"
	"time"

	"shoptally/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidOperation  = errors.New("invalid stock operation")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateSKU      = errors.New("duplicate sku")
	ErrDuplicateInvoice  = errors.New("duplicate invoice number")
)

// Repository is the persistence boundary. Two implementations exist:
// postgres for production and memory for tests and database-less runs.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, id string, patch domain.ProductUpdateRequest) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	// AdjustStock applies delta to the product's stock only when the result
	// stays non-negative; otherwise it returns ErrInsufficientStock and
	// leaves the row untouched.
	AdjustStock(ctx context.Context, id string, delta int) (*domain.Product, error)

	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	// CreateSale re-derives each item's name and price from the catalog,
	// verifies stock for every line before decrementing any, and persists
	// the sale with its computed totals. All-or-nothing: a single failing
	// line leaves both stock and sales unchanged.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	ListSalesBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)

	// NextInvoiceSequence returns the next value of the per-day invoice
	// counter for day (formatted YYYYMMDD), starting at 1.
	NextInvoiceSequence(ctx context.Context, day string) (int, error)
}
