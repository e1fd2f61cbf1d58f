package port

import (
	"context"
	"errors"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

var (
	// ErrRecordNotFound is returned by repositories when the product or its
	// stock record does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrContention is returned when a store gave up serializing a write after
	// repeated conflicts. The caller may retry later.
	ErrContention = errors.New("stock record contention")
)

// StockMutation edits a private copy of a stock record. Returning an error
// aborts the write and is passed back to the caller unchanged.
type StockMutation func(rec *domain.StockRecord) error

type LedgerRepository interface {
	// GetStock reads the current record without taking the writer lock.
	GetStock(ctx context.Context, productID int64) (*domain.StockRecord, error)

	// UpdateStock runs fn against the current record and persists the result.
	// Calls for the same product never interleave; calls for different products
	// do not block each other.
	UpdateStock(ctx context.Context, productID int64, fn StockMutation) (*domain.StockRecord, error)

	// ListLowStock returns every record whose quantity is at or below its minimum.
	ListLowStock(ctx context.Context) ([]domain.StockRecord, error)
}

type CatalogRepository interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)

	// ListProducts returns all products ordered by id.
	ListProducts(ctx context.Context) ([]domain.Product, error)

	// CreateProduct stores the product and its stock record together.
	CreateProduct(ctx context.Context, p domain.NewProduct) (*domain.Product, error)

	// DeleteProduct removes the product and its stock record.
	DeleteProduct(ctx context.Context, id int64) error
}
