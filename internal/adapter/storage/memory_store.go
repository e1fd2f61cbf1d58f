package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// MemoryStore keeps the ledger in process. Writers are serialized per product
// with a mutex, so it is only correct for a single ledger instance.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int64]*memoryEntry
	nextID  int64
}

type memoryEntry struct {
	product domain.Product // catalog fields, immutable after creation

	mu      sync.Mutex // held by UpdateStock
	deleted bool       // guarded by mu
	stock   atomic.Pointer[domain.StockRecord]
}

var (
	_ port.LedgerRepository  = (*MemoryStore)(nil)
	_ port.CatalogRepository = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[int64]*memoryEntry)}
}

func (s *MemoryStore) entry(id int64) *memoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

func (s *MemoryStore) GetStock(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	e := s.entry(productID)
	if e == nil {
		return nil, port.ErrRecordNotFound
	}
	rec := *e.stock.Load()
	return &rec, nil
}

func (s *MemoryStore) UpdateStock(ctx context.Context, productID int64, fn port.StockMutation) (*domain.StockRecord, error) {
	e := s.entry(productID)
	if e == nil {
		return nil, port.ErrRecordNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted {
		return nil, port.ErrRecordNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	next := *e.stock.Load()
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.ProductID = productID
	e.stock.Store(&next)

	out := next
	return &out, nil
}

func (s *MemoryStore) ListLowStock(ctx context.Context) ([]domain.StockRecord, error) {
	var low []domain.StockRecord
	for _, e := range s.snapshot() {
		rec := *e.stock.Load()
		if rec.Low() {
			low = append(low, rec)
		}
	}
	return low, nil
}

func (s *MemoryStore) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	e := s.entry(id)
	if e == nil {
		return nil, port.ErrRecordNotFound
	}
	p := e.withStock()
	return &p, nil
}

func (s *MemoryStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	entries := s.snapshot()
	products := make([]domain.Product, 0, len(entries))
	for _, e := range entries {
		products = append(products, e.withStock())
	}
	return products, nil
}

func (s *MemoryStore) CreateProduct(ctx context.Context, p domain.NewProduct) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	e := &memoryEntry{
		product: domain.Product{
			ID:          s.nextID,
			Name:        p.Name,
			Description: p.Description,
			Category:    p.Category,
			Price:       p.Price,
		},
	}
	e.stock.Store(&domain.StockRecord{
		ProductID:    s.nextID,
		Quantity:     p.Stock,
		MinimumStock: p.MinimumStock,
		UpdatedAt:    time.Now().UTC(),
	})
	s.entries[s.nextID] = e

	created := e.withStock()
	return &created, nil
}

func (s *MemoryStore) DeleteProduct(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return port.ErrRecordNotFound
	}

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()

	delete(s.entries, id)
	return nil
}

// snapshot returns the current entries ordered by product id.
func (s *MemoryStore) snapshot() []*memoryEntry {
	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	slices.SortFunc(entries, func(a, b *memoryEntry) int {
		return cmp.Compare(a.product.ID, b.product.ID)
	})
	return entries
}

func (e *memoryEntry) withStock() domain.Product {
	p := e.product
	rec := e.stock.Load()
	p.Stock = rec.Quantity
	p.MinimumStock = rec.MinimumStock
	return p
}
