package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

type ledgerStore interface {
	port.LedgerRepository
	port.CatalogRepository
}

var errInsufficient = errors.New("insufficient")

func createTestProduct(t *testing.T, store ledgerStore, stock, minimum int) *domain.Product {
	t.Helper()
	p, err := store.CreateProduct(context.Background(), domain.NewProduct{
		Name:         "test-product",
		Category:     "test",
		Price:        decimal.RequireFromString("10.50"),
		Stock:        stock,
		MinimumStock: minimum,
	})
	if err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}
	t.Cleanup(func() {
		store.DeleteProduct(context.Background(), p.ID)
	})
	return p
}

func addDelta(delta int) port.StockMutation {
	return func(rec *domain.StockRecord) error {
		if rec.Quantity+delta < 0 {
			return errInsufficient
		}
		rec.Quantity += delta
		rec.UpdatedAt = time.Now().UTC()
		return nil
	}
}

// runStoreContract exercises the behaviour every ledger backend must share.
func runStoreContract(t *testing.T, store ledgerStore) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		p := createTestProduct(t, store, 50, 5)

		got, err := store.GetProduct(ctx, p.ID)
		if err != nil {
			t.Fatalf("GetProduct failed: %v", err)
		}
		if got.Name != "test-product" || got.Stock != 50 || got.MinimumStock != 5 {
			t.Errorf("unexpected product: %+v", got)
		}
		if !got.Price.Equal(decimal.RequireFromString("10.50")) {
			t.Errorf("expected price 10.50, got %s", got.Price)
		}

		rec, err := store.GetStock(ctx, p.ID)
		if err != nil {
			t.Fatalf("GetStock failed: %v", err)
		}
		if rec.ProductID != p.ID || rec.Quantity != 50 {
			t.Errorf("unexpected stock record: %+v", rec)
		}
	})

	t.Run("UpdateStock", func(t *testing.T) {
		p := createTestProduct(t, store, 50, 0)

		rec, err := store.UpdateStock(ctx, p.ID, addDelta(20))
		if err != nil {
			t.Fatalf("UpdateStock failed: %v", err)
		}
		if rec.Quantity != 70 {
			t.Errorf("expected quantity 70, got %d", rec.Quantity)
		}

		got, _ := store.GetStock(ctx, p.ID)
		if got.Quantity != 70 {
			t.Errorf("expected persisted quantity 70, got %d", got.Quantity)
		}
	})

	t.Run("MutationErrorIsNotPersisted", func(t *testing.T) {
		p := createTestProduct(t, store, 10, 0)

		_, err := store.UpdateStock(ctx, p.ID, addDelta(-11))
		if !errors.Is(err, errInsufficient) {
			t.Fatalf("expected mutation error back, got: %v", err)
		}

		got, _ := store.GetStock(ctx, p.ID)
		if got.Quantity != 10 {
			t.Errorf("expected quantity unchanged at 10, got %d", got.Quantity)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		const missing = int64(987654321)
		if _, err := store.GetStock(ctx, missing); !errors.Is(err, port.ErrRecordNotFound) {
			t.Errorf("GetStock: expected ErrRecordNotFound, got: %v", err)
		}
		if _, err := store.GetProduct(ctx, missing); !errors.Is(err, port.ErrRecordNotFound) {
			t.Errorf("GetProduct: expected ErrRecordNotFound, got: %v", err)
		}
		called := false
		_, err := store.UpdateStock(ctx, missing, func(*domain.StockRecord) error {
			called = true
			return nil
		})
		if !errors.Is(err, port.ErrRecordNotFound) {
			t.Errorf("UpdateStock: expected ErrRecordNotFound, got: %v", err)
		}
		if called {
			t.Error("mutation must not run for a missing record")
		}
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		p, err := store.CreateProduct(ctx, domain.NewProduct{
			Name:  "doomed",
			Price: decimal.NewFromInt(1),
			Stock: 3,
		})
		if err != nil {
			t.Fatalf("CreateProduct failed: %v", err)
		}

		if err := store.DeleteProduct(ctx, p.ID); err != nil {
			t.Fatalf("DeleteProduct failed: %v", err)
		}
		if _, err := store.GetStock(ctx, p.ID); !errors.Is(err, port.ErrRecordNotFound) {
			t.Errorf("expected stock record to be deleted, got: %v", err)
		}
		if err := store.DeleteProduct(ctx, p.ID); !errors.Is(err, port.ErrRecordNotFound) {
			t.Errorf("expected ErrRecordNotFound on second delete, got: %v", err)
		}
	})

	t.Run("ListLowStock", func(t *testing.T) {
		low := createTestProduct(t, store, 2, 5)
		edge := createTestProduct(t, store, 5, 5)
		ok := createTestProduct(t, store, 50, 5)

		recs, err := store.ListLowStock(ctx)
		if err != nil {
			t.Fatalf("ListLowStock failed: %v", err)
		}
		seen := make(map[int64]bool)
		for _, r := range recs {
			seen[r.ProductID] = true
		}
		if !seen[low.ID] || !seen[edge.ID] {
			t.Errorf("expected products %d and %d in low stock list, got %+v", low.ID, edge.ID, recs)
		}
		if seen[ok.ID] {
			t.Errorf("product %d should not be low", ok.ID)
		}
	})

	t.Run("ConcurrentNoLostUpdates", func(t *testing.T) {
		initial := 20
		p := createTestProduct(t, store, initial, 0)

		var successCount atomic.Int32
		var wg sync.WaitGroup
		totalRequests := 50

		for i := 0; i < totalRequests; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.UpdateStock(ctx, p.ID, addDelta(-1))
				if err == nil {
					successCount.Add(1)
					return
				}
				if !errors.Is(err, errInsufficient) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if successCount.Load() != int32(initial) {
			t.Errorf("expected %d successes, got %d", initial, successCount.Load())
		}
		rec, _ := store.GetStock(ctx, p.ID)
		if rec.Quantity != 0 {
			t.Errorf("expected stock 0, got %d", rec.Quantity)
		}
	})

	t.Run("ConcurrentMixedDeltas", func(t *testing.T) {
		p := createTestProduct(t, store, 100, 0)

		var applied atomic.Int64
		var wg sync.WaitGroup
		deltas := []int{5, -3, 7, -40, 12, -1, -60, 9}

		for i := 0; i < 5; i++ {
			for _, d := range deltas {
				wg.Add(1)
				go func(delta int) {
					defer wg.Done()
					if _, err := store.UpdateStock(ctx, p.ID, addDelta(delta)); err == nil {
						applied.Add(int64(delta))
					}
				}(d)
			}
		}
		wg.Wait()

		rec, _ := store.GetStock(ctx, p.ID)
		if rec.Quantity < 0 {
			t.Fatalf("quantity went negative: %d", rec.Quantity)
		}
		if int64(rec.Quantity) != 100+applied.Load() {
			t.Errorf("expected quantity %d, got %d", 100+applied.Load(), rec.Quantity)
		}
	})
}
