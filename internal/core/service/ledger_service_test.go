package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// Mock EventPublisher
type mockPublisher struct {
	mu     sync.Mutex
	events []domain.StockAdjusted
	err    error
}

func (m *mockPublisher) PublishStockAdjusted(ctx context.Context, event domain.StockAdjusted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

// Mock EventPublisher that blocks until the publish context ends.
type stalledPublisher struct {
	attempts atomic.Int32
}

func (p *stalledPublisher) PublishStockAdjusted(ctx context.Context, event domain.StockAdjusted) error {
	p.attempts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (p *stalledPublisher) Close() error { return nil }

func (m *mockPublisher) published() []domain.StockAdjusted {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.StockAdjusted(nil), m.events...)
}

// Mock LedgerRepository that fails every call with err.
type failingRepo struct {
	err error
}

func (f failingRepo) GetStock(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	return nil, f.err
}

func (f failingRepo) UpdateStock(ctx context.Context, productID int64, fn port.StockMutation) (*domain.StockRecord, error) {
	return nil, f.err
}

func (f failingRepo) ListLowStock(ctx context.Context) ([]domain.StockRecord, error) {
	return nil, f.err
}

func newTestLedger(t *testing.T, stock, minimum int) (*LedgerService, *mockPublisher, int64) {
	t.Helper()
	store := storage.NewMemoryStore()
	pub := &mockPublisher{}
	svc := NewLedgerService(store, store, pub, zap.NewNop(), otel.Tracer("test"))
	t.Cleanup(svc.Close)

	p, err := svc.CreateProduct(context.Background(), domain.NewProduct{
		Name:         "Widget",
		Category:     "tools",
		Price:        decimal.RequireFromString("10.00"),
		Stock:        stock,
		MinimumStock: minimum,
	})
	if err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}
	return svc, pub, p.ID
}

func TestAdjust_AddThenOverdraw(t *testing.T) {
	svc, _, id := newTestLedger(t, 50, 10)
	ctx := context.Background()

	rec, err := svc.Adjust(ctx, id, 20)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if rec.Quantity != 70 {
		t.Errorf("expected quantity 70, got %d", rec.Quantity)
	}

	_, err = svc.Adjust(ctx, id, -90)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	rec, _ = svc.GetStock(ctx, id)
	if rec.Quantity != 70 {
		t.Errorf("rejected adjustment changed quantity to %d", rec.Quantity)
	}
}

func TestAdjust_RemoveToExactlyZero(t *testing.T) {
	svc, _, id := newTestLedger(t, 5, 0)

	rec, err := svc.Adjust(context.Background(), id, -5)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if rec.Quantity != 0 {
		t.Errorf("expected quantity 0, got %d", rec.Quantity)
	}
	if !rec.Low() {
		t.Error("expected stock to be low at zero")
	}
}

func TestAdjust_ZeroDelta(t *testing.T) {
	svc, pub, id := newTestLedger(t, 50, 0)

	for _, target := range []int64{id, 9999} {
		_, err := svc.Adjust(context.Background(), target, 0)
		if !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("product %d: expected invalid request, got %v", target, err)
		}
	}
	svc.Close()
	if n := len(pub.published()); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
}

func TestAdjust_UnknownProduct(t *testing.T) {
	svc, _, _ := newTestLedger(t, 50, 0)

	_, err := svc.Adjust(context.Background(), 9999, 5)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAdjust_ConcurrentOverdraw(t *testing.T) {
	svc, _, id := newTestLedger(t, 50, 0)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Adjust(ctx, id, -30)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 || conflicts.Load() != 1 {
		t.Errorf("expected 1 success and 1 conflict, got %d and %d", successes.Load(), conflicts.Load())
	}
	rec, _ := svc.GetStock(ctx, id)
	if rec.Quantity != 20 {
		t.Errorf("expected quantity 20, got %d", rec.Quantity)
	}
}

func TestAdjust_NoDeduplication(t *testing.T) {
	svc, _, id := newTestLedger(t, 50, 0)
	ctx := context.Background()

	svc.Adjust(ctx, id, -5)
	svc.Adjust(ctx, id, -5)

	rec, _ := svc.GetStock(ctx, id)
	if rec.Quantity != 40 {
		t.Errorf("expected both identical adjustments applied, got quantity %d", rec.Quantity)
	}
}

func TestAdjust_ConcurrentSumInvariant(t *testing.T) {
	svc, _, id := newTestLedger(t, 100, 0)
	ctx := context.Background()

	deltas := []int{-7, 3, -20, 15, -40, 8, -33, 1, -12, 25, -60, 4}

	var (
		wg      sync.WaitGroup
		applied atomic.Int64
	)
	for i := 0; i < 10; i++ {
		for _, d := range deltas {
			wg.Add(1)
			go func(d int) {
				defer wg.Done()
				if _, err := svc.Adjust(ctx, id, d); err == nil {
					applied.Add(int64(d))
				} else if !errors.Is(err, domain.ErrConflict) {
					t.Errorf("unexpected error: %v", err)
				}
			}(d)
		}
	}
	wg.Wait()

	rec, _ := svc.GetStock(ctx, id)
	if int64(rec.Quantity) != 100+applied.Load() {
		t.Errorf("expected quantity %d, got %d", 100+applied.Load(), rec.Quantity)
	}
	if rec.Quantity < 0 {
		t.Errorf("quantity went negative: %d", rec.Quantity)
	}
}

func TestAdjust_PublishesEvent(t *testing.T) {
	svc, pub, id := newTestLedger(t, 12, 10)

	if _, err := svc.Adjust(context.Background(), id, -3); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	svc.Close()

	events := pub.published()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.ProductID != id || e.Delta != -3 || e.Quantity != 9 || !e.StockLow {
		t.Errorf("unexpected event: %+v", e)
	}
}

func TestAdjust_PublishFailureDoesNotFailAdjustment(t *testing.T) {
	svc, pub, id := newTestLedger(t, 50, 0)
	pub.err = errors.New("broker down")

	rec, err := svc.Adjust(context.Background(), id, -10)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if rec.Quantity != 40 {
		t.Errorf("expected quantity 40, got %d", rec.Quantity)
	}
}

func TestAdjust_StalledBrokerDoesNotDelayReply(t *testing.T) {
	store := storage.NewMemoryStore()
	pub := &stalledPublisher{}
	svc := NewLedgerService(store, store, pub, zap.NewNop(), otel.Tracer("test"),
		WithPublishTimeout(200*time.Millisecond))
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, domain.NewProduct{Name: "Widget", Price: decimal.NewFromInt(1), Stock: 50})
	if err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}

	start := time.Now()
	for range 2 {
		if _, err := svc.Adjust(ctx, p.ID, -10); err != nil {
			t.Fatalf("expected success, got error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("adjustments waited on the broker for %s", elapsed)
	}

	svc.Close()
	if n := pub.attempts.Load(); n != 2 {
		t.Errorf("expected 2 publish attempts, got %d", n)
	}
	rec, _ := svc.GetStock(ctx, p.ID)
	if rec.Quantity != 30 {
		t.Errorf("expected quantity 30, got %d", rec.Quantity)
	}
}

func TestAdjust_EventsKeepOrder(t *testing.T) {
	svc, pub, id := newTestLedger(t, 0, 0)
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		if _, err := svc.Adjust(ctx, id, 1); err != nil {
			t.Fatalf("adjust %d failed: %v", i, err)
		}
	}
	svc.Close()

	events := pub.published()
	if len(events) != 20 {
		t.Fatalf("expected 20 events, got %d", len(events))
	}
	for i, e := range events {
		if e.Quantity != i+1 {
			t.Fatalf("event %d carries quantity %d", i, e.Quantity)
		}
	}
}

func TestLedgerService_CloseIsIdempotent(t *testing.T) {
	svc, pub, id := newTestLedger(t, 10, 0)
	svc.Close()
	svc.Close()

	if _, err := svc.Adjust(context.Background(), id, 1); err != nil {
		t.Fatalf("adjust after close failed: %v", err)
	}
	if n := len(pub.published()); n != 0 {
		t.Errorf("expected no events after close, got %d", n)
	}
}

func TestLedgerService_RepositoryErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"contention", storage.ErrOptimisticLock, domain.ErrUnavailable},
		{"deadline", context.DeadlineExceeded, domain.ErrUnavailable},
		{"missing", port.ErrRecordNotFound, domain.ErrNotFound},
		{"unknown", errors.New("disk on fire"), domain.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			svc := NewLedgerService(failingRepo{err: tt.err}, store, &mockPublisher{}, zap.NewNop(), otel.Tracer("test"))

			_, err := svc.Adjust(context.Background(), 1, 1)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestInternalErrorHidesCause(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := NewLedgerService(failingRepo{err: errors.New("password=hunter2")}, store, &mockPublisher{}, zap.NewNop(), otel.Tracer("test"))

	_, err := svc.GetStock(context.Background(), 1)
	var de *domain.Error
	if !errors.As(err, &de) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if de.Message() != "an unexpected error occurred" {
		t.Errorf("internal cause leaked into message: %q", de.Message())
	}
}

func TestCreateProduct_Validation(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := NewLedgerService(store, store, &mockPublisher{}, zap.NewNop(), otel.Tracer("test"))

	tests := []struct {
		name string
		np   domain.NewProduct
	}{
		{"blank name", domain.NewProduct{Name: " ", Price: decimal.NewFromInt(1)}},
		{"zero price", domain.NewProduct{Name: "a", Price: decimal.Zero}},
		{"negative stock", domain.NewProduct{Name: "a", Price: decimal.NewFromInt(1), Stock: -1}},
		{"negative minimum", domain.NewProduct{Name: "a", Price: decimal.NewFromInt(1), MinimumStock: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateProduct(context.Background(), tt.np); !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("expected invalid request, got %v", err)
			}
		})
	}

	products, _ := svc.ListProducts(context.Background())
	if len(products) != 0 {
		t.Errorf("invalid products were stored: %d", len(products))
	}
}

func TestDeleteProduct(t *testing.T) {
	svc, _, id := newTestLedger(t, 5, 0)
	ctx := context.Background()

	if err := svc.DeleteProduct(ctx, id); err != nil {
		t.Fatalf("DeleteProduct failed: %v", err)
	}
	if _, err := svc.GetStock(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected stock record gone, got %v", err)
	}
	if err := svc.DeleteProduct(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}

func TestListLowStock(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := NewLedgerService(store, store, &mockPublisher{}, zap.NewNop(), otel.Tracer("test"))
	ctx := context.Background()

	for _, stock := range []int{3, 10, 11} {
		svc.CreateProduct(ctx, domain.NewProduct{
			Name: "p", Price: decimal.NewFromInt(1), Stock: stock, MinimumStock: 10,
		})
	}

	low, err := svc.ListLowStock(ctx)
	if err != nil {
		t.Fatalf("ListLowStock failed: %v", err)
	}
	if len(low) != 2 {
		t.Errorf("expected 2 low stock records, got %d", len(low))
	}
}
