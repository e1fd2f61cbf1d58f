package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	defaultPublishTimeout = 2 * time.Second
	eventQueueSize        = 1024
)

// LedgerService owns stock records and is the only code path that changes a
// quantity.
type LedgerService struct {
	stocks    port.LedgerRepository
	catalog   port.CatalogRepository
	publisher port.EventPublisher
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	publishTimeout time.Duration
	events         chan queuedEvent
	mu             sync.RWMutex
	closed         bool
	done           chan struct{}
}

type queuedEvent struct {
	ctx   context.Context
	event domain.StockAdjusted
}

type LedgerOption func(*LedgerService)

// WithPublishTimeout bounds each event publish.
func WithPublishTimeout(d time.Duration) LedgerOption {
	return func(s *LedgerService) { s.publishTimeout = d }
}

func NewLedgerService(
	stocks port.LedgerRepository,
	catalog port.CatalogRepository,
	publisher port.EventPublisher,
	logger *zap.Logger,
	tracer trace.Tracer,
	opts ...LedgerOption,
) *LedgerService {
	s := &LedgerService{
		stocks:         stocks,
		catalog:        catalog,
		publisher:      publisher,
		logger:         logger,
		tracer:         tracer,
		now:            func() time.Time { return time.Now().UTC() },
		publishTimeout: defaultPublishTimeout,
		events:         make(chan queuedEvent, eventQueueSize),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.publishLoop()
	return s
}

// Close stops accepting events and waits until the queued ones have been
// handed to the publisher.
func (s *LedgerService) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()
	<-s.done
}

// enqueue never blocks the caller. Events are dropped when the queue is full.
func (s *LedgerService) enqueue(ctx context.Context, event domain.StockAdjusted) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("stock adjusted event dropped after close", zap.Int64("product_id", event.ProductID))
		return
	}
	select {
	case s.events <- queuedEvent{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		s.logger.Warn("event queue full, stock adjusted event dropped", zap.Int64("product_id", event.ProductID))
	}
}

// publishLoop sends events one at a time, in the order they were queued.
func (s *LedgerService) publishLoop() {
	defer close(s.done)
	for q := range s.events {
		ctx, cancel := context.WithTimeout(q.ctx, s.publishTimeout)
		if err := s.publisher.PublishStockAdjusted(ctx, q.event); err != nil {
			s.logger.Warn("failed to publish stock adjusted event",
				zap.Int64("product_id", q.event.ProductID), zap.Error(err))
		}
		cancel()
	}
}

// Adjust adds delta to the product's quantity. The result is rejected with a
// conflict, and nothing is written, when it would drop below zero.
func (s *LedgerService) Adjust(ctx context.Context, productID int64, delta int) (*domain.StockRecord, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.adjust_stock")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("product.id", productID),
		attribute.Int("stock.delta", delta),
	)

	if delta == 0 {
		return nil, domain.InvalidRequest("stock adjustment must not be zero")
	}

	rec, err := s.stocks.UpdateStock(ctx, productID, func(rec *domain.StockRecord) error {
		next := rec.Quantity + delta
		if delta > 0 && next < rec.Quantity {
			return domain.InvalidRequest("stock adjustment overflows the quantity")
		}
		if next < 0 {
			return domain.Conflict(fmt.Sprintf(
				"insufficient stock: current quantity %d, attempted to remove %d", rec.Quantity, -delta))
		}
		rec.Quantity = next
		rec.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, s.fail(span, "adjust stock", productID, err)
	}

	span.SetAttributes(attribute.Int("stock.quantity", rec.Quantity))
	s.logger.Info("stock adjusted",
		zap.Int64("product_id", productID),
		zap.Int("delta", delta),
		zap.Int("quantity", rec.Quantity),
		zap.Bool("stock_low", rec.Low()),
	)

	s.enqueue(ctx, domain.NewStockAdjusted(*rec, delta))

	return rec, nil
}

func (s *LedgerService) GetStock(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.get_stock")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", productID))

	rec, err := s.stocks.GetStock(ctx, productID)
	if err != nil {
		return nil, s.fail(span, "get stock", productID, err)
	}
	return rec, nil
}

func (s *LedgerService) ListLowStock(ctx context.Context) ([]domain.StockRecord, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.list_low_stock")
	defer span.End()

	recs, err := s.stocks.ListLowStock(ctx)
	if err != nil {
		return nil, s.fail(span, "list low stock", 0, err)
	}
	return recs, nil
}

func (s *LedgerService) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.get_product")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", id))

	p, err := s.catalog.GetProduct(ctx, id)
	if err != nil {
		return nil, s.fail(span, "get product", id, err)
	}
	projected := p.Projected()
	return &projected, nil
}

func (s *LedgerService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.list_products")
	defer span.End()

	products, err := s.catalog.ListProducts(ctx)
	if err != nil {
		return nil, s.fail(span, "list products", 0, err)
	}
	for i := range products {
		products[i] = products[i].Projected()
	}
	return products, nil
}

// CreateProduct registers a product together with its stock record.
func (s *LedgerService) CreateProduct(ctx context.Context, p domain.NewProduct) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.create_product")
	defer span.End()

	if err := p.Validate(); err != nil {
		return nil, err
	}

	created, err := s.catalog.CreateProduct(ctx, p)
	if err != nil {
		return nil, s.fail(span, "create product", 0, err)
	}

	s.logger.Info("product created",
		zap.Int64("product_id", created.ID),
		zap.String("name", created.Name),
		zap.Int("stock", created.Stock),
	)
	projected := created.Projected()
	return &projected, nil
}

// DeleteProduct removes the product and, with it, its stock record.
func (s *LedgerService) DeleteProduct(ctx context.Context, id int64) error {
	ctx, span := s.tracer.Start(ctx, "ledger.delete_product")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", id))

	if err := s.catalog.DeleteProduct(ctx, id); err != nil {
		return s.fail(span, "delete product", id, err)
	}
	s.logger.Info("product deleted", zap.Int64("product_id", id))
	return nil
}

// fail converts a repository error into a domain error. Unclassified causes
// are logged and hidden behind a generic internal error.
func (s *LedgerService) fail(span trace.Span, op string, productID int64, err error) error {
	var de *domain.Error
	switch {
	case errors.As(err, &de):
		span.SetStatus(codes.Error, de.Kind.String())
		return de
	case errors.Is(err, port.ErrRecordNotFound):
		span.SetStatus(codes.Error, "not found")
		return domain.NotFound(fmt.Sprintf("no product or inventory found with id %d", productID))
	case errors.Is(err, port.ErrContention):
		span.SetStatus(codes.Error, "contention")
		s.logger.Warn("stock record contention", zap.String("op", op), zap.Int64("product_id", productID), zap.Error(err))
		return domain.Unavailable("stock record is busy, retry later")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		span.SetStatus(codes.Error, "cancelled")
		return domain.Unavailable("request cancelled before the ledger could answer")
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "internal")
	s.logger.Error("ledger operation failed",
		zap.String("op", op),
		zap.Int64("product_id", productID),
		zap.Error(err),
	)
	return domain.Internal(fmt.Errorf("%s: %w", op, err))
}
