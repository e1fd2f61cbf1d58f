package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// InventoryService runs business operations against the remote ledger.
// Every ledger failure leaves this service as a domain error.
type InventoryService struct {
	ledger port.LedgerClient
	logger *zap.Logger
	tracer trace.Tracer
}

func NewInventoryService(ledger port.LedgerClient, logger *zap.Logger, tracer trace.Tracer) *InventoryService {
	return &InventoryService{
		ledger: ledger,
		logger: logger,
		tracer: tracer,
	}
}

// CheckAvailability reports whether at least requested units are in stock.
// A product without inventory data is reported as unavailable, not as an error.
func (s *InventoryService) CheckAvailability(ctx context.Context, productID int64, requested int) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.check_availability")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("product.id", productID),
		attribute.Int("stock.requested", requested),
	)

	if requested <= 0 {
		return false, domain.InvalidRequest("quantity to check must be positive")
	}

	stock, err := s.ledger.GetStock(ctx, productID)
	if err != nil {
		var ce *port.CallError
		if errors.As(err, &ce) && ce.Outcome == port.OutcomeNotFound {
			s.logger.Warn("availability checked for product without inventory",
				zap.Int64("product_id", productID))
			return false, nil
		}
		return false, s.fail(span, "check availability", err, translation{
			unavailable: "could not verify stock availability",
		})
	}

	available := stock.Quantity >= requested
	span.SetAttributes(attribute.Bool("stock.available", available))
	return available, nil
}

// UpdateStock applies a signed delta through the ledger. A timed-out call is
// reported as unavailable; whether the delta was applied is unknown.
func (s *InventoryService) UpdateStock(ctx context.Context, productID int64, delta int) (*domain.StockView, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.update_stock")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("product.id", productID),
		attribute.Int("stock.delta", delta),
	)

	if delta == 0 {
		return nil, domain.InvalidRequest("stock update quantity must not be zero")
	}

	s.logger.Info("updating stock", zap.Int64("product_id", productID), zap.Int("delta", delta))
	stock, err := s.ledger.AdjustStock(ctx, productID, delta)
	if err != nil {
		return nil, s.fail(span, "update stock", err, translation{
			notFound:    fmt.Sprintf("cannot update stock, product not found with id %d", productID),
			rejected:    "insufficient stock for the requested operation",
			unavailable: "could not update stock, outcome unknown",
		})
	}
	return stock, nil
}

// TotalInventoryValue sums price times stock over every product using exact
// decimal arithmetic. No product is skipped, whatever its price.
func (s *InventoryService) TotalInventoryValue(ctx context.Context) (decimal.Decimal, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.total_value")
	defer span.End()

	products, err := s.ledger.ListProducts(ctx)
	if err != nil {
		return decimal.Zero, s.fail(span, "total inventory value", err, translation{
			unavailable: "could not compute inventory value",
			bulk:        true,
		})
	}

	total := decimal.Zero
	for _, p := range products {
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(p.Stock))))
	}

	s.logger.Info("inventory value computed",
		zap.Int("products", len(products)),
		zap.String("total_value", total.StringFixed(2)),
	)
	return total, nil
}

func (s *InventoryService) GetStock(ctx context.Context, productID int64) (*domain.StockView, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.get_stock")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", productID))

	stock, err := s.ledger.GetStock(ctx, productID)
	if err != nil {
		return nil, s.fail(span, "get stock", err, translation{
			notFound: fmt.Sprintf("no inventory found for product with id %d", productID),
		})
	}
	return stock, nil
}

func (s *InventoryService) LowStockReport(ctx context.Context) ([]domain.StockView, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.low_stock_report")
	defer span.End()

	stocks, err := s.ledger.ListLowStock(ctx)
	if err != nil {
		return nil, s.fail(span, "low stock report", err, translation{
			unavailable: "could not fetch low stock products",
			bulk:        true,
		})
	}
	s.logger.Info("low stock report generated", zap.Int("products", len(stocks)))
	return stocks, nil
}

func (s *InventoryService) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.get_product")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", id))

	p, err := s.ledger.GetProduct(ctx, id)
	if err != nil {
		return nil, s.fail(span, "get product", err, translation{
			notFound: fmt.Sprintf("product not found with id %d", id),
		})
	}
	return p, nil
}

func (s *InventoryService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.list_products")
	defer span.End()

	products, err := s.ledger.ListProducts(ctx)
	if err != nil {
		return nil, s.fail(span, "list products", err, translation{bulk: true})
	}
	return products, nil
}

// fail logs the raw ledger failure and returns its translation.
func (s *InventoryService) fail(span trace.Span, op string, err error, t translation) error {
	translated := translate(err, t)
	kind := domain.KindOf(translated)
	span.SetStatus(codes.Error, kind.String())

	fields := []zap.Field{zap.String("op", op), zap.String("kind", kind.String()), zap.Error(err)}
	switch kind {
	case domain.KindUnavailable, domain.KindInternal:
		span.RecordError(err)
		s.logger.Error("ledger call failed", fields...)
	default:
		s.logger.Info("ledger rejected request", fields...)
	}
	return translated
}
