package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type EventPublisher interface {
	// PublishStockAdjusted announces a committed adjustment.
	PublishStockAdjusted(ctx context.Context, event domain.StockAdjusted) error

	Close() error
}
