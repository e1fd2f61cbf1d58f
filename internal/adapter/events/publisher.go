package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// Broker names accepted by EVENTS_BROKER.
const (
	BrokerNone  = "none"
	BrokerNATS  = "nats"
	BrokerKafka = "kafka"
)

func encode(event domain.StockAdjusted) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode stock adjusted event: %w", err)
	}
	return payload, nil
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

var _ port.EventPublisher = NoopPublisher{}

func (NoopPublisher) PublishStockAdjusted(ctx context.Context, event domain.StockAdjusted) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }
