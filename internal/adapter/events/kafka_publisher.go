package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	kafkaBatchTimeout = 10 * time.Millisecond
	kafkaBatchSize    = 100
	kafkaClientID     = "stock-ledger"
)

// MessageProducer is satisfied by the traced otelkafka writer.
type MessageProducer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per adjustment, keyed by product id so
// that the events of a product stay ordered within a partition.
type KafkaPublisher struct {
	producer MessageProducer
	topic    string
	logger   *zap.Logger
}

var _ port.EventPublisher = (*KafkaPublisher)(nil)

// NewTracedKafkaWriter wraps a kafka writer so every message carries the
// caller's trace context.
func NewTracedKafkaWriter(broker, topic string, tp trace.TracerProvider) (MessageProducer, error) {
	base := &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           kafkaBatchTimeout,
		BatchSize:              kafkaBatchSize,
		AllowAutoTopicCreation: true,
	}

	writer, err := otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(topic),
				attribute.String("messaging.kafka.client_id", kafkaClientID),
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka writer: %w", err)
	}
	return writer, nil
}

func NewKafkaPublisher(producer MessageProducer, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) PublishStockAdjusted(ctx context.Context, event domain.StockAdjusted) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}

	// Using WriteMessage (singular) so the writer starts a span per message.
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.ProductID, 10)),
		Value: payload,
	}
	if err := p.producer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("write to %s: %w", p.topic, err)
	}
	p.logger.Debug("stock adjusted event published",
		zap.String("topic", p.topic),
		zap.Int64("product_id", event.ProductID),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
