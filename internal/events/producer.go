package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/coinpulse/market-data-service/internal/models"
)

// Producer publishes collection lifecycle events to Kafka. Downstream
// services (forecasting, tendency classification, alerting) key their
// refresh cycles off these events instead of polling the price table.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a new Kafka producer.
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{
		writer: writer,
		topic:  topic,
	}
}

// PublishRunCompleted publishes the outcome of a finished collection run.
func (p *Producer) PublishRunCompleted(ctx context.Context, result *models.CollectionResult) error {
	event := models.RunEvent{
		EventType: "COLLECTION_RUN_COMPLETED",
		Mode:      result.Mode,
		Result:    result,
		Timestamp: time.Now().UTC(),
	}
	return p.publish(ctx, string(result.Mode), event)
}

// PublishSymbolsRefreshed announces a change to the tracked top-N set.
func (p *Producer) PublishSymbolsRefreshed(ctx context.Context, symbols []string) error {
	event := models.RunEvent{
		EventType: "TRACKED_SYMBOLS_REFRESHED",
		Symbols:   symbols,
		Timestamp: time.Now().UTC(),
	}
	return p.publish(ctx, "symbols", event)
}

func (p *Producer) publish(ctx context.Context, kafkaKey string, event models.RunEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(kafkaKey),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

// Close closes the Kafka producer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
