package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/config"
)

// Event is the unit of data published to Kafka. Key drives partition
// hashing, Value is JSON-serialised and a non-empty Type is carried in the
// event-type header.
type Event struct {
	Key   string
	Type  string
	Value any
}

// MessageWriter is the subset of *kafka.Writer the Producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON-encoded events to a Kafka topic.
type Producer struct {
	writer MessageWriter
	topic  string
	logger *slog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// NewProducer creates a Producer for the given topic.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return NewProducerWithWriter(w, topic)
}

// NewProducerWithWriter wraps an existing writer.
func NewProducerWithWriter(w MessageWriter, topic string) *Producer {
	return &Producer{
		writer: w,
		topic:  topic,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Topic returns the topic the producer writes to.
func (p *Producer) Topic() string {
	return p.topic
}

// Publish writes a single event synchronously.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	return p.PublishBatch(ctx, []Event{event})
}

// PublishBatch encodes every event before writing any, then writes them in
// one call.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		msg, err := encode(event)
		if err != nil {
			return fmt.Errorf("event %q: %w", event.Key, err)
		}
		messages[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.failed.Add(int64(len(messages)))
		p.logger.Error("kafka write failed", "messages", len(messages), "error", err)
		return fmt.Errorf("writing %d message(s) to %s: %w", len(messages), p.topic, err)
	}
	p.published.Add(int64(len(messages)))
	p.logger.Debug("kafka write", "messages", len(messages))
	return nil
}

// Stats returns the number of messages written and failed so far.
func (p *Producer) Stats() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}

// Close flushes pending writes and closes the underlying Kafka writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func encode(event Event) (kafka.Message, error) {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding value: %w", err)
	}
	headers := []kafka.Header{{Key: "content-type", Value: []byte("application/json")}}
	if event.Type != "" {
		headers = append(headers, kafka.Header{Key: "event-type", Value: []byte(event.Type)})
	}
	return kafka.Message{Key: []byte(event.Key), Value: value, Headers: headers}, nil
}
