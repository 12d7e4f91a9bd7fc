// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. Producers encode values as JSON; consumers hand raw
// messages to a MessageHandler and commit only the ones it accepts.
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

const (
	minFetchBackoff = 100 * time.Millisecond
	maxFetchBackoff = 5 * time.Second
)

// MessageHandler is invoked for each message. Returning an error leaves the
// message uncommitted.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// MessageReader is the subset of *kafka.Reader the Consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerStats counts messages seen by a Consumer.
type ConsumerStats struct {
	Fetched   int64
	Handled   int64
	Failed    int64
	Committed int64
}

// Consumer reads a topic and dispatches each message to its handler.
type Consumer struct {
	reader  MessageReader
	handler MessageHandler
	logger  *slog.Logger

	fetched, handled, failed, committed atomic.Int64
}

// NewConsumer joins cfg.ConsumerGroup on topic, starting from the newest
// offset when the group has none committed.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	})
	return NewConsumerWithReader(r, topic, handler)
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(r MessageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		handler: handler,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start consumes until ctx is cancelled, then closes the reader. Fetch
// errors are retried with exponential backoff.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	backoff := minFetchBackoff
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err(), "stats", c.Stats())
				return c.reader.Close()
			}
			c.logger.Error("failed to fetch message", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				continue
			}
			backoff = min(2*backoff, maxFetchBackoff)
			continue
		}
		backoff = minFetchBackoff
		c.fetched.Add(1)

		if err := c.dispatch(ctx, msg); err != nil {
			c.failed.Add(1)
			c.logger.Error("failed to process message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		c.handled.Add(1)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		c.committed.Add(1)
	}
}

// dispatch runs the handler, turning a panic into an error so one bad
// message cannot take the consumer down.
func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	c.logger.Debug("message received",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", string(msg.Key),
		"value_size", len(msg.Value),
	)
	return c.handler(ctx, msg.Key, msg.Value)
}

// Stats returns the consumer's counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Fetched:   c.fetched.Load(),
		Handled:   c.handled.Load(),
		Failed:    c.failed.Load(),
		Committed: c.committed.Load(),
	}
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
