package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"jewelcraft/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer the producer needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer  MessageWriter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewProducer creates a new Kafka producer guarded by a circuit breaker
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return NewProducerWithWriter(writer, DefaultBreakerSettings())
}

// NewProducerWithWriter builds a producer around any MessageWriter
func NewProducerWithWriter(w MessageWriter, s BreakerSettings) *Producer {
	return &Producer{
		writer:  w,
		breaker: NewCircuitBreaker("kafka-producer", s),
		logger:  util.GetLogger(),
	}
}

// Publish writes one message through the circuit breaker
func (p *Producer) Publish(ctx context.Context, msg kafka.Message) error {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", breakerError(err))
	}

	p.logger.Debug("published message", zap.ByteString("key", msg.Key))
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// MessageReader is the subset of *kafka.Reader the consumer needs
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer represents a Kafka consumer
type Consumer struct {
	reader MessageReader
	topic  string
	logger *zap.Logger
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	return NewConsumerWithReader(reader, topic)
}

// NewConsumerWithReader builds a consumer around any MessageReader
func NewConsumerWithReader(r MessageReader, topic string) *Consumer {
	return &Consumer{reader: r, topic: topic, logger: util.GetLogger()}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming feeds messages to handler until ctx is done. A message is
// committed only after handler succeeds; failed messages are retried after retryDelay.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler, retryDelay time.Duration) error {
	c.logger.Info("starting kafka consumer", zap.String("topic", c.topic))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer context cancelled, stopping")
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error("error fetching message", zap.Error(err))
			if !sleep(ctx, retryDelay) {
				return ctx.Err()
			}
			continue
		}

		for {
			err := handler(ctx, msg)
			if err == nil {
				break
			}
			c.logger.Error("error handling message",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			if !sleep(ctx, retryDelay) {
				return ctx.Err()
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("error committing message", zap.Error(err))
		}
	}
}

// sleep waits for d, reporting false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
