package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConsumer runs one reader goroutine per subscribed topic within a
// consumer group. A message is committed only after its handler returns nil,
// so failures are redelivered (at-least-once). Handlers therefore carry their
// own dedup.
type KafkaConsumer struct {
	brokers  []string
	groupID  string
	logger   *zap.Logger
	handlers map[Kind]Handler
	readers  []*kafka.Reader
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func NewKafkaConsumer(brokers []string, groupID string, logger *zap.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		brokers:  brokers,
		groupID:  groupID,
		logger:   logger,
		handlers: make(map[Kind]Handler),
	}
}

// Subscribe registers the handler for a kind. Must be called before Start.
func (c *KafkaConsumer) Subscribe(kind Kind, h Handler) {
	c.handlers[kind] = h
}

func (c *KafkaConsumer) Start(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers subscribed")
	}

	ctx, c.cancel = context.WithCancel(ctx)

	for kind, handler := range c.handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: c.brokers,
			GroupID: c.groupID,
			Topic:   kind.Topic(),
		})
		c.readers = append(c.readers, reader)

		c.wg.Add(1)
		go c.consume(ctx, reader, kind, handler)
	}

	c.logger.Info("Kafka consumer started",
		zap.String("group_id", c.groupID),
		zap.Int("topics", len(c.handlers)))
	return nil
}

func (c *KafkaConsumer) consume(ctx context.Context, reader *kafka.Reader, kind Kind, handler Handler) {
	defer c.wg.Done()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context done, exiting read loop", zap.String("topic", kind.Topic()))
				return
			}
			c.logger.Error("Error reading message",
				zap.String("topic", kind.Topic()),
				zap.Error(err))
			continue
		}

		var env Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			// Malformed message: commit so it is not redelivered forever.
			c.logger.Error("Dropping malformed message",
				zap.String("topic", kind.Topic()),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			if err := reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Error("Error committing message", zap.Error(err))
			}
			continue
		}

		if err := handler(ctx, env); err != nil {
			c.logger.Error("Error processing event",
				zap.String("event_id", env.EventID),
				zap.String("kind", string(env.Kind)),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			continue
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Error committing message",
				zap.String("event_id", env.EventID),
				zap.Error(err))
		}
	}
}

func (c *KafkaConsumer) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	var firstErr error
	for _, r := range c.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.wg.Wait()
	return firstErr
}
