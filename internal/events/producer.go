package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaProducer publishes envelopes to one topic per event kind. Messages are
// keyed by CausalKey with a hash balancer, which pins every event of one order
// to a single partition.
type KafkaProducer struct {
	brokers []string
	logger  *zap.Logger

	mu      sync.Mutex
	writers map[Kind]*kafka.Writer
}

func NewKafkaProducer(brokers []string, logger *zap.Logger) *KafkaProducer {
	return &KafkaProducer{
		brokers: brokers,
		logger:  logger,
		writers: make(map[Kind]*kafka.Writer),
	}
}

func (p *KafkaProducer) writerFor(kind Kind) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[kind]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        kind.Topic(),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	p.writers[kind] = w
	return w
}

func (p *KafkaProducer) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("Failed to marshal envelope",
			zap.String("event_id", env.EventID),
			zap.Error(err))
		return err
	}

	msg := kafka.Message{
		Key:   []byte(env.CausalKey),
		Value: body,
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := p.writerFor(env.Kind).WriteMessages(writeCtx, msg); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("event_id", env.EventID),
			zap.String("kind", string(env.Kind)),
			zap.Error(err))
		return err
	}

	p.logger.Info("Event published",
		zap.String("event_id", env.EventID),
		zap.String("kind", string(env.Kind)),
		zap.String("causal_key", env.CausalKey))

	return nil
}

func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
