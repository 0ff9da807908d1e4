package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryBus is an in-process Publisher for local mode and tests. Delivery is
// synchronous and in publish order, which trivially satisfies the per-key
// ordering guarantee. Redelivery is simulated by publishing the same envelope
// again.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	logger   *zap.Logger
}

func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	return &MemoryBus{
		handlers: make(map[Kind][]Handler),
		logger:   logger,
	}
}

func (b *MemoryBus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

func (b *MemoryBus) Publish(ctx context.Context, env Envelope) error {
	b.mu.RLock()
	subs := append([]Handler(nil), b.handlers[env.Kind]...)
	b.mu.RUnlock()

	for _, h := range subs {
		if err := h(ctx, env); err != nil {
			b.logger.Error("Memory bus handler failed",
				zap.String("event_id", env.EventID),
				zap.String("kind", string(env.Kind)),
				zap.Error(err))
		}
	}
	return nil
}
