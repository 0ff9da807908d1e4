package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrUnavailable is returned once the breaker is open or the wrapped call
// keeps failing. Callers treat it as "try again later", not as a business
// outcome.
var ErrUnavailable = errors.New("circuit breaker: upstream unavailable")

type Settings struct {
	Name        string
	MaxFailures uint32
	Timeout     time.Duration
	Interval    time.Duration
}

// Breaker wraps a synchronous lookup with a circuit breaker so a struggling
// dependency fails fast instead of tying up every caller.
type Breaker[T any] struct {
	cb     *gobreaker.CircuitBreaker[T]
	logger *zap.Logger
}

func NewBreaker[T any](s Settings, logger *zap.Logger) *Breaker[T] {
	cb := gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:     s.Name,
		Interval: s.Interval,
		Timeout:  s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Breaker[T]{cb: cb, logger: logger}
}

// Execute runs fn through the breaker. Open-circuit rejections and execution
// failures both surface as ErrUnavailable wrapping the cause; business errors
// the caller wants to distinguish should be checked before calling.
func (b *Breaker[T]) Execute(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := b.cb.Execute(func() (T, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			var zero T
			return zero, errors.Join(ErrUnavailable, err)
		}
		return result, err
	}
	return result, nil
}
