package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ecomflow/fulfillment/internal/domain"
	"github.com/ecomflow/fulfillment/internal/events"
	"github.com/ecomflow/fulfillment/internal/repository"
	"go.uber.org/zap"
)

type OrderService struct {
	repo        repository.OrderRepository
	publisher   events.Publisher
	logger      *zap.Logger
	maxAttempts int
}

func NewOrderService(repo repository.OrderRepository, publisher events.Publisher, logger *zap.Logger, maxAttempts int) *OrderService {
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	return &OrderService{
		repo:        repo,
		publisher:   publisher,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

func newOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%s-%04d", now.Format("20060102150405"), rand.Intn(10000))
}

// CreateOrder persists the order in PENDING and announces it. Stock is not
// touched here; the reservation happens when the coordinator picks up the
// OrderCreated event.
func (s *OrderService) CreateOrder(ctx context.Context, principal domain.Principal, req domain.OrderCreateRequest) (*domain.Order, error) {
	items := make([]domain.OrderItem, len(req.Items))
	for i, item := range req.Items {
		if !item.Price.IsPositive() {
			return nil, fmt.Errorf("item %d: price must be positive", i)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("item %d: quantity must be at least 1", i)
		}
		items[i] = domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       item.Price,
			Quantity:    item.Quantity,
		}
	}

	now := time.Now()
	order := &domain.Order{
		OrderID:         now.UnixNano(),
		OrderNumber:     newOrderNumber(now),
		UserID:          principal.UserID,
		Items:           items,
		Status:          domain.OrderStatusPending,
		ShippingAddress: req.ShippingAddress,
		Phone:           req.Phone,
	}
	order.CalculateTotal()

	if err := s.repo.Create(ctx, order); err != nil {
		s.logger.Error("Failed to create order",
			zap.Int64("order_id", order.OrderID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Order created",
		zap.Int64("order_id", order.OrderID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("user_id", order.UserID),
		zap.String("total_amount", order.TotalAmount.String()))

	env, err := events.NewOrderCreated(events.OrderCreatedEvent{
		OrderID:         order.OrderID,
		UserID:          order.UserID,
		OrderNumber:     order.OrderNumber,
		TotalAmount:     order.TotalAmount,
		Status:          string(order.Status),
		ShippingAddress: order.ShippingAddress,
		Phone:           order.Phone,
		Items:           toItemEvents(order.Items),
		Timestamp:       now,
	})
	if err != nil {
		return nil, err
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.logger.Error("Failed to publish order created event",
			zap.Int64("order_id", order.OrderID),
			zap.Error(err))
	}

	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, principal domain.Principal, orderID int64) (*domain.Order, error) {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != principal.UserID {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, principal domain.Principal) ([]domain.Order, error) {
	return s.repo.ListByUser(ctx, principal.UserID)
}

// CancelOrder is the user-facing cancellation. It only succeeds from PENDING
// or AWAITING_PAYMENT; the coordinator releases any held stock when it sees
// the status change.
func (s *OrderService) CancelOrder(ctx context.Context, principal domain.Principal, orderID int64) (*domain.Order, error) {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != principal.UserID {
		return nil, domain.ErrNotFound
	}
	return s.TransitionStatus(ctx, orderID, domain.OrderStatusCancelled)
}

// TransitionStatus moves the order through its state machine with an
// optimistic write. The transition check runs against the freshly loaded
// order on every retry, so a concurrent writer that got there first turns
// this call into ErrInvalidTransition rather than a lost update.
func (s *OrderService) TransitionStatus(ctx context.Context, orderID int64, next domain.OrderStatus) (*domain.Order, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		order, err := s.GetByID(ctx, orderID)
		if err != nil {
			return nil, err
		}

		oldStatus := order.Status
		if err := order.Transition(next); err != nil {
			return nil, err
		}

		err = s.repo.Update(ctx, order, order.Version)
		if err == nil {
			s.logger.Info("Order status changed",
				zap.Int64("order_id", orderID),
				zap.String("old_status", string(oldStatus)),
				zap.String("new_status", string(next)))
			s.publishStatusChanged(ctx, order, oldStatus)
			return order, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}

	s.logger.Warn("Order status transition exhausted retries",
		zap.Int64("order_id", orderID),
		zap.String("target_status", string(next)))
	return nil, domain.ErrContention
}

func (s *OrderService) publishStatusChanged(ctx context.Context, order *domain.Order, oldStatus domain.OrderStatus) {
	env, err := events.NewOrderStatusChanged(events.OrderStatusChangedEvent{
		OrderID:     order.OrderID,
		UserID:      order.UserID,
		OrderNumber: order.OrderNumber,
		OldStatus:   string(oldStatus),
		NewStatus:   string(order.Status),
		Items:       toItemEvents(order.Items),
		Timestamp:   time.Now(),
	})
	if err == nil {
		err = s.publisher.Publish(ctx, env)
	}
	if err != nil {
		s.logger.Error("Failed to publish order status changed event",
			zap.Int64("order_id", order.OrderID),
			zap.Error(err))
	}
}

// ClaimStockRelease marks the order's reservations as returned to the pool.
// The marker is written under the order's version, so exactly one caller wins
// the claim; every later caller, including a redelivery of the same
// cancellation on a fresh process, gets ErrDuplicateEvent and must not
// release again.
func (s *OrderService) ClaimStockRelease(ctx context.Context, orderID int64) (*domain.Order, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		order, err := s.GetByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if order.StockReleased {
			return order, domain.ErrDuplicateEvent
		}

		order.StockReleased = true
		err = s.repo.Update(ctx, order, order.Version)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}

	s.logger.Warn("Stock release claim exhausted retries", zap.Int64("order_id", orderID))
	return nil, domain.ErrContention
}

func (s *OrderService) GetByID(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

func toItemEvents(items []domain.OrderItem) []events.OrderItemEvent {
	out := make([]events.OrderItemEvent, len(items))
	for i, item := range items {
		out[i] = events.OrderItemEvent{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       item.Price,
			Quantity:    item.Quantity,
		}
	}
	return out
}
