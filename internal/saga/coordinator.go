package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/ecomflow/fulfillment/internal/domain"
	"github.com/ecomflow/fulfillment/internal/events"
	"github.com/ecomflow/fulfillment/internal/service"
	"go.uber.org/zap"
)

// Subscriber is the inbound half of the event bus.
type Subscriber interface {
	Subscribe(kind events.Kind, h events.Handler)
}

// Coordinator drives the fulfillment choreography: reserve stock when an
// order appears, deduct it when payment succeeds, release it when payment
// fails or the order is cancelled. Handlers are idempotent via event-ID
// dedup and safe under races via the order state machine: whichever writer
// transitions the order first wins, and the loser sees an invalid transition
// and backs off.
type Coordinator struct {
	inventory *service.InventoryService
	orders    *service.OrderService
	dedup     *Dedup
	logger    *zap.Logger
}

func NewCoordinator(inventory *service.InventoryService, orders *service.OrderService, dedup *Dedup, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		inventory: inventory,
		orders:    orders,
		dedup:     dedup,
		logger:    logger,
	}
}

func (c *Coordinator) Register(bus Subscriber) {
	bus.Subscribe(events.KindCartItemAdded, c.HandleCartItemAdded)
	bus.Subscribe(events.KindOrderCreated, c.HandleOrderCreated)
	bus.Subscribe(events.KindOrderStatusChanged, c.HandleOrderStatusChanged)
	bus.Subscribe(events.KindPaymentSuccess, c.HandlePaymentSuccess)
	bus.Subscribe(events.KindPaymentFailed, c.HandlePaymentFailed)
}

func dedupKey(env events.Envelope) string {
	return fmt.Sprintf("%s:%s", env.Kind, env.EventID)
}

// retryable separates transport-worthy failures from settled business
// outcomes. Business rejections must not be redelivered; they will never
// succeed.
func retryable(err error) bool {
	for _, settled := range []error{
		domain.ErrInvalidQuantity,
		domain.ErrInsufficientStock,
		domain.ErrInsufficientReservation,
		domain.ErrNotFound,
		domain.ErrAlreadyExists,
		domain.ErrInvalidTransition,
		domain.ErrInvariantViolation,
		domain.ErrResultingNegative,
	} {
		if errors.Is(err, settled) {
			return false
		}
	}
	return true
}

// HandleCartItemAdded warms nothing and holds nothing; it only surfaces
// imminent stock shortage while the user is still shopping.
func (c *Coordinator) HandleCartItemAdded(ctx context.Context, env events.Envelope) error {
	key := dedupKey(env)
	if c.dedup.Seen(key) {
		return nil
	}

	var evt events.CartItemAddedEvent
	if err := env.Decode(&evt); err != nil {
		c.logger.Error("Dropping undecodable cart event", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	available, err := c.inventory.CheckAvailability(ctx, evt.ProductID, evt.Quantity)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.logger.Debug("Cart references unknown product", zap.Int64("product_id", evt.ProductID))
			return nil
		}
		c.dedup.Forget(key)
		return err
	}
	if !available {
		c.logger.Warn("Cart item may not be fulfillable",
			zap.Int64("cart_id", evt.CartID),
			zap.Int64("product_id", evt.ProductID),
			zap.Int32("quantity", evt.Quantity))
	}
	return nil
}

// HandleOrderCreated reserves stock for every item, all or nothing. Success
// advances the order to AWAITING_PAYMENT; a permanent reservation failure
// cancels it. Any partial reservation is rolled back before this handler
// returns, so a redelivery always starts from a clean slate.
func (c *Coordinator) HandleOrderCreated(ctx context.Context, env events.Envelope) error {
	key := dedupKey(env)
	if c.dedup.Seen(key) {
		c.logger.Debug("Skipping duplicate event", zap.String("event_id", env.EventID))
		return nil
	}

	var evt events.OrderCreatedEvent
	if err := env.Decode(&evt); err != nil {
		c.logger.Error("Dropping undecodable order event", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	if err := c.processOrderCreated(ctx, evt); err != nil {
		c.dedup.Forget(key)
		return err
	}
	return nil
}

func (c *Coordinator) processOrderCreated(ctx context.Context, evt events.OrderCreatedEvent) error {
	order, err := c.orders.GetByID(ctx, evt.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.logger.Error("Order created event for unknown order", zap.Int64("order_id", evt.OrderID))
			return nil
		}
		return err
	}
	if order.Status != domain.OrderStatusPending {
		// Already progressed, or a stale replay of a finished order.
		c.logger.Info("Order already past reservation",
			zap.Int64("order_id", evt.OrderID),
			zap.String("status", string(order.Status)))
		return nil
	}

	var reserved []events.OrderItemEvent
	var failure error
	for _, item := range evt.Items {
		if _, err := c.inventory.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
			failure = err
			c.logger.Warn("Reservation failed",
				zap.Int64("order_id", evt.OrderID),
				zap.Int64("product_id", item.ProductID),
				zap.Int32("quantity", item.Quantity),
				zap.Error(err))
			break
		}
		reserved = append(reserved, item)
	}

	if failure != nil {
		c.releaseItems(ctx, evt.OrderID, reserved)
		if retryable(failure) {
			return failure
		}
		if _, err := c.orders.TransitionStatus(ctx, evt.OrderID, domain.OrderStatusCancelled); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				return nil
			}
			return err
		}
		c.logger.Info("Order cancelled, stock unavailable", zap.Int64("order_id", evt.OrderID))
		return nil
	}

	if _, err := c.orders.TransitionStatus(ctx, evt.OrderID, domain.OrderStatusAwaitingPayment); err != nil {
		// The order moved underneath us (likely a cancellation); give the
		// stock back either way.
		c.releaseItems(ctx, evt.OrderID, evt.Items)
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	return nil
}

// HandlePaymentSuccess confirms the order, then converts its reservations
// into deductions. The transition is the tie-breaker: if the order is no
// longer AWAITING_PAYMENT the payment raced a cancellation and the stock is
// left for the cancellation path to release.
func (c *Coordinator) HandlePaymentSuccess(ctx context.Context, env events.Envelope) error {
	key := dedupKey(env)
	if c.dedup.Seen(key) {
		c.logger.Debug("Skipping duplicate event", zap.String("event_id", env.EventID))
		return nil
	}

	var evt events.PaymentSuccessEvent
	if err := env.Decode(&evt); err != nil {
		c.logger.Error("Dropping undecodable payment event", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	order, err := c.orders.TransitionStatus(ctx, evt.OrderID, domain.OrderStatusConfirmed)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			c.logger.Info("Payment success ignored, order not awaiting payment",
				zap.Int64("order_id", evt.OrderID),
				zap.Error(err))
			return nil
		}
		c.dedup.Forget(key)
		return err
	}

	for _, item := range order.Items {
		if _, err := c.inventory.Deduct(ctx, item.ProductID, item.Quantity); err != nil {
			// The order is already confirmed; a failed deduction is a ledger
			// discrepancy to reconcile, not a reason to unconfirm.
			c.logger.Error("Failed to deduct reserved stock",
				zap.Int64("order_id", evt.OrderID),
				zap.Int64("product_id", item.ProductID),
				zap.Int32("quantity", item.Quantity),
				zap.Error(err))
		}
	}
	return nil
}

// HandlePaymentFailed fails the order and releases its reservations.
func (c *Coordinator) HandlePaymentFailed(ctx context.Context, env events.Envelope) error {
	key := dedupKey(env)
	if c.dedup.Seen(key) {
		c.logger.Debug("Skipping duplicate event", zap.String("event_id", env.EventID))
		return nil
	}

	var evt events.PaymentFailedEvent
	if err := env.Decode(&evt); err != nil {
		c.logger.Error("Dropping undecodable payment event", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	order, err := c.orders.TransitionStatus(ctx, evt.OrderID, domain.OrderStatusFailed)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			c.logger.Info("Payment failure ignored, order not awaiting payment",
				zap.Int64("order_id", evt.OrderID),
				zap.Error(err))
			return nil
		}
		c.dedup.Forget(key)
		return err
	}

	c.releaseItems(ctx, evt.OrderID, toItemEvents(order.Items))
	return nil
}

// HandleOrderStatusChanged releases stock when a cancellation lands on an
// order that had already reserved. PENDING cancellations held nothing, and
// the failure path releases at the source, so only AWAITING_PAYMENT to
// CANCELLED carries a release here. The dedup cache does not survive a
// restart, so the release is additionally fenced by a marker on the order
// record: the claim is won at most once, and a replayed cancellation finds
// it taken and leaves the ledger alone.
func (c *Coordinator) HandleOrderStatusChanged(ctx context.Context, env events.Envelope) error {
	key := dedupKey(env)
	if c.dedup.Seen(key) {
		c.logger.Debug("Skipping duplicate event", zap.String("event_id", env.EventID))
		return nil
	}

	var evt events.OrderStatusChangedEvent
	if err := env.Decode(&evt); err != nil {
		c.logger.Error("Dropping undecodable order event", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	if evt.NewStatus != string(domain.OrderStatusCancelled) || evt.OldStatus != string(domain.OrderStatusAwaitingPayment) {
		return nil
	}

	order, err := c.orders.ClaimStockRelease(ctx, evt.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			c.logger.Debug("Cancellation stock already released", zap.Int64("order_id", evt.OrderID))
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			c.logger.Error("Status change event for unknown order", zap.Int64("order_id", evt.OrderID))
			return nil
		}
		c.dedup.Forget(key)
		return err
	}

	c.releaseItems(ctx, evt.OrderID, toItemEvents(order.Items))
	return nil
}

func (c *Coordinator) releaseItems(ctx context.Context, orderID int64, items []events.OrderItemEvent) {
	for _, item := range items {
		if _, err := c.inventory.Release(ctx, item.ProductID, item.Quantity); err != nil {
			c.logger.Error("Failed to release reservation",
				zap.Int64("order_id", orderID),
				zap.Int64("product_id", item.ProductID),
				zap.Int32("quantity", item.Quantity),
				zap.Error(err))
		}
	}
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
