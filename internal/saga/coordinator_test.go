package saga

import (
	"context"
	"sync"
	"testing"

	"github.com/ecomflow/fulfillment/internal/domain"
	"github.com/ecomflow/fulfillment/internal/events"
	"github.com/ecomflow/fulfillment/internal/repository"
	"github.com/ecomflow/fulfillment/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// tapBus records every envelope it delivers so tests can replay them, which
// is exactly what an at-least-once transport does on redelivery.
type tapBus struct {
	*events.MemoryBus
	mu        sync.Mutex
	published []events.Envelope
}

func newTapBus() *tapBus {
	return &tapBus{MemoryBus: events.NewMemoryBus(zap.NewNop())}
}

func (b *tapBus) Publish(ctx context.Context, env events.Envelope) error {
	b.mu.Lock()
	b.published = append(b.published, env)
	b.mu.Unlock()
	return b.MemoryBus.Publish(ctx, env)
}

func (b *tapBus) lastOfKind(t *testing.T, kind events.Kind) events.Envelope {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.published) - 1; i >= 0; i-- {
		if b.published[i].Kind == kind {
			return b.published[i]
		}
	}
	t.Fatalf("no %s envelope published", kind)
	return events.Envelope{}
}

type fixture struct {
	bus       *tapBus
	inventory *service.InventoryService
	orders    *service.OrderService
	coord     *Coordinator
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	bus := newTapBus()
	inventory := service.NewInventoryService(repository.NewMemoryInventoryRepository(), zap.NewNop(), 5)
	orders := service.NewOrderService(repository.NewMemoryOrderRepository(), bus, zap.NewNop(), 5)

	dedup, err := NewDedup(1024)
	require.NoError(t, err)

	coord := NewCoordinator(inventory, orders, dedup, zap.NewNop())
	coord.Register(bus)

	return &fixture{bus: bus, inventory: inventory, orders: orders, coord: coord}
}

func (f *fixture) seedStock(t *testing.T, productID int64, qty int32) {
	t.Helper()
	_, err := f.inventory.CreateInventory(context.Background(), domain.InventoryCreateRequest{
		ProductID: productID,
		Quantity:  qty,
	})
	require.NoError(t, err)
}

func (f *fixture) stock(t *testing.T, productID int64) *domain.InventoryRecord {
	t.Helper()
	rec, err := f.inventory.GetInventory(context.Background(), productID)
	require.NoError(t, err)
	return rec
}

func (f *fixture) placeOrder(t *testing.T, items ...domain.OrderItemRequest) *domain.Order {
	t.Helper()
	order, err := f.orders.CreateOrder(context.Background(), domain.Principal{UserID: 7}, domain.OrderCreateRequest{
		Items:           items,
		ShippingAddress: "12 Nguyen Hue, HCMC",
		Phone:           "0900000000",
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) orderStatus(t *testing.T, orderID int64) domain.OrderStatus {
	t.Helper()
	order, err := f.orders.GetByID(context.Background(), orderID)
	require.NoError(t, err)
	return order.Status
}

func item(productID int64, qty int32) domain.OrderItemRequest {
	return domain.OrderItemRequest{
		ProductID:   productID,
		ProductName: "Widget",
		Price:       decimal.RequireFromString("10.00"),
		Quantity:    qty,
	}
}

func paymentSuccessEnvelope(t *testing.T, orderID int64) events.Envelope {
	t.Helper()
	env, err := events.NewPaymentSuccess(events.PaymentSuccessEvent{
		PaymentID:     1,
		OrderID:       orderID,
		UserID:        7,
		Amount:        decimal.RequireFromString("20.00"),
		PaymentMethod: string(domain.PaymentMethodCod),
	})
	require.NoError(t, err)
	return env
}

func TestCoordinator_OrderCreated_ReservesAndAdvances(t *testing.T) {
	f := setupFixture(t)
	f.seedStock(t, 1, 10)

	order := f.placeOrder(t, item(1, 2))

	assert.Equal(t, domain.OrderStatusAwaitingPayment, f.orderStatus(t, order.OrderID))
	rec := f.stock(t, 1)
	assert.Equal(t, int32(2), rec.ReservedQuantity)
	assert.Equal(t, int32(10), rec.Quantity)
}

func TestCoordinator_OrderCreated_Redelivery(t *testing.T) {
	f := setupFixture(t)
	f.seedStock(t, 1, 10)

	order := f.placeOrder(t, item(1, 2))
	env := f.bus.lastOfKind(t, events.KindOrderCreated)

	// Same envelope again: the dedup cache absorbs it.
	require.NoError(t, f.coord.HandleOrderCreated(context.Background(), env))
	assert.Equal(t, int32(2), f.stock(t, 1).ReservedQuantity)
	assert.Equal(t, domain.OrderStatusAwaitingPayment, f.orderStatus(t, order.OrderID))
}

func TestCoordinator_OrderCreated_ReplayAfterRestart(t *testing.T) {
	f := setupFixture(t)
	f.seedStock(t, 1, 10)

	order := f.placeOrder(t, item(1, 2))
	env := f.bus.lastOfKind(t, events.KindOrderCreated)

	// A restart loses the dedup cache; the order state guard still holds.
	dedup, err := NewDedup(1024)
	require.NoError(t, err)
	fresh := NewCoordinator(f.inventory, f.orders, dedup, zap.NewNop())

	require.NoError(t, fresh.HandleOrderCreated(context.Background(), env))
	assert.Equal(t, int32(2), f.stock(t, 1).ReservedQuantity)
	assert.Equal(t, domain.OrderStatusAwaitingPayment, f.orderStatus(t, order.OrderID))
}

func TestCoordinator_OrderCreated_InsufficientStockCancels(t *testing.T) {
	f := setupFixture(t)
	f.seedStock(t, 1, 1)

	order := f.placeOrder(t, item(1, 5))

	assert.Equal(t, domain.OrderStatusCancelled, f.orderStatus(t, order.OrderID))
	assert.Equal(t, int32(0), f.stock(t, 1).ReservedQuantity)
}

func TestCoordinator_OrderCreated_PartialReservationRollsBack(t *testing.T) {
	f := setupFixture(t)
	f.seedStock(t, 1, 10)
	f.seedStock(t, 2, 1)

	order := f.placeOrder(t, item(1, 2), item(2, 5))

	assert.Equal(t, domain.OrderStatusCancelled, f.orderStatus(t, order.OrderID))
	assert.Equal(t, int32(0), f.stock(t, 1).ReservedQuantity, "first item must be released")
	assert.Equal(t, int32(0), f.stock(t, 2).ReservedQuantity)
}

func TestCoordinator_PaymentSuccess_ConfirmsAndDeducts(t *testing.T) {
	f := setupFixture(t)
	f.seedStock(t, 1, 10)
	order := f.placeOrder(t, item(1, 2))

	env := paymentSuccessEnvelope(t, order.OrderID)
	require.NoError(t, f.coord.HandlePaymentSuccess(context.Background(), env))

	assert.Equal(t, domain.OrderStatusConfirmed, f.orderStatus(t, order.OrderID))
	rec := f.stock(t, 1)
	assert.Equal(t, int32(8), rec.Quantity)
	assert.Equal(t, int32(0), rec.ReservedQuantity)

	// Redelivery deducts nothing further.
	require.NoError(t, f.coord.HandlePaymentSuccess(context.Background(), env))
	assert.Equal(t, int32(8), f.stock(t, 1).Quantity)
}

func TestCoordinator_PaymentFailed_FailsOrderAndReleases(t *testing.T) {
	f := setupFixture(t)
	f.seedStock(t, 1, 10)
	order := f.placeOrder(t, item(1, 2))

	env, err := events.NewPaymentFailed(events.PaymentFailedEvent{
		PaymentID:     1,
		OrderID:       order.OrderID,
		UserID:        7,
		Amount:        decimal.RequireFromString("20.00"),
		PaymentMethod: string(domain.PaymentMethodVnpay),
		FailureReason: "gateway declined with code 24",
	})
	require.NoError(t, err)
	require.NoError(t, f.coord.HandlePaymentFailed(context.Background(), env))

	assert.Equal(t, domain.OrderStatusFailed, f.orderStatus(t, order.OrderID))
	rec := f.stock(t, 1)
	assert.Equal(t, int32(10), rec.Quantity)
	assert.Equal(t, int32(0), rec.ReservedQuantity)
}

func TestCoordinator_CancelReleasesReservation(t *testing.T) {
	f := setupFixture(t)
	f.seedStock(t, 1, 10)
	order := f.placeOrder(t, item(1, 2))

	_, err := f.orders.CancelOrder(context.Background(), domain.Principal{UserID: 7}, order.OrderID)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusCancelled, f.orderStatus(t, order.OrderID))
	assert.Equal(t, int32(0), f.stock(t, 1).ReservedQuantity)
}

func TestCoordinator_CancelReplayAfterRestart_ReleasesOnce(t *testing.T) {
	f := setupFixture(t)
	f.seedStock(t, 1, 10)

	first := f.placeOrder(t, item(1, 2))
	_, err := f.orders.CancelOrder(context.Background(), domain.Principal{UserID: 7}, first.OrderID)
	require.NoError(t, err)
	cancelEnv := f.bus.lastOfKind(t, events.KindOrderStatusChanged)
	require.Equal(t, int32(0), f.stock(t, 1).ReservedQuantity)

	second := f.placeOrder(t, item(1, 3))
	require.Equal(t, domain.OrderStatusAwaitingPayment, f.orderStatus(t, second.OrderID))
	require.Equal(t, int32(3), f.stock(t, 1).ReservedQuantity)

	// A restart loses the dedup cache, so the replayed cancellation reaches
	// the handler again. The release marker on the first order must stop it
	// from eating the second order's reservation.
	dedup, err := NewDedup(1024)
	require.NoError(t, err)
	fresh := NewCoordinator(f.inventory, f.orders, dedup, zap.NewNop())

	require.NoError(t, fresh.HandleOrderStatusChanged(context.Background(), cancelEnv))
	assert.Equal(t, int32(3), f.stock(t, 1).ReservedQuantity)
}

func TestCoordinator_StalePaymentSuccessAfterCancel(t *testing.T) {
	f := setupFixture(t)
	f.seedStock(t, 1, 10)
	order := f.placeOrder(t, item(1, 2))

	_, err := f.orders.CancelOrder(context.Background(), domain.Principal{UserID: 7}, order.OrderID)
	require.NoError(t, err)

	// The payment raced the cancellation and lost; nothing may change.
	env := paymentSuccessEnvelope(t, order.OrderID)
	require.NoError(t, f.coord.HandlePaymentSuccess(context.Background(), env))

	assert.Equal(t, domain.OrderStatusCancelled, f.orderStatus(t, order.OrderID))
	rec := f.stock(t, 1)
	assert.Equal(t, int32(10), rec.Quantity)
	assert.Equal(t, int32(0), rec.ReservedQuantity)
}

func TestCoordinator_CartItemAdded_TouchesNothing(t *testing.T) {
	f := setupFixture(t)
	f.seedStock(t, 1, 2)

	env, err := events.NewCartItemAdded(events.CartItemAddedEvent{
		UserID:       7,
		CartID:       33,
		CartItemID:   1,
		ProductID:    1,
		ProductName:  "Widget",
		ProductPrice: decimal.RequireFromString("10.00"),
		Quantity:     5,
	})
	require.NoError(t, err)
	require.NoError(t, f.coord.HandleCartItemAdded(context.Background(), env))

	rec := f.stock(t, 1)
	assert.Equal(t, int32(2), rec.Quantity)
	assert.Equal(t, int32(0), rec.ReservedQuantity)
}
