package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ecomflow/fulfillment/internal/domain"
	"github.com/ecomflow/fulfillment/internal/events"
	"github.com/ecomflow/fulfillment/internal/repository"
	"github.com/ecomflow/fulfillment/pkg/resilience"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testBreaker(maxFailures uint32) *resilience.Breaker[*domain.Order] {
	return resilience.NewBreaker[*domain.Order](resilience.Settings{
		Name:        "order-lookup",
		MaxFailures: maxFailures,
		Timeout:     time.Second,
		Interval:    time.Minute,
	}, zap.NewNop())
}

func setupPayments(t *testing.T) (*PaymentService, *repository.MemoryOrderRepository, *recordingBus) {
	t.Helper()
	bus := &recordingBus{}
	orders := repository.NewMemoryOrderRepository()
	svc := NewPaymentService(
		repository.NewMemoryPaymentRepository(),
		orders,
		testBreaker(5),
		bus,
		zap.NewNop(),
		5,
	)
	return svc, orders, bus
}

func seedAwaitingOrder(t *testing.T, orders *repository.MemoryOrderRepository, orderID, userID int64, total string) {
	t.Helper()
	err := orders.Create(context.Background(), &domain.Order{
		OrderID:     orderID,
		OrderNumber: "ORD-20260831120000-0001",
		UserID:      userID,
		Status:      domain.OrderStatusAwaitingPayment,
		TotalAmount: decimal.RequireFromString(total),
	})
	require.NoError(t, err)
}

func TestPaymentService_CreatePayment_CODSettlesImmediately(t *testing.T) {
	svc, orders, bus := setupPayments(t)
	seedAwaitingOrder(t, orders, 100, 7, "250.00")

	payment, err := svc.CreatePayment(context.Background(), domain.Principal{UserID: 7}, domain.PaymentCreateRequest{
		OrderID: 100,
		Method:  domain.PaymentMethodCod,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusSuccess, payment.Status)
	assert.True(t, payment.Amount.Equal(decimal.RequireFromString("250.00")))
	assert.Empty(t, payment.TxnRef)

	assert.Len(t, bus.byKind(events.KindPaymentCreated), 1)
	assert.Len(t, bus.byKind(events.KindPaymentSuccess), 1)
}

func TestPaymentService_CreatePayment_VnpayStaysOpen(t *testing.T) {
	svc, orders, bus := setupPayments(t)
	seedAwaitingOrder(t, orders, 100, 7, "250.00")

	payment, err := svc.CreatePayment(context.Background(), domain.Principal{UserID: 7}, domain.PaymentCreateRequest{
		OrderID: 100,
		Method:  domain.PaymentMethodVnpay,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusCreated, payment.Status)
	assert.NotEmpty(t, payment.TxnRef)

	assert.Len(t, bus.byKind(events.KindPaymentCreated), 1)
	assert.Empty(t, bus.byKind(events.KindPaymentSuccess))
}

func TestPaymentService_CreatePayment_OrderNotPayable(t *testing.T) {
	svc, orders, _ := setupPayments(t)
	require.NoError(t, orders.Create(context.Background(), &domain.Order{
		OrderID:     100,
		UserID:      7,
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.RequireFromString("10.00"),
	}))

	_, err := svc.CreatePayment(context.Background(), domain.Principal{UserID: 7}, domain.PaymentCreateRequest{
		OrderID: 100,
		Method:  domain.PaymentMethodCod,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestPaymentService_CreatePayment_EnforcesOwnership(t *testing.T) {
	svc, orders, _ := setupPayments(t)
	seedAwaitingOrder(t, orders, 100, 7, "250.00")

	_, err := svc.CreatePayment(context.Background(), domain.Principal{UserID: 8}, domain.PaymentCreateRequest{
		OrderID: 100,
		Method:  domain.PaymentMethodCod,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPaymentService_CreatePayment_OnePaidPaymentPerOrder(t *testing.T) {
	svc, orders, _ := setupPayments(t)
	seedAwaitingOrder(t, orders, 100, 7, "250.00")
	caller := domain.Principal{UserID: 7}

	_, err := svc.CreatePayment(context.Background(), caller, domain.PaymentCreateRequest{
		OrderID: 100,
		Method:  domain.PaymentMethodCod,
	})
	require.NoError(t, err)

	_, err = svc.CreatePayment(context.Background(), caller, domain.PaymentCreateRequest{
		OrderID: 100,
		Method:  domain.PaymentMethodVnpay,
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestPaymentService_ListByOrder(t *testing.T) {
	svc, orders, _ := setupPayments(t)
	seedAwaitingOrder(t, orders, 100, 7, "250.00")

	created, err := svc.CreatePayment(context.Background(), domain.Principal{UserID: 7}, domain.PaymentCreateRequest{
		OrderID: 100,
		Method:  domain.PaymentMethodVnpay,
	})
	require.NoError(t, err)

	payments, err := svc.ListByOrder(context.Background(), domain.Principal{UserID: 7}, 100)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, created.PaymentID, payments[0].PaymentID)

	// Someone else's order just looks empty.
	payments, err = svc.ListByOrder(context.Background(), domain.Principal{UserID: 8}, 100)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestPaymentService_GatewayCallback_Success(t *testing.T) {
	svc, orders, bus := setupPayments(t)
	seedAwaitingOrder(t, orders, 100, 7, "250.00")

	payment, err := svc.CreatePayment(context.Background(), domain.Principal{UserID: 7}, domain.PaymentCreateRequest{
		OrderID: 100,
		Method:  domain.PaymentMethodVnpay,
	})
	require.NoError(t, err)

	settled, err := svc.HandleGatewayCallback(context.Background(), GatewayCallback{
		TxnRef:        payment.TxnRef,
		ResponseCode:  "00",
		TransactionNo: "VNP123456",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusSuccess, settled.Status)
	assert.Equal(t, "VNP123456", settled.TransactionNo)
	assert.Len(t, bus.byKind(events.KindPaymentSuccess), 1)
}

func TestPaymentService_GatewayCallback_Replay(t *testing.T) {
	svc, orders, bus := setupPayments(t)
	seedAwaitingOrder(t, orders, 100, 7, "250.00")

	payment, err := svc.CreatePayment(context.Background(), domain.Principal{UserID: 7}, domain.PaymentCreateRequest{
		OrderID: 100,
		Method:  domain.PaymentMethodVnpay,
	})
	require.NoError(t, err)

	cb := GatewayCallback{TxnRef: payment.TxnRef, ResponseCode: "00"}

	first, err := svc.HandleGatewayCallback(context.Background(), cb)
	require.NoError(t, err)

	// The gateway retries; the payment must not settle twice.
	second, err := svc.HandleGatewayCallback(context.Background(), cb)
	assert.ErrorIs(t, err, domain.ErrDuplicateEvent)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Version, second.Version)
	assert.Len(t, bus.byKind(events.KindPaymentSuccess), 1)
}

func TestPaymentService_GatewayCallback_Declined(t *testing.T) {
	svc, orders, bus := setupPayments(t)
	seedAwaitingOrder(t, orders, 100, 7, "250.00")

	payment, err := svc.CreatePayment(context.Background(), domain.Principal{UserID: 7}, domain.PaymentCreateRequest{
		OrderID: 100,
		Method:  domain.PaymentMethodVnpay,
	})
	require.NoError(t, err)

	settled, err := svc.HandleGatewayCallback(context.Background(), GatewayCallback{
		TxnRef:       payment.TxnRef,
		ResponseCode: "24",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusFailed, settled.Status)
	assert.Contains(t, settled.FailureReason, "24")
	assert.Len(t, bus.byKind(events.KindPaymentFailed), 1)
}

func TestPaymentService_GatewayCallback_AmountMismatch(t *testing.T) {
	svc, orders, _ := setupPayments(t)
	seedAwaitingOrder(t, orders, 100, 7, "250.00")

	payment, err := svc.CreatePayment(context.Background(), domain.Principal{UserID: 7}, domain.PaymentCreateRequest{
		OrderID: 100,
		Method:  domain.PaymentMethodVnpay,
	})
	require.NoError(t, err)

	settled, err := svc.HandleGatewayCallback(context.Background(), GatewayCallback{
		TxnRef:       payment.TxnRef,
		ResponseCode: "00",
		Amount:       decimal.RequireFromString("1.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusFailed, settled.Status)
	assert.Equal(t, "amount mismatch", settled.FailureReason)
}

func TestPaymentService_GatewayCallback_UnknownTxnRef(t *testing.T) {
	svc, _, _ := setupPayments(t)

	_, err := svc.HandleGatewayCallback(context.Background(), GatewayCallback{
		TxnRef:       "ORDER999-1",
		ResponseCode: "00",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// downOrderRepo simulates an order store outage.
type downOrderRepo struct {
	repository.OrderRepository
}

func (r *downOrderRepo) Get(ctx context.Context, orderID int64) (*domain.Order, error) {
	return nil, errors.New("connection refused")
}

func TestPaymentService_CreatePayment_UpstreamUnavailable(t *testing.T) {
	svc := NewPaymentService(
		repository.NewMemoryPaymentRepository(),
		&downOrderRepo{},
		testBreaker(1),
		&recordingBus{},
		zap.NewNop(),
		5,
	)
	caller := domain.Principal{UserID: 7}
	req := domain.PaymentCreateRequest{OrderID: 100, Method: domain.PaymentMethodCod}

	// First failure trips the breaker, after which calls are rejected fast.
	_, err := svc.CreatePayment(context.Background(), caller, req)
	require.Error(t, err)

	_, err = svc.CreatePayment(context.Background(), caller, req)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}
