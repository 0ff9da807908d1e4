package repository

import (
	"context"
	"testing"

	"github.com/ecomflow/fulfillment/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryInventoryRepository_VersionedUpdate(t *testing.T) {
	repo := NewMemoryInventoryRepository()
	ctx := context.Background()

	rec := &domain.InventoryRecord{ProductID: 1, Quantity: 10, IsActive: true}
	require.NoError(t, repo.Create(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)

	// Writer A and writer B load the same version.
	a, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	b, err := repo.Get(ctx, 1)
	require.NoError(t, err)

	a.ReservedQuantity = 3
	require.NoError(t, repo.Update(ctx, a, a.Version))
	assert.Equal(t, int64(2), a.Version)

	// B's write is against a stale version and must lose.
	b.ReservedQuantity = 5
	err = repo.Update(ctx, b, b.Version)
	assert.ErrorIs(t, err, ErrVersionConflict)

	stored, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(3), stored.ReservedQuantity)
}

func TestMemoryInventoryRepository_CreateDuplicate(t *testing.T) {
	repo := NewMemoryInventoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &domain.InventoryRecord{ProductID: 1}))
	err := repo.Create(ctx, &domain.InventoryRecord{ProductID: 1})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMemoryInventoryRepository_GetReturnsCopy(t *testing.T) {
	repo := NewMemoryInventoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &domain.InventoryRecord{ProductID: 1, Quantity: 10}))

	rec, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	rec.Quantity = 999

	stored, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(10), stored.Quantity)
}

func TestMemoryOrderRepository_VersionedUpdate(t *testing.T) {
	repo := NewMemoryOrderRepository()
	ctx := context.Background()

	order := &domain.Order{
		OrderID:     100,
		UserID:      7,
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.RequireFromString("10.00"),
		Items: []domain.OrderItem{
			{ProductID: 1, Price: decimal.RequireFromString("10.00"), Quantity: 1},
		},
	}
	require.NoError(t, repo.Create(ctx, order))

	stale, err := repo.Get(ctx, 100)
	require.NoError(t, err)

	fresh, err := repo.Get(ctx, 100)
	require.NoError(t, err)
	fresh.Status = domain.OrderStatusAwaitingPayment
	require.NoError(t, repo.Update(ctx, fresh, fresh.Version))

	stale.Status = domain.OrderStatusCancelled
	err = repo.Update(ctx, stale, stale.Version)
	assert.ErrorIs(t, err, ErrVersionConflict)

	stored, err := repo.Get(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAwaitingPayment, stored.Status)
}

func TestMemoryPaymentRepository_GetByTxnRef(t *testing.T) {
	repo := NewMemoryPaymentRepository()
	ctx := context.Background()

	payment := &domain.Payment{
		PaymentID: 1,
		OrderID:   100,
		UserID:    7,
		Amount:    decimal.RequireFromString("10.00"),
		Method:    domain.PaymentMethodVnpay,
		Status:    domain.PaymentStatusCreated,
		TxnRef:    "ORDER100-1",
	}
	require.NoError(t, repo.Create(ctx, payment))

	found, err := repo.GetByTxnRef(ctx, "ORDER100-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.PaymentID)

	_, err = repo.GetByTxnRef(ctx, "ORDER100-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryOrderRepository_ListByUser(t *testing.T) {
	repo := NewMemoryOrderRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &domain.Order{OrderID: 1, UserID: 7}))
	require.NoError(t, repo.Create(ctx, &domain.Order{OrderID: 2, UserID: 7}))
	require.NoError(t, repo.Create(ctx, &domain.Order{OrderID: 3, UserID: 8}))

	orders, err := repo.ListByUser(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}
