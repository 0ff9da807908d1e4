package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventoryRecord_Reserve(t *testing.T) {
	rec := &InventoryRecord{ProductID: 1, Quantity: 10}

	require.NoError(t, rec.Reserve(4))
	assert.Equal(t, int32(4), rec.ReservedQuantity)
	assert.Equal(t, int32(6), rec.AvailableQuantity())

	// Only the unreserved remainder is available.
	err := rec.Reserve(7)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, int32(4), rec.ReservedQuantity)

	require.NoError(t, rec.Reserve(6))
	assert.Equal(t, int32(0), rec.AvailableQuantity())
}

func TestInventoryRecord_RejectsNonPositiveQuantity(t *testing.T) {
	rec := &InventoryRecord{ProductID: 1, Quantity: 10, ReservedQuantity: 2}

	assert.ErrorIs(t, rec.Reserve(0), ErrInvalidQuantity)
	assert.ErrorIs(t, rec.Reserve(-5), ErrInvalidQuantity)
	assert.ErrorIs(t, rec.Release(0), ErrInvalidQuantity)
	assert.ErrorIs(t, rec.Release(-5), ErrInvalidQuantity)
	assert.ErrorIs(t, rec.Deduct(0), ErrInvalidQuantity)
	assert.ErrorIs(t, rec.Deduct(-5), ErrInvalidQuantity)

	// A rejected call leaves the record untouched.
	assert.Equal(t, int32(10), rec.Quantity)
	assert.Equal(t, int32(2), rec.ReservedQuantity)
}

func TestInventoryRecord_Release(t *testing.T) {
	rec := &InventoryRecord{ProductID: 1, Quantity: 10, ReservedQuantity: 5}

	require.NoError(t, rec.Release(3))
	assert.Equal(t, int32(2), rec.ReservedQuantity)
	assert.Equal(t, int32(8), rec.AvailableQuantity())
}

func TestInventoryRecord_Release_ClampsAtZero(t *testing.T) {
	rec := &InventoryRecord{ProductID: 1, Quantity: 10, ReservedQuantity: 2}

	err := rec.Release(5)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Equal(t, int32(0), rec.ReservedQuantity)
	assert.Equal(t, int32(10), rec.AvailableQuantity())
}

func TestInventoryRecord_Deduct(t *testing.T) {
	rec := &InventoryRecord{ProductID: 1, Quantity: 10, ReservedQuantity: 4}

	require.NoError(t, rec.Deduct(4))
	assert.Equal(t, int32(6), rec.Quantity)
	assert.Equal(t, int32(0), rec.ReservedQuantity)
	assert.Equal(t, int32(6), rec.AvailableQuantity())
}

func TestInventoryRecord_Deduct_RequiresReservation(t *testing.T) {
	rec := &InventoryRecord{ProductID: 1, Quantity: 10, ReservedQuantity: 2}

	err := rec.Deduct(3)
	assert.ErrorIs(t, err, ErrInsufficientReservation)
	assert.Equal(t, int32(10), rec.Quantity)
	assert.Equal(t, int32(2), rec.ReservedQuantity)
}

func TestInventoryRecord_Adjust(t *testing.T) {
	rec := &InventoryRecord{ProductID: 1, Quantity: 10, ReservedQuantity: 4}

	require.NoError(t, rec.Adjust(-6))
	assert.Equal(t, int32(4), rec.Quantity)

	// Cannot adjust below what is already promised to orders.
	err := rec.Adjust(-1)
	assert.ErrorIs(t, err, ErrResultingNegative)
	assert.Equal(t, int32(4), rec.Quantity)

	require.NoError(t, rec.Adjust(100))
	assert.Equal(t, int32(104), rec.Quantity)
}

func TestInventoryRecord_IsLowStock(t *testing.T) {
	rec := &InventoryRecord{Quantity: 10, ReservedQuantity: 5, LowStockThreshold: 5}
	assert.True(t, rec.IsLowStock())

	rec.ReservedQuantity = 4
	assert.False(t, rec.IsLowStock())
}
