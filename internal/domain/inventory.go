package domain

import (
	"time"
)

// InventoryRecord tracks stock for a single product. Quantity is the total
// owned stock, ReservedQuantity the part held by pending orders. Version is
// bumped on every write; stores reject writes against a stale version.
type InventoryRecord struct {
	ProductID         int64     `dynamodbav:"product_id" json:"product_id"`
	Quantity          int32     `dynamodbav:"quantity" json:"quantity"`
	ReservedQuantity  int32     `dynamodbav:"reserved_quantity" json:"reserved_quantity"`
	LowStockThreshold int32     `dynamodbav:"low_stock_threshold" json:"low_stock_threshold"`
	IsActive          bool      `dynamodbav:"is_active" json:"is_active"`
	Version           int64     `dynamodbav:"version" json:"version"`
	CreatedAt         time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt         time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

func (r *InventoryRecord) AvailableQuantity() int32 {
	return r.Quantity - r.ReservedQuantity
}

func (r *InventoryRecord) IsLowStock() bool {
	return r.AvailableQuantity() <= r.LowStockThreshold
}

// Reserve holds qty against available stock without removing it.
func (r *InventoryRecord) Reserve(qty int32) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if r.AvailableQuantity() < qty {
		return ErrInsufficientStock
	}
	r.ReservedQuantity += qty
	return nil
}

// Release returns a reservation to the available pool. A release larger than
// the outstanding reservation clamps at zero and reports the violation; the
// record is never left inconsistent.
func (r *InventoryRecord) Release(qty int32) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if r.ReservedQuantity < qty {
		r.ReservedQuantity = 0
		return ErrInvariantViolation
	}
	r.ReservedQuantity -= qty
	return nil
}

// Deduct removes stock that was previously reserved: the quantity leaves the
// warehouse and its reservation is cleared in the same step.
func (r *InventoryRecord) Deduct(qty int32) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if r.ReservedQuantity < qty {
		return ErrInsufficientReservation
	}
	if r.Quantity < qty {
		return ErrInvariantViolation
	}
	r.ReservedQuantity -= qty
	r.Quantity -= qty
	return nil
}

// Adjust applies an administrative correction to total quantity only.
// Reservations are untouched, so the result may not drop below them.
func (r *InventoryRecord) Adjust(delta int32) error {
	if r.Quantity+delta < r.ReservedQuantity {
		return ErrResultingNegative
	}
	r.Quantity += delta
	return nil
}

type InventoryCreateRequest struct {
	ProductID         int64 `json:"product_id" binding:"required"`
	Quantity          int32 `json:"quantity" binding:"min=0"`
	LowStockThreshold int32 `json:"low_stock_threshold" binding:"min=0"`
}

type InventoryUpdateRequest struct {
	Quantity          *int32 `json:"quantity"`
	LowStockThreshold *int32 `json:"low_stock_threshold"`
	IsActive          *bool  `json:"is_active"`
}

type InventoryAdjustRequest struct {
	Delta  int32  `json:"delta" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

type StockRequest struct {
	Quantity int32 `json:"quantity" binding:"required,min=1"`
}

type InventoryResponse struct {
	ProductID         int64     `json:"product_id"`
	Quantity          int32     `json:"quantity"`
	ReservedQuantity  int32     `json:"reserved_quantity"`
	AvailableQuantity int32     `json:"available_quantity"`
	LowStockThreshold int32     `json:"low_stock_threshold"`
	IsActive          bool      `json:"is_active"`
	IsLowStock        bool      `json:"is_low_stock"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (r *InventoryRecord) ToResponse() InventoryResponse {
	return InventoryResponse{
		ProductID:         r.ProductID,
		Quantity:          r.Quantity,
		ReservedQuantity:  r.ReservedQuantity,
		AvailableQuantity: r.AvailableQuantity(),
		LowStockThreshold: r.LowStockThreshold,
		IsActive:          r.IsActive,
		IsLowStock:        r.IsLowStock(),
		UpdatedAt:         r.UpdatedAt,
	}
}
