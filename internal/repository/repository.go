package repository

import (
	"context"
	"errors"

	"github.com/ecomflow/fulfillment/internal/domain"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyExists   = errors.New("record already exists")
	ErrVersionConflict = errors.New("version conflict")
)

// InventoryRepository stores per-product stock records. Update is a
// compare-and-swap: it writes rec with version expectedVersion+1 only if the
// stored version still equals expectedVersion, else ErrVersionConflict.
type InventoryRepository interface {
	Create(ctx context.Context, rec *domain.InventoryRecord) error
	Get(ctx context.Context, productID int64) (*domain.InventoryRecord, error)
	Update(ctx context.Context, rec *domain.InventoryRecord, expectedVersion int64) error
	ListActive(ctx context.Context) ([]domain.InventoryRecord, error)
}

type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	Get(ctx context.Context, orderID int64) (*domain.Order, error)
	Update(ctx context.Context, order *domain.Order, expectedVersion int64) error
	ListByUser(ctx context.Context, userID int64) ([]domain.Order, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	Get(ctx context.Context, paymentID int64) (*domain.Payment, error)
	GetByTxnRef(ctx context.Context, txnRef string) (*domain.Payment, error)
	Update(ctx context.Context, payment *domain.Payment, expectedVersion int64) error
	ListByOrder(ctx context.Context, orderID int64) ([]domain.Payment, error)
}
