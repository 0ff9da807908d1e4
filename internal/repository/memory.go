package repository

import (
	"context"
	"sync"
	"time"

	"github.com/ecomflow/fulfillment/internal/domain"
)

// In-memory bindings used in local mode and tests. Each store guards its map
// with a mutex and hands out copies, so version checks behave exactly like the
// conditional writes of the DynamoDB bindings.

type MemoryInventoryRepository struct {
	mu      sync.RWMutex
	records map[int64]domain.InventoryRecord
}

func NewMemoryInventoryRepository() *MemoryInventoryRepository {
	return &MemoryInventoryRepository{records: make(map[int64]domain.InventoryRecord)}
}

func (r *MemoryInventoryRepository) Create(ctx context.Context, rec *domain.InventoryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ProductID]; exists {
		return ErrAlreadyExists
	}
	rec.Version = 1
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	r.records[rec.ProductID] = *rec
	return nil
}

func (r *MemoryInventoryRepository) Get(ctx context.Context, productID int64) (*domain.InventoryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.records[productID]
	if !exists {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (r *MemoryInventoryRepository) Update(ctx context.Context, rec *domain.InventoryRecord, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.records[rec.ProductID]
	if !exists {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	rec.Version = expectedVersion + 1
	rec.UpdatedAt = time.Now()
	r.records[rec.ProductID] = *rec
	return nil
}

func (r *MemoryInventoryRepository) ListActive(ctx context.Context) ([]domain.InventoryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.InventoryRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.IsActive {
			out = append(out, rec)
		}
	}
	return out, nil
}

type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[int64]domain.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[int64]domain.Order)}
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}

func (r *MemoryOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.OrderID]; exists {
		return ErrAlreadyExists
	}
	order.Version = 1
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	r.orders[order.OrderID] = cloneOrder(*order)
	return nil
}

func (r *MemoryOrderRepository) Get(ctx context.Context, orderID int64) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, exists := r.orders[orderID]
	if !exists {
		return nil, ErrNotFound
	}
	out := cloneOrder(order)
	return &out, nil
}

func (r *MemoryOrderRepository) Update(ctx context.Context, order *domain.Order, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.orders[order.OrderID]
	if !exists {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	order.Version = expectedVersion + 1
	order.UpdatedAt = time.Now()
	r.orders[order.OrderID] = cloneOrder(*order)
	return nil
}

func (r *MemoryOrderRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Order
	for _, order := range r.orders {
		if order.UserID == userID {
			out = append(out, cloneOrder(order))
		}
	}
	return out, nil
}

type MemoryPaymentRepository struct {
	mu       sync.RWMutex
	payments map[int64]domain.Payment
}

func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{payments: make(map[int64]domain.Payment)}
}

func (r *MemoryPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[payment.PaymentID]; exists {
		return ErrAlreadyExists
	}
	payment.Version = 1
	payment.CreatedAt = time.Now()
	payment.UpdatedAt = payment.CreatedAt
	r.payments[payment.PaymentID] = *payment
	return nil
}

func (r *MemoryPaymentRepository) Get(ctx context.Context, paymentID int64) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, exists := r.payments[paymentID]
	if !exists {
		return nil, ErrNotFound
	}
	return &payment, nil
}

func (r *MemoryPaymentRepository) GetByTxnRef(ctx context.Context, txnRef string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, payment := range r.payments {
		if payment.TxnRef == txnRef {
			p := payment
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryPaymentRepository) Update(ctx context.Context, payment *domain.Payment, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.payments[payment.PaymentID]
	if !exists {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	payment.Version = expectedVersion + 1
	payment.UpdatedAt = time.Now()
	r.payments[payment.PaymentID] = *payment
	return nil
}

func (r *MemoryPaymentRepository) ListByOrder(ctx context.Context, orderID int64) ([]domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Payment
	for _, payment := range r.payments {
		if payment.OrderID == orderID {
			out = append(out, payment)
		}
	}
	return out, nil
}
