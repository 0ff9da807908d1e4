package service

import (
	"context"
	"errors"
	"time"

	"github.com/ecomflow/fulfillment/internal/domain"
	"github.com/ecomflow/fulfillment/internal/repository"
	"go.uber.org/zap"
)

// InventoryService is the stock ledger. Every mutation runs read-modify-write
// against the versioned store; on a version conflict it reloads and retries
// with backoff, up to maxAttempts, then reports contention.
type InventoryService struct {
	repo        repository.InventoryRepository
	logger      *zap.Logger
	maxAttempts int
}

func NewInventoryService(repo repository.InventoryRepository, logger *zap.Logger, maxAttempts int) *InventoryService {
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	return &InventoryService{
		repo:        repo,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

func (s *InventoryService) CreateInventory(ctx context.Context, req domain.InventoryCreateRequest) (*domain.InventoryRecord, error) {
	rec := &domain.InventoryRecord{
		ProductID:         req.ProductID,
		Quantity:          req.Quantity,
		ReservedQuantity:  0,
		LowStockThreshold: req.LowStockThreshold,
		IsActive:          true,
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, domain.ErrAlreadyExists
		}
		s.logger.Error("Failed to create inventory record",
			zap.Int64("product_id", req.ProductID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Inventory record created",
		zap.Int64("product_id", rec.ProductID),
		zap.Int32("initial_quantity", rec.Quantity))

	return rec, nil
}

func (s *InventoryService) GetInventory(ctx context.Context, productID int64) (*domain.InventoryRecord, error) {
	rec, err := s.repo.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// CheckAvailability reports whether qty could be reserved right now. The
// answer can go stale immediately; Reserve is the only authoritative check.
func (s *InventoryService) CheckAvailability(ctx context.Context, productID int64, qty int32) (bool, error) {
	rec, err := s.GetInventory(ctx, productID)
	if err != nil {
		return false, err
	}
	return rec.IsActive && rec.AvailableQuantity() >= qty, nil
}

func (s *InventoryService) Reserve(ctx context.Context, productID int64, qty int32) (*domain.InventoryRecord, error) {
	rec, err := s.mutate(ctx, productID, func(rec *domain.InventoryRecord) error {
		if !rec.IsActive {
			return domain.ErrNotFound
		}
		return rec.Reserve(qty)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Stock reserved",
		zap.Int64("product_id", productID),
		zap.Int32("quantity", qty),
		zap.Int32("available", rec.AvailableQuantity()))

	if rec.IsLowStock() {
		s.logger.Warn("Stock below threshold",
			zap.Int64("product_id", productID),
			zap.Int32("available", rec.AvailableQuantity()),
			zap.Int32("threshold", rec.LowStockThreshold))
	}
	return rec, nil
}

func (s *InventoryService) Release(ctx context.Context, productID int64, qty int32) (*domain.InventoryRecord, error) {
	var clamped bool
	rec, err := s.mutate(ctx, productID, func(rec *domain.InventoryRecord) error {
		clamped = false
		if err := rec.Release(qty); err != nil {
			if errors.Is(err, domain.ErrInvariantViolation) {
				// Over-release clamps at zero; persist the clamp rather than
				// leaving a negative reservation.
				clamped = true
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if clamped {
		s.logger.Error("Release exceeded outstanding reservation, clamped to zero",
			zap.Int64("product_id", productID),
			zap.Int32("quantity", qty))
		return rec, domain.ErrInvariantViolation
	}

	s.logger.Info("Reservation released",
		zap.Int64("product_id", productID),
		zap.Int32("quantity", qty))
	return rec, nil
}

func (s *InventoryService) Deduct(ctx context.Context, productID int64, qty int32) (*domain.InventoryRecord, error) {
	rec, err := s.mutate(ctx, productID, func(rec *domain.InventoryRecord) error {
		return rec.Deduct(qty)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Reserved stock deducted",
		zap.Int64("product_id", productID),
		zap.Int32("quantity", qty),
		zap.Int32("remaining", rec.Quantity))
	return rec, nil
}

func (s *InventoryService) Adjust(ctx context.Context, productID int64, delta int32, reason string) (*domain.InventoryRecord, error) {
	rec, err := s.mutate(ctx, productID, func(rec *domain.InventoryRecord) error {
		return rec.Adjust(delta)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Inventory adjusted",
		zap.Int64("product_id", productID),
		zap.Int32("delta", delta),
		zap.String("reason", reason),
		zap.Int32("quantity", rec.Quantity))
	return rec, nil
}

// UpdateInventory applies partial updates. Setting IsActive to false is a soft
// deactivate: the record stays readable but rejects new reservations.
func (s *InventoryService) UpdateInventory(ctx context.Context, productID int64, req domain.InventoryUpdateRequest) (*domain.InventoryRecord, error) {
	rec, err := s.mutate(ctx, productID, func(rec *domain.InventoryRecord) error {
		if req.Quantity != nil {
			if *req.Quantity < rec.ReservedQuantity {
				return domain.ErrResultingNegative
			}
			rec.Quantity = *req.Quantity
		}
		if req.LowStockThreshold != nil {
			rec.LowStockThreshold = *req.LowStockThreshold
		}
		if req.IsActive != nil {
			rec.IsActive = *req.IsActive
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Inventory record updated",
		zap.Int64("product_id", productID),
		zap.Bool("is_active", rec.IsActive))
	return rec, nil
}

func (s *InventoryService) ListActive(ctx context.Context) ([]domain.InventoryRecord, error) {
	return s.repo.ListActive(ctx)
}

func (s *InventoryService) ListLowStock(ctx context.Context) ([]domain.InventoryRecord, error) {
	records, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var out []domain.InventoryRecord
	for _, rec := range records {
		if rec.IsLowStock() {
			out = append(out, rec)
		}
	}
	return out, nil
}

// mutate runs the optimistic write loop: load, apply fn, write conditioned on
// the loaded version. Business failures from fn abort immediately; only
// version conflicts are retried.
func (s *InventoryService) mutate(ctx context.Context, productID int64, fn func(*domain.InventoryRecord) error) (*domain.InventoryRecord, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		rec, err := s.repo.Get(ctx, productID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, domain.ErrNotFound
			}
			return nil, err
		}

		if err := fn(rec); err != nil {
			return nil, err
		}

		err = s.repo.Update(ctx, rec, rec.Version)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}

		s.logger.Debug("Version conflict, retrying",
			zap.Int64("product_id", productID),
			zap.Int("attempt", attempt))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}

	s.logger.Warn("Optimistic write exhausted retries",
		zap.Int64("product_id", productID),
		zap.Int("attempts", s.maxAttempts))
	return nil, domain.ErrContention
}
