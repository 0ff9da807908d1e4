package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ecomflow/fulfillment/internal/domain"
	"github.com/ecomflow/fulfillment/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type InventoryHandler struct {
	inventoryService *service.InventoryService
	logger           *zap.Logger
}

func NewInventoryHandler(inventoryService *service.InventoryService, logger *zap.Logger) *InventoryHandler {
	return &InventoryHandler{
		inventoryService: inventoryService,
		logger:           logger,
	}
}

func productIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid product id",
		})
		return 0, false
	}
	return id, true
}

func (h *InventoryHandler) CreateInventory(c *gin.Context) {
	var req domain.InventoryCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return
	}

	rec, err := h.inventoryService.CreateInventory(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Inventory record already exists",
			})
			return
		}

		h.logger.Error("Failed to create inventory record",
			zap.Int64("product_id", req.ProductID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create inventory record",
		})
		return
	}

	c.JSON(http.StatusCreated, rec.ToResponse())
}

func (h *InventoryHandler) GetInventory(c *gin.Context) {
	productID, ok := productIDParam(c)
	if !ok {
		return
	}

	rec, err := h.inventoryService.GetInventory(c.Request.Context(), productID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Inventory record not found",
			})
			return
		}

		h.logger.Error("Failed to get inventory record",
			zap.Int64("product_id", productID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get inventory record",
		})
		return
	}

	c.JSON(http.StatusOK, rec.ToResponse())
}

func (h *InventoryHandler) UpdateInventory(c *gin.Context) {
	productID, ok := productIDParam(c)
	if !ok {
		return
	}

	var req domain.InventoryUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return
	}

	rec, err := h.inventoryService.UpdateInventory(c.Request.Context(), productID, req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Inventory record not found",
			})
		case errors.Is(err, domain.ErrResultingNegative):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Quantity cannot drop below outstanding reservations",
			})
		case errors.Is(err, domain.ErrContention):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Too much contention, retry later",
			})
		default:
			h.logger.Error("Failed to update inventory record",
				zap.Int64("product_id", productID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to update inventory record",
			})
		}
		return
	}

	c.JSON(http.StatusOK, rec.ToResponse())
}

func (h *InventoryHandler) AdjustInventory(c *gin.Context) {
	productID, ok := productIDParam(c)
	if !ok {
		return
	}

	var req domain.InventoryAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return
	}

	rec, err := h.inventoryService.Adjust(c.Request.Context(), productID, req.Delta, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Inventory record not found",
			})
		case errors.Is(err, domain.ErrResultingNegative):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Adjustment would drop quantity below reservations",
			})
		case errors.Is(err, domain.ErrContention):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Too much contention, retry later",
			})
		default:
			h.logger.Error("Failed to adjust inventory",
				zap.Int64("product_id", productID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to adjust inventory",
			})
		}
		return
	}

	c.JSON(http.StatusOK, rec.ToResponse())
}

// stockOp runs one of the ledger mutations that take a bare quantity.
func (h *InventoryHandler) stockOp(c *gin.Context, name string, op func(ctx context.Context, productID int64, qty int32) (*domain.InventoryRecord, error)) {
	productID, ok := productIDParam(c)
	if !ok {
		return
	}

	var req domain.StockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return
	}

	rec, err := op(c.Request.Context(), productID, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidQuantity):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Quantity must be positive",
			})
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Inventory record not found",
			})
		case errors.Is(err, domain.ErrInsufficientStock):
			c.JSON(http.StatusConflict, gin.H{
				"error":     "Insufficient stock",
				"requested": req.Quantity,
			})
		case errors.Is(err, domain.ErrInsufficientReservation):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Insufficient reservation",
			})
		case errors.Is(err, domain.ErrInvariantViolation):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Release exceeded outstanding reservation",
			})
		case errors.Is(err, domain.ErrContention):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Too much contention, retry later",
			})
		default:
			h.logger.Error("Stock operation failed",
				zap.String("operation", name),
				zap.Int64("product_id", productID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Stock operation failed",
			})
		}
		return
	}

	c.JSON(http.StatusOK, rec.ToResponse())
}

func (h *InventoryHandler) ReserveStock(c *gin.Context) {
	h.stockOp(c, "reserve", h.inventoryService.Reserve)
}

func (h *InventoryHandler) ReleaseStock(c *gin.Context) {
	h.stockOp(c, "release", h.inventoryService.Release)
}

func (h *InventoryHandler) DeductStock(c *gin.Context) {
	h.stockOp(c, "deduct", h.inventoryService.Deduct)
}

func (h *InventoryHandler) CheckAvailability(c *gin.Context) {
	productID, ok := productIDParam(c)
	if !ok {
		return
	}

	qty, err := strconv.ParseInt(c.DefaultQuery("quantity", "1"), 10, 32)
	if err != nil || qty < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid quantity",
		})
		return
	}

	available, err := h.inventoryService.CheckAvailability(c.Request.Context(), productID, int32(qty))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Inventory record not found",
			})
			return
		}

		h.logger.Error("Failed to check availability",
			zap.Int64("product_id", productID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to check availability",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id": productID,
		"quantity":   qty,
		"available":  available,
	})
}

func (h *InventoryHandler) ListInventory(c *gin.Context) {
	records, err := h.inventoryService.ListActive(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list inventory records", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list inventory records",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": toResponses(records)})
}

func (h *InventoryHandler) ListLowStock(c *gin.Context) {
	records, err := h.inventoryService.ListLowStock(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list low stock records", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list low stock records",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": toResponses(records)})
}

func toResponses(records []domain.InventoryRecord) []domain.InventoryResponse {
	out := make([]domain.InventoryResponse, len(records))
	for i := range records {
		out[i] = records[i].ToResponse()
	}
	return out
}
