package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ecomflow/fulfillment/internal/domain"
	"github.com/ecomflow/fulfillment/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	paymentService *service.PaymentService
	logger         *zap.Logger
}

func NewPaymentHandler(paymentService *service.PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		logger:         logger,
	}
}

func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req domain.PaymentCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return
	}
	if req.Method != "" && !req.Method.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unsupported payment method",
		})
		return
	}

	payment, err := h.paymentService.CreatePayment(c.Request.Context(), p, req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Order not found",
			})
		case errors.Is(err, domain.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Order is not awaiting payment",
			})
		case errors.Is(err, domain.ErrAlreadyExists):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Order already has a successful payment",
			})
		case errors.Is(err, domain.ErrUpstreamUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Order lookup unavailable, retry later",
			})
		default:
			h.logger.Error("Failed to create payment",
				zap.Int64("order_id", req.OrderID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create payment",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, domain.PaymentCreateResponse{
		PaymentID: payment.PaymentID,
		Status:    payment.Status,
		Method:    payment.Method,
		TxnRef:    payment.TxnRef,
	})
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	paymentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid payment id",
		})
		return
	}

	payment, err := h.paymentService.GetPayment(c.Request.Context(), p, paymentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Payment not found",
			})
			return
		}

		h.logger.Error("Failed to get payment",
			zap.Int64("payment_id", paymentID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get payment",
		})
		return
	}

	c.JSON(http.StatusOK, payment)
}

// ListByOrder returns the caller's payments for one order, newest attempts
// included; an order owned by someone else just looks empty.
func (h *PaymentHandler) ListByOrder(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid order id",
		})
		return
	}

	payments, err := h.paymentService.ListByOrder(c.Request.Context(), p, orderID)
	if err != nil {
		h.logger.Error("Failed to list payments",
			zap.Int64("order_id", orderID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list payments",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": payments,
		"count": len(payments),
	})
}

// GatewayCallback terminates the VNPay return flow. The gateway retries until
// it gets a 200, so every outcome the service settles is acknowledged.
func (h *PaymentHandler) GatewayCallback(c *gin.Context) {
	txnRef := c.Query("vnp_TxnRef")
	responseCode := c.Query("vnp_ResponseCode")
	if txnRef == "" || responseCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing vnp_TxnRef or vnp_ResponseCode",
		})
		return
	}

	cb := service.GatewayCallback{
		TxnRef:        txnRef,
		ResponseCode:  responseCode,
		TransactionNo: c.Query("vnp_TransactionNo"),
	}
	if raw := c.Query("vnp_Amount"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid vnp_Amount",
			})
			return
		}
		// VNPay reports amounts multiplied by 100.
		cb.Amount = amount.Div(decimal.NewFromInt(100))
	}

	payment, err := h.paymentService.HandleGatewayCallback(c.Request.Context(), cb)
	if err != nil && !errors.Is(err, domain.ErrDuplicateEvent) {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Unknown transaction reference",
			})
			return
		}

		h.logger.Error("Failed to process gateway callback",
			zap.String("txn_ref", txnRef),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to process gateway callback",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_id": payment.PaymentID,
		"status":     payment.Status,
	})
}
