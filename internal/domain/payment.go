package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusCreated PaymentStatus = "CREATED"
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusFailed
}

type PaymentMethod string

const (
	PaymentMethodVnpay PaymentMethod = "VNPAY"
	PaymentMethodCod   PaymentMethod = "COD"
)

func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodVnpay || m == PaymentMethodCod
}

// Payment references its order but does not own it. TxnRef is assigned at
// creation for gateway payments and doubles as the callback idempotency key.
type Payment struct {
	PaymentID     int64           `json:"payment_id"`
	OrderID       int64           `json:"order_id"`
	UserID        int64           `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        PaymentMethod   `json:"method"`
	Status        PaymentStatus   `json:"status"`
	TxnRef        string          `json:"txn_ref,omitempty"`
	TransactionNo string          `json:"transaction_no,omitempty"`
	ResponseCode  string          `json:"response_code,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type PaymentCreateRequest struct {
	OrderID int64         `json:"order_id" binding:"required"`
	Method  PaymentMethod `json:"method"`
}

type PaymentCreateResponse struct {
	PaymentID int64         `json:"payment_id"`
	Status    PaymentStatus `json:"status"`
	Method    PaymentMethod `json:"method"`
	TxnRef    string        `json:"txn_ref,omitempty"`
	Message   string        `json:"message,omitempty"`
}
