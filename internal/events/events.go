package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind names an event type. Each kind maps to its own topic, matching the
// upstream producers' topic-per-event layout.
type Kind string

const (
	KindCartItemAdded      Kind = "cart-item-added"
	KindOrderCreated       Kind = "order-created"
	KindOrderStatusChanged Kind = "order-status-changed"
	KindPaymentCreated     Kind = "payment-created"
	KindPaymentSuccess     Kind = "payment-success"
	KindPaymentFailed      Kind = "payment-failed"
)

func (k Kind) Topic() string { return string(k) }

// Envelope wraps every event on the bus. EventID deduplicates redeliveries;
// CausalKey is the partition key, so events sharing it are delivered in order.
type Envelope struct {
	EventID    string          `json:"event_id"`
	Kind       Kind            `json:"kind"`
	CausalKey  string          `json:"causal_key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func newEnvelope(kind Kind, causalKey string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return Envelope{
		EventID:    uuid.New().String(),
		Kind:       kind,
		CausalKey:  causalKey,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// Publisher is the outbound half of the event bus. The transport must deliver
// at-least-once and preserve order per CausalKey.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Handler consumes a single envelope. Returning an error leaves the message
// uncommitted so the transport redelivers it.
type Handler func(ctx context.Context, env Envelope) error

type CartItemAddedEvent struct {
	UserID       int64           `json:"user_id"`
	CartID       int64           `json:"cart_id"`
	CartItemID   int64           `json:"cart_item_id"`
	ProductID    int64           `json:"product_id"`
	ProductName  string          `json:"product_name"`
	ProductPrice decimal.Decimal `json:"product_price"`
	Quantity     int32           `json:"quantity"`
	Timestamp    time.Time       `json:"timestamp"`
}

type OrderItemEvent struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int32           `json:"quantity"`
}

type OrderCreatedEvent struct {
	OrderID         int64            `json:"order_id"`
	UserID          int64            `json:"user_id"`
	OrderNumber     string           `json:"order_number"`
	TotalAmount     decimal.Decimal  `json:"total_amount"`
	Status          string           `json:"status"`
	ShippingAddress string           `json:"shipping_address"`
	Phone           string           `json:"phone"`
	Items           []OrderItemEvent `json:"items"`
	Timestamp       time.Time        `json:"timestamp"`
}

type OrderStatusChangedEvent struct {
	OrderID     int64            `json:"order_id"`
	UserID      int64            `json:"user_id"`
	OrderNumber string           `json:"order_number"`
	OldStatus   string           `json:"old_status"`
	NewStatus   string           `json:"new_status"`
	Items       []OrderItemEvent `json:"items"`
	Timestamp   time.Time        `json:"timestamp"`
}

type PaymentCreatedEvent struct {
	PaymentID     int64           `json:"payment_id"`
	OrderID       int64           `json:"order_id"`
	UserID        int64           `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	VnpayTxnRef   string          `json:"vnpay_txn_ref,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

type PaymentSuccessEvent struct {
	PaymentID          int64           `json:"payment_id"`
	OrderID            int64           `json:"order_id"`
	UserID             int64           `json:"user_id"`
	Amount             decimal.Decimal `json:"amount"`
	PaymentMethod      string          `json:"payment_method"`
	VnpayTxnRef        string          `json:"vnpay_txn_ref,omitempty"`
	VnpayTransactionNo string          `json:"vnpay_transaction_no,omitempty"`
	VnpayResponseCode  string          `json:"vnpay_response_code,omitempty"`
	Timestamp          time.Time       `json:"timestamp"`
}

type PaymentFailedEvent struct {
	PaymentID         int64           `json:"payment_id"`
	OrderID           int64           `json:"order_id"`
	UserID            int64           `json:"user_id"`
	Amount            decimal.Decimal `json:"amount"`
	PaymentMethod     string          `json:"payment_method"`
	VnpayTxnRef       string          `json:"vnpay_txn_ref,omitempty"`
	VnpayResponseCode string          `json:"vnpay_response_code,omitempty"`
	FailureReason     string          `json:"failure_reason"`
	Timestamp         time.Time       `json:"timestamp"`
}

// Cart events partition by cart; everything else partitions by order so the
// whole lifecycle of one order rides a single partition.

func NewCartItemAdded(payload CartItemAddedEvent) (Envelope, error) {
	return newEnvelope(KindCartItemAdded, strconv.FormatInt(payload.CartID, 10), payload)
}

func NewOrderCreated(payload OrderCreatedEvent) (Envelope, error) {
	return newEnvelope(KindOrderCreated, strconv.FormatInt(payload.OrderID, 10), payload)
}

func NewOrderStatusChanged(payload OrderStatusChangedEvent) (Envelope, error) {
	return newEnvelope(KindOrderStatusChanged, strconv.FormatInt(payload.OrderID, 10), payload)
}

func NewPaymentCreated(payload PaymentCreatedEvent) (Envelope, error) {
	return newEnvelope(KindPaymentCreated, strconv.FormatInt(payload.OrderID, 10), payload)
}

func NewPaymentSuccess(payload PaymentSuccessEvent) (Envelope, error) {
	return newEnvelope(KindPaymentSuccess, strconv.FormatInt(payload.OrderID, 10), payload)
}

func NewPaymentFailed(payload PaymentFailedEvent) (Envelope, error) {
	return newEnvelope(KindPaymentFailed, strconv.FormatInt(payload.OrderID, 10), payload)
}
