package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ecomflow/fulfillment/internal/domain"
	"github.com/ecomflow/fulfillment/internal/events"
	"github.com/ecomflow/fulfillment/internal/repository"
	"github.com/ecomflow/fulfillment/pkg/resilience"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Gateway response code reported by VNPay for an approved transaction.
const vnpayResponseSuccess = "00"

type GatewayCallback struct {
	TxnRef        string
	ResponseCode  string
	TransactionNo string
	Amount        decimal.Decimal
}

// PaymentService owns the payment lifecycle. It never mutates orders or
// stock directly; outcomes are announced on the bus and the coordinator
// applies them.
type PaymentService struct {
	repo         repository.PaymentRepository
	orders       repository.OrderRepository
	orderBreaker *resilience.Breaker[*domain.Order]
	publisher    events.Publisher
	logger       *zap.Logger
	maxAttempts  int
}

func NewPaymentService(
	repo repository.PaymentRepository,
	orders repository.OrderRepository,
	orderBreaker *resilience.Breaker[*domain.Order],
	publisher events.Publisher,
	logger *zap.Logger,
	maxAttempts int,
) *PaymentService {
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	return &PaymentService{
		repo:         repo,
		orders:       orders,
		orderBreaker: orderBreaker,
		publisher:    publisher,
		logger:       logger,
		maxAttempts:  maxAttempts,
	}
}

// CreatePayment opens a payment for an order awaiting payment. COD settles
// immediately; VNPAY stays CREATED until the gateway calls back with the
// transaction reference issued here.
func (s *PaymentService) CreatePayment(ctx context.Context, principal domain.Principal, req domain.PaymentCreateRequest) (*domain.Payment, error) {
	method := req.Method
	if method == "" {
		method = domain.PaymentMethodCod
	}
	if !method.IsValid() {
		return nil, fmt.Errorf("unsupported payment method %q", req.Method)
	}

	order, err := s.lookupOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != principal.UserID {
		return nil, domain.ErrNotFound
	}
	if order.Status != domain.OrderStatusAwaitingPayment {
		return nil, domain.ErrInvalidTransition
	}

	existing, err := s.repo.ListByOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	for _, p := range existing {
		if p.Status == domain.PaymentStatusSuccess {
			return nil, domain.ErrAlreadyExists
		}
	}

	now := time.Now()
	payment := &domain.Payment{
		PaymentID: now.UnixNano(),
		OrderID:   order.OrderID,
		UserID:    order.UserID,
		Amount:    order.TotalAmount,
		Method:    method,
		Status:    domain.PaymentStatusCreated,
	}
	if method == domain.PaymentMethodVnpay {
		payment.TxnRef = fmt.Sprintf("ORDER%d-%d", order.OrderID, now.UnixNano())
	}
	if method == domain.PaymentMethodCod {
		// Cash on delivery needs no gateway round trip.
		payment.Status = domain.PaymentStatusSuccess
	}

	if err := s.repo.Create(ctx, payment); err != nil {
		s.logger.Error("Failed to create payment",
			zap.Int64("order_id", order.OrderID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Payment created",
		zap.Int64("payment_id", payment.PaymentID),
		zap.Int64("order_id", payment.OrderID),
		zap.String("method", string(payment.Method)),
		zap.String("status", string(payment.Status)))

	s.publishCreated(ctx, payment)
	if payment.Status == domain.PaymentStatusSuccess {
		s.publishSuccess(ctx, payment)
	}

	return payment, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, principal domain.Principal, paymentID int64) (*domain.Payment, error) {
	payment, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if payment.UserID != principal.UserID {
		return nil, domain.ErrNotFound
	}
	return payment, nil
}

func (s *PaymentService) ListByOrder(ctx context.Context, principal domain.Principal, orderID int64) ([]domain.Payment, error) {
	payments, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var out []domain.Payment
	for _, p := range payments {
		if p.UserID == principal.UserID {
			out = append(out, p)
		}
	}
	return out, nil
}

// HandleGatewayCallback settles a VNPAY payment from the gateway's return
// call. The transaction reference is the idempotency key: a payment already
// settled is returned unchanged with ErrDuplicateEvent, which callers treat
// as success no matter how often the gateway retries.
func (s *PaymentService) HandleGatewayCallback(ctx context.Context, cb GatewayCallback) (*domain.Payment, error) {
	if cb.TxnRef == "" {
		// COD payments carry no reference; only gateway payments settle here.
		return nil, domain.ErrNotFound
	}

	payment, err := s.repo.GetByTxnRef(ctx, cb.TxnRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	if payment.Status.IsTerminal() {
		s.logger.Info("Gateway callback replayed, payment already settled",
			zap.Int64("payment_id", payment.PaymentID),
			zap.String("txn_ref", cb.TxnRef),
			zap.String("status", string(payment.Status)))
		return payment, domain.ErrDuplicateEvent
	}

	payment.ResponseCode = cb.ResponseCode
	payment.TransactionNo = cb.TransactionNo

	switch {
	case !cb.Amount.IsZero() && !cb.Amount.Equal(payment.Amount):
		payment.Status = domain.PaymentStatusFailed
		payment.FailureReason = "amount mismatch"
	case cb.ResponseCode == vnpayResponseSuccess:
		payment.Status = domain.PaymentStatusSuccess
	default:
		payment.Status = domain.PaymentStatusFailed
		payment.FailureReason = fmt.Sprintf("gateway declined with code %s", cb.ResponseCode)
	}

	if err := s.repo.Update(ctx, payment, payment.Version); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			// A concurrent callback won the race; report its settled result.
			return s.HandleGatewayCallback(ctx, cb)
		}
		return nil, err
	}

	s.logger.Info("Payment settled from gateway callback",
		zap.Int64("payment_id", payment.PaymentID),
		zap.String("txn_ref", cb.TxnRef),
		zap.String("response_code", cb.ResponseCode),
		zap.String("status", string(payment.Status)))

	if payment.Status == domain.PaymentStatusSuccess {
		s.publishSuccess(ctx, payment)
	} else {
		s.publishFailed(ctx, payment)
	}
	return payment, nil
}

func (s *PaymentService) lookupOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := s.orderBreaker.Execute(ctx, func(ctx context.Context) (*domain.Order, error) {
		o, err := s.orders.Get(ctx, orderID)
		if errors.Is(err, repository.ErrNotFound) {
			// Absence is an answer, not an outage; it must not trip the breaker.
			return nil, nil
		}
		return o, err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrUnavailable) {
			return nil, domain.ErrUpstreamUnavailable
		}
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *PaymentService) publishCreated(ctx context.Context, payment *domain.Payment) {
	env, err := events.NewPaymentCreated(events.PaymentCreatedEvent{
		PaymentID:     payment.PaymentID,
		OrderID:       payment.OrderID,
		UserID:        payment.UserID,
		Amount:        payment.Amount,
		PaymentMethod: string(payment.Method),
		VnpayTxnRef:   payment.TxnRef,
		Timestamp:     time.Now(),
	})
	if err == nil {
		err = s.publisher.Publish(ctx, env)
	}
	if err != nil {
		s.logger.Error("Failed to publish payment created event",
			zap.Int64("payment_id", payment.PaymentID),
			zap.Error(err))
	}
}

func (s *PaymentService) publishSuccess(ctx context.Context, payment *domain.Payment) {
	env, err := events.NewPaymentSuccess(events.PaymentSuccessEvent{
		PaymentID:          payment.PaymentID,
		OrderID:            payment.OrderID,
		UserID:             payment.UserID,
		Amount:             payment.Amount,
		PaymentMethod:      string(payment.Method),
		VnpayTxnRef:        payment.TxnRef,
		VnpayTransactionNo: payment.TransactionNo,
		VnpayResponseCode:  payment.ResponseCode,
		Timestamp:          time.Now(),
	})
	if err == nil {
		err = s.publisher.Publish(ctx, env)
	}
	if err != nil {
		s.logger.Error("Failed to publish payment success event",
			zap.Int64("payment_id", payment.PaymentID),
			zap.Error(err))
	}
}

func (s *PaymentService) publishFailed(ctx context.Context, payment *domain.Payment) {
	env, err := events.NewPaymentFailed(events.PaymentFailedEvent{
		PaymentID:         payment.PaymentID,
		OrderID:           payment.OrderID,
		UserID:            payment.UserID,
		Amount:            payment.Amount,
		PaymentMethod:     string(payment.Method),
		VnpayTxnRef:       payment.TxnRef,
		VnpayResponseCode: payment.ResponseCode,
		FailureReason:     payment.FailureReason,
		Timestamp:         time.Now(),
	})
	if err == nil {
		err = s.publisher.Publish(ctx, env)
	}
	if err != nil {
		s.logger.Error("Failed to publish payment failed event",
			zap.Int64("payment_id", payment.PaymentID),
			zap.Error(err))
	}
}
