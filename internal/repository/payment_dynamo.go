package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ecomflow/fulfillment/internal/domain"
	"github.com/shopspring/decimal"
)

type paymentRecord struct {
	PaymentID     int64     `dynamodbav:"payment_id"`
	OrderID       int64     `dynamodbav:"order_id"`
	UserID        int64     `dynamodbav:"user_id"`
	Amount        string    `dynamodbav:"amount"`
	Method        string    `dynamodbav:"method"`
	Status        string    `dynamodbav:"status"`
	TxnRef        string    `dynamodbav:"txn_ref"`
	TransactionNo string    `dynamodbav:"transaction_no"`
	ResponseCode  string    `dynamodbav:"response_code"`
	FailureReason string    `dynamodbav:"failure_reason"`
	Version       int64     `dynamodbav:"version"`
	CreatedAt     time.Time `dynamodbav:"created_at"`
	UpdatedAt     time.Time `dynamodbav:"updated_at"`
}

func toPaymentRecord(p *domain.Payment) paymentRecord {
	return paymentRecord{
		PaymentID:     p.PaymentID,
		OrderID:       p.OrderID,
		UserID:        p.UserID,
		Amount:        p.Amount.String(),
		Method:        string(p.Method),
		Status:        string(p.Status),
		TxnRef:        p.TxnRef,
		TransactionNo: p.TransactionNo,
		ResponseCode:  p.ResponseCode,
		FailureReason: p.FailureReason,
		Version:       p.Version,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func (rec paymentRecord) toDomain() (*domain.Payment, error) {
	amount, err := decimal.NewFromString(rec.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", rec.Amount, err)
	}
	return &domain.Payment{
		PaymentID:     rec.PaymentID,
		OrderID:       rec.OrderID,
		UserID:        rec.UserID,
		Amount:        amount,
		Method:        domain.PaymentMethod(rec.Method),
		Status:        domain.PaymentStatus(rec.Status),
		TxnRef:        rec.TxnRef,
		TransactionNo: rec.TransactionNo,
		ResponseCode:  rec.ResponseCode,
		FailureReason: rec.FailureReason,
		Version:       rec.Version,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}, nil
}

type DynamoPaymentRepository struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoPaymentRepository(client *dynamodb.Client, tableName string) *DynamoPaymentRepository {
	return &DynamoPaymentRepository{
		client:    client,
		tableName: tableName,
	}
}

func (r *DynamoPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	payment.Version = 1
	payment.CreatedAt = time.Now()
	payment.UpdatedAt = payment.CreatedAt

	av, err := attributevalue.MarshalMap(toPaymentRecord(payment))
	if err != nil {
		return fmt.Errorf("failed to marshal payment: %w", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("payment_id"))).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build condition: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

func (r *DynamoPaymentRepository) Get(ctx context.Context, paymentID int64) (*domain.Payment, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"payment_id": &types.AttributeValueMemberN{Value: strconv.FormatInt(paymentID, 10)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var rec paymentRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
	}
	return rec.toDomain()
}

func (r *DynamoPaymentRepository) GetByTxnRef(ctx context.Context, txnRef string) (*domain.Payment, error) {
	payments, err := r.scan(ctx, expression.Equal(expression.Name("txn_ref"), expression.Value(txnRef)))
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, ErrNotFound
	}
	return &payments[0], nil
}

func (r *DynamoPaymentRepository) Update(ctx context.Context, payment *domain.Payment, expectedVersion int64) error {
	payment.Version = expectedVersion + 1
	payment.UpdatedAt = time.Now()

	av, err := attributevalue.MarshalMap(toPaymentRecord(payment))
	if err != nil {
		return fmt.Errorf("failed to marshal payment: %w", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.Equal(expression.Name("version"), expression.Value(expectedVersion))).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build condition: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.tableName),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

func (r *DynamoPaymentRepository) ListByOrder(ctx context.Context, orderID int64) ([]domain.Payment, error) {
	return r.scan(ctx, expression.Equal(expression.Name("order_id"), expression.Value(orderID)))
}

func (r *DynamoPaymentRepository) scan(ctx context.Context, filter expression.ConditionBuilder) ([]domain.Payment, error) {
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build filter: %w", err)
	}

	var out []domain.Payment
	var startKey map[string]types.AttributeValue
	for {
		result, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(r.tableName),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}

		for _, item := range result.Items {
			var rec paymentRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
			}
			payment, err := rec.toDomain()
			if err != nil {
				return nil, err
			}
			out = append(out, *payment)
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}
	return out, nil
}
