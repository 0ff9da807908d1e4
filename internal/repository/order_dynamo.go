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

// Monetary amounts are stored as strings so the exact decimal representation
// survives the round trip.
type orderItemRecord struct {
	ProductID   int64  `dynamodbav:"product_id"`
	ProductName string `dynamodbav:"product_name"`
	Price       string `dynamodbav:"price"`
	Quantity    int32  `dynamodbav:"quantity"`
}

type orderRecord struct {
	OrderID         int64             `dynamodbav:"order_id"`
	OrderNumber     string            `dynamodbav:"order_number"`
	UserID          int64             `dynamodbav:"user_id"`
	Items           []orderItemRecord `dynamodbav:"items"`
	Status          string            `dynamodbav:"status"`
	TotalAmount     string            `dynamodbav:"total_amount"`
	ShippingAddress string            `dynamodbav:"shipping_address"`
	Phone           string            `dynamodbav:"phone"`
	StockReleased   bool              `dynamodbav:"stock_released"`
	Version         int64             `dynamodbav:"version"`
	CreatedAt       time.Time         `dynamodbav:"created_at"`
	UpdatedAt       time.Time         `dynamodbav:"updated_at"`
}

func toOrderRecord(o *domain.Order) orderRecord {
	items := make([]orderItemRecord, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemRecord{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       item.Price.String(),
			Quantity:    item.Quantity,
		}
	}
	return orderRecord{
		OrderID:         o.OrderID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		Items:           items,
		Status:          string(o.Status),
		TotalAmount:     o.TotalAmount.String(),
		ShippingAddress: o.ShippingAddress,
		Phone:           o.Phone,
		StockReleased:   o.StockReleased,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func (rec orderRecord) toDomain() (*domain.Order, error) {
	total, err := decimal.NewFromString(rec.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid total_amount %q: %w", rec.TotalAmount, err)
	}
	items := make([]domain.OrderItem, len(rec.Items))
	for i, item := range rec.Items {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			return nil, fmt.Errorf("invalid price %q: %w", item.Price, err)
		}
		items[i] = domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       price,
			Quantity:    item.Quantity,
		}
	}
	return &domain.Order{
		OrderID:         rec.OrderID,
		OrderNumber:     rec.OrderNumber,
		UserID:          rec.UserID,
		Items:           items,
		Status:          domain.OrderStatus(rec.Status),
		TotalAmount:     total,
		ShippingAddress: rec.ShippingAddress,
		Phone:           rec.Phone,
		StockReleased:   rec.StockReleased,
		Version:         rec.Version,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}, nil
}

type DynamoOrderRepository struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoOrderRepository(client *dynamodb.Client, tableName string) *DynamoOrderRepository {
	return &DynamoOrderRepository{
		client:    client,
		tableName: tableName,
	}
}

func (r *DynamoOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	order.Version = 1
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt

	av, err := attributevalue.MarshalMap(toOrderRecord(order))
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("order_id"))).
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

func (r *DynamoOrderRepository) Get(ctx context.Context, orderID int64) (*domain.Order, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberN{Value: strconv.FormatInt(orderID, 10)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var rec orderRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	return rec.toDomain()
}

func (r *DynamoOrderRepository) Update(ctx context.Context, order *domain.Order, expectedVersion int64) error {
	order.Version = expectedVersion + 1
	order.UpdatedAt = time.Now()

	av, err := attributevalue.MarshalMap(toOrderRecord(order))
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
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

func (r *DynamoOrderRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	expr, err := expression.NewBuilder().
		WithFilter(expression.Equal(expression.Name("user_id"), expression.Value(userID))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build filter: %w", err)
	}

	var out []domain.Order
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
			var rec orderRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal order: %w", err)
			}
			order, err := rec.toDomain()
			if err != nil {
				return nil, err
			}
			out = append(out, *order)
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}
	return out, nil
}
