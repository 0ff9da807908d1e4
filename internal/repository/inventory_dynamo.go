package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ecomflow/fulfillment/internal/domain"
)

// DynamoInventoryRepository keys records by product_id and enforces optimistic
// concurrency with conditional writes: Create requires the key to be absent,
// Update requires the stored version to match.
type DynamoInventoryRepository struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoInventoryRepository(client *dynamodb.Client, tableName string) *DynamoInventoryRepository {
	return &DynamoInventoryRepository{
		client:    client,
		tableName: tableName,
	}
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (r *DynamoInventoryRepository) Create(ctx context.Context, rec *domain.InventoryRecord) error {
	rec.Version = 1
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt

	av, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal inventory record: %w", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("product_id"))).
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

func (r *DynamoInventoryRepository) Get(ctx context.Context, productID int64) (*domain.InventoryRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberN{Value: strconv.FormatInt(productID, 10)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var rec domain.InventoryRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal inventory record: %w", err)
	}
	return &rec, nil
}

func (r *DynamoInventoryRepository) Update(ctx context.Context, rec *domain.InventoryRecord, expectedVersion int64) error {
	rec.Version = expectedVersion + 1
	rec.UpdatedAt = time.Now()

	av, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal inventory record: %w", err)
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

func (r *DynamoInventoryRepository) ListActive(ctx context.Context) ([]domain.InventoryRecord, error) {
	expr, err := expression.NewBuilder().
		WithFilter(expression.Equal(expression.Name("is_active"), expression.Value(true))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build filter: %w", err)
	}

	var out []domain.InventoryRecord
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

		var page []domain.InventoryRecord
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal inventory records: %w", err)
		}
		out = append(out, page...)

		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}
	return out, nil
}
