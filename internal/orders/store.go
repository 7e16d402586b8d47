package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/imrishuroy/go-payflow/internal/aws"
)

const (
	condOrderAbsent = "attribute_not_exists(order_id)"
	condPending     = "payment_status = :pending"
	paymentUpdate   = "SET payment_status = :status, payment_id = :pid, gateway_id = :gid, updated_at = :ua"
)

// DynamoStore encapsulates operations on the orders table.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore creates a new orders store over DynamoDB.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create writes a PENDING order. Returns ErrConflict if the id is taken.
func (s *DynamoStore) Create(ctx context.Context, in NewOrder) (*Order, error) {
	now := s.nowFunc().UTC()
	o := Order{
		OrderID:       in.ID,
		ProductID:     in.ProductID,
		Price:         in.Price,
		CustomerName:  in.CustomerName,
		CustomerEmail: in.CustomerEmail,
		PaymentStatus: StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if o.OrderID == "" {
		o.OrderID = uuid.NewString()
	}

	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return nil, fmt.Errorf("marshal order item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString(condOrderAbsent),
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("put item: %w", err)
	}
	return &o, nil
}

// FindByID fetches an order by order_id. Returns (nil, nil) if not found.
func (s *DynamoStore) FindByID(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// Update conditionally applies the payment result while the order is still PENDING.
// Returns ErrNotFound or ErrInvalidTransition when the condition fails.
func (s *DynamoStore) Update(ctx context.Context, orderID string, upd PaymentUpdate) (*Order, error) {
	if !IsTerminal(upd.Status) {
		return nil, fmt.Errorf("%w: to %s", ErrInvalidTransition, upd.Status)
	}
	now := s.nowFunc().UTC()
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              orderKey(orderID),
		UpdateExpression: awsString(paymentUpdate),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: upd.Status},
			":pid":     &types.AttributeValueMemberS{Value: upd.PaymentID},
			":gid":     &types.AttributeValueMemberS{Value: upd.GatewayID},
			":ua":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":pending": &types.AttributeValueMemberS{Value: StatusPending},
		},
		ConditionExpression: awsString(condPending),
		ReturnValues:        types.ReturnValueAllNew,
	})
	if err != nil {
		if !isConditionFailed(err) {
			return nil, fmt.Errorf("update item: %w", err)
		}
		current, gerr := s.FindByID(ctx, orderID)
		if gerr != nil {
			return nil, gerr
		}
		if current == nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.PaymentStatus, upd.Status)
	}

	var o Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

func orderKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: id},
	}
}

func isConditionFailed(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

// Helper
func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
