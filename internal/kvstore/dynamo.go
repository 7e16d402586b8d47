package kvstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/imrishuroy/go-payflow/internal/aws"
)

// Item attributes. expires_at is epoch seconds for the table's native TTL sweeper;
// expires_ms is what reads compare against, since windows can be shorter than a second.
const (
	attrKey       = "key"
	attrValue     = "value"
	attrCounter   = "counter"
	attrExpiresAt = "expires_at"
	attrExpiresMs = "expires_ms"
)

const (
	condAbsentOrExpired = "attribute_not_exists(#k) OR #e <= :now"
	condNotExpired      = "attribute_not_exists(#e) OR #e > :now"
	condLive            = "attribute_exists(#k) AND (attribute_not_exists(#e) OR #e > :now)"

	incrExpression   = "SET #c = if_not_exists(#c, :zero) + :one"
	expireExpression = "SET #e = :ms, #t = :sec"

	maxIncrRetries = 3
)

// DynamoStore implements Store on a single DynamoDB table keyed by "key".
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func (s *DynamoStore) Incr(ctx context.Context, key string) (int64, error) {
	for i := 0; i < maxIncrRetries; i++ {
		now := s.nowFunc()
		out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
			TableName:        &s.tableName,
			Key:              keyOf(key),
			UpdateExpression: awsString(incrExpression),
			ExpressionAttributeNames: map[string]string{
				"#c": attrCounter,
				"#e": attrExpiresMs,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":zero": &types.AttributeValueMemberN{Value: "0"},
				":one":  &types.AttributeValueMemberN{Value: "1"},
				":now":  millis(now),
			},
			ConditionExpression: awsString(condNotExpired),
			ReturnValues:        types.ReturnValueUpdatedNew,
		})
		if err == nil {
			return counterOf(out.Attributes)
		}
		if !isConditionFailed(err) {
			return 0, fmt.Errorf("incr %s: %w", key, err)
		}

		// The previous window's item is still present but expired: start a fresh counter.
		_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
			TableName: &s.tableName,
			Item: map[string]types.AttributeValue{
				attrKey:     &types.AttributeValueMemberS{Value: key},
				attrCounter: &types.AttributeValueMemberN{Value: "1"},
			},
			ConditionExpression: awsString(condAbsentOrExpired),
			ExpressionAttributeNames: map[string]string{
				"#k": attrKey,
				"#e": attrExpiresMs,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now": millis(now),
			},
		})
		if err == nil {
			return 1, nil
		}
		if !isConditionFailed(err) {
			return 0, fmt.Errorf("reset counter %s: %w", key, err)
		}
		// another writer reset it first; retry the increment
	}
	return 0, fmt.Errorf("incr %s: too much contention", key)
}

func (s *DynamoStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	now := s.nowFunc()
	exp := now.Add(ttl)
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              keyOf(key),
		UpdateExpression: awsString(expireExpression),
		ExpressionAttributeNames: map[string]string{
			"#k": attrKey,
			"#e": attrExpiresMs,
			"#t": attrExpiresAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ms":  millis(exp),
			":sec": &types.AttributeValueMemberN{Value: strconv.FormatInt(exp.Unix(), 10)},
			":now": millis(now),
		},
		ConditionExpression: awsString(condLive),
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil
		}
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

func (s *DynamoStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	item, err := s.getLive(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Missing, nil
		}
		return 0, err
	}
	exp, ok := expiryOf(item)
	if !ok {
		return NoExpiry, nil
	}
	return exp.Sub(s.nowFunc()), nil
}

func (s *DynamoStore) Get(ctx context.Context, key string) (string, error) {
	item, err := s.getLive(ctx, key)
	if err != nil {
		return "", err
	}
	if v, ok := item[attrValue].(*types.AttributeValueMemberS); ok {
		return v.Value, nil
	}
	if c, ok := item[attrCounter].(*types.AttributeValueMemberN); ok {
		return c.Value, nil
	}
	return "", nil
}

func (s *DynamoStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      s.valueItem(key, value, ttl),
	})
	if err != nil {
		return fmt.Errorf("put item %s: %w", key, err)
	}
	return nil
}

func (s *DynamoStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	_, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                s.valueItem(key, value, ttl),
		ConditionExpression: awsString(condAbsentOrExpired),
		ExpressionAttributeNames: map[string]string{
			"#k": attrKey,
			"#e": attrExpiresMs,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": millis(s.nowFunc()),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("put item %s: %w", key, err)
	}
	return true, nil
}

func (s *DynamoStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.getLive(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *DynamoStore) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if _, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
			TableName: &s.tableName,
			Key:       keyOf(k),
		}); err != nil {
			return fmt.Errorf("delete item %s: %w", k, err)
		}
	}
	return nil
}

// Keys scans the table. The literal prefix of the pattern is pushed down as a filter.
func (s *DynamoStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	input := &dyn.ScanInput{
		TableName:            &s.tableName,
		ProjectionExpression: awsString("#k, #e"),
		ExpressionAttributeNames: map[string]string{
			"#k": attrKey,
			"#e": attrExpiresMs,
		},
	}
	if prefix := literalPrefix(pattern); prefix != "" {
		input.FilterExpression = awsString("begins_with(#k, :prefix)")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		}
	}

	now := s.nowFunc()
	var out []string
	p := dyn.NewScanPaginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.tableName, err)
		}
		for _, item := range page.Items {
			k, ok := item[attrKey].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			if exp, ok := expiryOf(item); ok && !now.Before(exp) {
				continue
			}
			matched, err := path.Match(pattern, k.Value)
			if err != nil {
				return nil, err
			}
			if matched {
				out = append(out, k.Value)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *DynamoStore) Close() error { return nil }

func (s *DynamoStore) getLive(ctx context.Context, key string) (map[string]types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyOf(key),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", key, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	// the native TTL sweeper runs lazily, so expired items can still be returned
	if exp, ok := expiryOf(out.Item); ok && !s.nowFunc().Before(exp) {
		return nil, ErrNotFound
	}
	return out.Item, nil
}

func (s *DynamoStore) valueItem(key, value string, ttl time.Duration) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrKey:   &types.AttributeValueMemberS{Value: key},
		attrValue: &types.AttributeValueMemberS{Value: value},
	}
	if ttl > 0 {
		exp := s.nowFunc().Add(ttl)
		item[attrExpiresMs] = millis(exp)
		item[attrExpiresAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(exp.Unix(), 10)}
	}
	return item
}

func keyOf(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrKey: &types.AttributeValueMemberS{Value: key},
	}
}

func millis(t time.Time) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)}
}

func expiryOf(item map[string]types.AttributeValue) (time.Time, bool) {
	n, ok := item[attrExpiresMs].(*types.AttributeValueMemberN)
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func counterOf(attrs map[string]types.AttributeValue) (int64, error) {
	n, ok := attrs[attrCounter].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("counter attribute missing from update result")
	}
	return strconv.ParseInt(n.Value, 10, 64)
}

func isConditionFailed(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
