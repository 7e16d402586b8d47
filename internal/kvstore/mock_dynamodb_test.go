package kvstore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory table that understands the condition and
// update expressions DynamoStore issues.
type mockDynamo struct {
	mu          sync.Mutex
	table       map[string]map[string]types.AttributeValue
	putCalls    int
	getCalls    int
	updateCalls int
	scanCalls   int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{table: map[string]map[string]types.AttributeValue{}}
}

func keyFrom(m map[string]types.AttributeValue) (string, error) {
	k, ok := m[attrKey].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing key")
	}
	return k.Value, nil
}

func nowFrom(vals map[string]types.AttributeValue) int64 {
	n, ok := vals[":now"].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, _ := strconv.ParseInt(n.Value, 10, 64)
	return v
}

func expiredItem(item map[string]types.AttributeValue, nowMs int64) bool {
	n, ok := item[attrExpiresMs].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	exp, _ := strconv.ParseInt(n.Value, 10, 64)
	return exp <= nowMs
}

func clone(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	k, err := keyFrom(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil {
		if existing, ok := m.table[k]; ok && !expiredItem(existing, nowFrom(params.ExpressionAttributeValues)) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.table[k] = clone(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	k, err := keyFrom(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(item)}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	k, err := keyFrom(params.Key)
	if err != nil {
		return nil, err
	}
	now := nowFrom(params.ExpressionAttributeValues)
	item, exists := m.table[k]

	switch *params.UpdateExpression {
	case incrExpression:
		if exists && expiredItem(item, now) {
			return nil, &types.ConditionalCheckFailedException{}
		}
		if !exists {
			item = map[string]types.AttributeValue{attrKey: &types.AttributeValueMemberS{Value: k}}
		}
		var n int64
		if c, ok := item[attrCounter].(*types.AttributeValueMemberN); ok {
			n, _ = strconv.ParseInt(c.Value, 10, 64)
		}
		n++
		counter := &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
		item[attrCounter] = counter
		m.table[k] = item
		return &dyn.UpdateItemOutput{Attributes: map[string]types.AttributeValue{attrCounter: counter}}, nil
	case expireExpression:
		if !exists || expiredItem(item, now) {
			return nil, &types.ConditionalCheckFailedException{}
		}
		item[attrExpiresMs] = params.ExpressionAttributeValues[":ms"]
		item[attrExpiresAt] = params.ExpressionAttributeValues[":sec"]
		m.table[k] = item
		return &dyn.UpdateItemOutput{}, nil
	}
	return nil, errors.New("unsupported update expression")
}

func (m *mockDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := keyFrom(params.Key)
	if err != nil {
		return nil, err
	}
	delete(m.table, k)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanCalls++
	prefix := ""
	if p, ok := params.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS); ok {
		prefix = p.Value
	}
	var items []map[string]types.AttributeValue
	for k, item := range m.table {
		if strings.HasPrefix(k, prefix) {
			items = append(items, clone(item))
		}
	}
	return &dyn.ScanOutput{Items: items, Count: int32(len(items))}, nil
}
