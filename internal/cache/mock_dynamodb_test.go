package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamoMock is a small in-memory double for PutItem/GetItem/DeleteItem. It
// understands only the single condition expression DynamoStore issues.
type dynamoMock struct {
	mu    sync.Mutex
	table map[string]map[string]types.AttributeValue
}

func newDynamoMock() *dynamoMock {
	return &dynamoMock{table: map[string]map[string]types.AttributeValue{}}
}

func itemKey(item map[string]types.AttributeValue) (string, error) {
	attr, ok := item["cache_key"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing cache_key")
	}
	return attr.Value, nil
}

func (m *dynamoMock) PutItem(_ context.Context, params *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, err := itemKey(params.Item)
	if err != nil {
		return nil, err
	}

	if params.ConditionExpression != nil {
		if *params.ConditionExpression != "attribute_not_exists(cache_key) OR expires_at <= :now" {
			return nil, errors.New("unsupported condition expression")
		}
		nowAttr, ok := params.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN)
		if !ok {
			return nil, errors.New("missing :now value")
		}
		now, _ := strconv.ParseInt(nowAttr.Value, 10, 64)

		if existing, exists := m.table[k]; exists {
			expAttr, ok := existing["expires_at"].(*types.AttributeValueMemberN)
			if !ok {
				return nil, errors.New("existing item missing expires_at")
			}
			exp, _ := strconv.ParseInt(expAttr.Value, 10, 64)
			if exp > now {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}

	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *dynamoMock) GetItem(_ context.Context, params *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, err := itemKey(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *dynamoMock) DeleteItem(_ context.Context, params *dyn.DeleteItemInput, _ ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, err := itemKey(params.Key)
	if err != nil {
		return nil, err
	}
	delete(m.table, k)
	return &dyn.DeleteItemOutput{}, nil
}
