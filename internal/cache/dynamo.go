package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/backend-burger/worker/internal/aws"
)

// dynamoRecord is the row shape persisted in the DynamoDB cache table.
type dynamoRecord struct {
	CacheKey  string `dynamodbav:"cache_key"` // PK
	Value     string `dynamodbav:"value"`
	CreatedAt string `dynamodbav:"created_at"`
	ExpiresAt int64  `dynamodbav:"expires_at"` // TTL epoch seconds
}

// DynamoStore backs Store with a DynamoDB table. A conditional put on the
// partition key is the atomic check-and-set; the table's TTL attribute handles
// expiry. DynamoDB removes expired rows lazily, so every condition and read
// also checks expires_at against the clock.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore returns a Store bound to the given table.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func (s *DynamoStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := s.nowFunc()
	item, err := attributevalue.MarshalMap(dynamoRecord{
		CacheKey:  key,
		Value:     value,
		CreatedAt: now.UTC().Format(time.RFC3339),
		ExpiresAt: now.Add(ttl).Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		// <= keeps the reclaim boundary aligned with Get, which treats a
		// row expiring this second as already gone.
		ConditionExpression: awsString("attribute_not_exists(cache_key) OR expires_at <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

func (s *DynamoStore) Get(ctx context.Context, key string) (string, bool, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"cache_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return "", false, nil
	}
	var rec dynamoRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return "", false, fmt.Errorf("unmarshal item: %w", err)
	}
	if rec.ExpiresAt <= s.nowFunc().Unix() {
		return "", false, nil
	}
	return rec.Value, true, nil
}

func (s *DynamoStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	now := s.nowFunc()
	item, err := attributevalue.MarshalMap(dynamoRecord{
		CacheKey:  key,
		Value:     value,
		CreatedAt: now.UTC().Format(time.RFC3339),
		ExpiresAt: now.Add(ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"cache_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func (s *DynamoStore) Close() error { return nil }

func awsString(s string) *string { return &s }
