package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/brizzai/fluo/internal/config"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps one item per user in a table whose partition key is
// "userId". PutItem replaces the item atomically.
type DynamoStore struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table, now: time.Now}
}

// NewDynamoClient builds a DynamoDB client from the tokens section. Static
// credentials and a custom endpoint (DynamoDB Local) are optional.
func NewDynamoClient(ctx context.Context, cfg config.TokensConfig) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func (s *DynamoStore) key(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"userId": &types.AttributeValueMemberS{Value: userID},
	}
}

func (s *DynamoStore) Write(ctx context.Context, userID string, in Input) (*Record, error) {
	rec, err := NewRecord(userID, in, s.now())
	if err != nil {
		return nil, err
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token record: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return nil, unavailable("put item", err)
	}
	return rec, nil
}

func (s *DynamoStore) Read(ctx context.Context, userID string) (*Record, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("get item", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token record: %w", err)
	}
	return &rec, nil
}

func (s *DynamoStore) Delete(ctx context.Context, userID string) error {
	if err := checkUser(userID); err != nil {
		return err
	}

	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table),
		Key:          s.key(userID),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return unavailable("delete item", err)
	}
	if len(out.Attributes) == 0 {
		return ErrNotFound
	}
	return nil
}
