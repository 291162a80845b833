package tokenvault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	trusterrors "github.com/aegistrust/proxy/errors"
)

// GSIPOA indexes token records by poa_id, mirroring breakglass.GSIPOA and
// poa.GSIPrincipal's single-GSI-per-access-pattern table design.
const GSIPOA = "gsi-poa"

type dynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoDBStore implements Store using AWS DynamoDB.
//
// Table schema assumptions (created externally):
//   - Partition key: id (String)
//   - GSI gsi-poa: partition key poa_id, sort key id
type DynamoDBStore struct {
	client    dynamoDBAPI
	tableName string
}

// NewDynamoDBStore constructs a DynamoDBStore from AWS configuration.
func NewDynamoDBStore(cfg aws.Config, tableName string) *DynamoDBStore {
	return &DynamoDBStore{client: dynamodb.NewFromConfig(cfg), tableName: tableName}
}

func newDynamoDBStoreWithClient(client dynamoDBAPI, tableName string) *DynamoDBStore {
	return &DynamoDBStore{client: client, tableName: tableName}
}

type dynamoItem struct {
	ID          string `dynamodbav:"id"`
	POAID       string `dynamodbav:"poa_id"`
	ServiceName string `dynamodbav:"service_name"`
	Kind        string `dynamodbav:"kind"`
	Ciphertext  []byte `dynamodbav:"ciphertext"`
	ExpiresAt   string `dynamodbav:"expires_at"`
	LastUsedAt  string `dynamodbav:"last_used_at"`
	CreatedAt   string `dynamodbav:"created_at"`
}

func recordToItem(r *Record) *dynamoItem {
	item := &dynamoItem{
		ID:          r.ID,
		POAID:       r.POAID,
		ServiceName: r.ServiceName,
		Kind:        string(r.Kind),
		Ciphertext:  r.Ciphertext,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339Nano),
	}
	if r.ExpiresAt != nil {
		item.ExpiresAt = r.ExpiresAt.Format(time.RFC3339Nano)
	}
	if r.LastUsedAt != nil {
		item.LastUsedAt = r.LastUsedAt.Format(time.RFC3339Nano)
	}
	return item
}

func itemToRecord(item *dynamoItem) (*Record, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	r := &Record{
		ID:          item.ID,
		POAID:       item.POAID,
		ServiceName: item.ServiceName,
		Kind:        Kind(item.Kind),
		Ciphertext:  item.Ciphertext,
		CreatedAt:   createdAt,
	}
	if item.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339Nano, item.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
		r.ExpiresAt = &t
	}
	if item.LastUsedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, item.LastUsedAt)
		if err != nil {
			return nil, fmt.Errorf("parse last_used_at: %w", err)
		}
		r.LastUsedAt = &t
	}
	return r, nil
}

func (s *DynamoDBStore) Put(ctx context.Context, rec *Record) error {
	av, err := attributevalue.MarshalMap(recordToItem(rec))
	if err != nil {
		return trusterrors.StorageFailure("marshal token record attributes", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return trusterrors.StorageFailure("dynamodb PutItem", err)
	}
	return nil
}

func (s *DynamoDBStore) Get(ctx context.Context, tokenID string) (*Record, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: tokenID},
		},
	})
	if err != nil {
		return nil, trusterrors.StorageFailure("dynamodb GetItem", err)
	}
	if output.Item == nil {
		return nil, trusterrors.NotFound("token not found", nil)
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, trusterrors.StorageFailure("unmarshal token record", err)
	}
	return itemToRecord(&item)
}

func (s *DynamoDBStore) ListByPOA(ctx context.Context, poaID string) ([]*Record, error) {
	output, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(GSIPOA),
		KeyConditionExpression: aws.String("poa_id = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: poaID},
		},
	})
	if err != nil {
		return nil, trusterrors.StorageFailure(fmt.Sprintf("dynamodb Query:%s", GSIPOA), err)
	}
	out := make([]*Record, 0, len(output.Items))
	for _, av := range output.Items {
		var item dynamoItem
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			return nil, trusterrors.StorageFailure("unmarshal token record", err)
		}
		rec, err := itemToRecord(&item)
		if err != nil {
			return nil, trusterrors.StorageFailure("decode token record", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *DynamoDBStore) DeleteByPOA(ctx context.Context, poaID string) error {
	records, err := s.ListByPOA(ctx, poaID)
	if err != nil {
		return err
	}
	for _, r := range records {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"id": &types.AttributeValueMemberS{Value: r.ID},
			},
		})
		if err != nil {
			return trusterrors.StorageFailure("dynamodb DeleteItem", err)
		}
	}
	return nil
}

func (s *DynamoDBStore) MarkUsed(ctx context.Context, tokenID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: tokenID},
		},
		UpdateExpression: aws.String("SET last_used_at = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: now},
		},
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return trusterrors.NotFound("token not found", nil)
		}
		return trusterrors.StorageFailure("dynamodb UpdateItem", err)
	}
	return nil
}
