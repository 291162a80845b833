package poa

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

// GSIPrincipal indexes POAs by principal, mirroring ledger.GSIPOA and
// breakglass.GSIPOA's single-GSI-per-access-pattern table design.
const GSIPrincipal = "gsi-principal"

type dynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDBStore implements Store using AWS DynamoDB.
//
// Table schema assumptions (created externally):
//   - Partition key: id (String)
//   - GSI gsi-principal: partition key principal, sort key created_at
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
	ID              string   `dynamodbav:"id"`
	Principal       string   `dynamodbav:"principal"`
	Agent           string   `dynamodbav:"agent"`
	Scope           string   `dynamodbav:"scope"`
	SpendLimit      float64  `dynamodbav:"spend_limit"`
	AllowedServices []string `dynamodbav:"allowed_services"`
	Status          string   `dynamodbav:"status"`
	CreatedAt       string   `dynamodbav:"created_at"`
	ExpiresAt       string   `dynamodbav:"expires_at"`
	Creator         string   `dynamodbav:"creator"`
	RevokedAt       string   `dynamodbav:"revoked_at"`
	RevokedBy       string   `dynamodbav:"revoked_by"`
	RevokedReason   string   `dynamodbav:"revoked_reason"`
}

func poaToItem(p *POA) *dynamoItem {
	item := &dynamoItem{
		ID:              p.ID,
		Principal:       p.Principal,
		Agent:           p.Agent,
		Scope:           p.Scope,
		SpendLimit:      p.SpendLimit,
		AllowedServices: p.AllowedServices,
		Status:          string(p.Status),
		CreatedAt:       p.CreatedAt.Format(time.RFC3339Nano),
		ExpiresAt:       p.ExpiresAt.Format(time.RFC3339Nano),
		Creator:         p.Creator,
		RevokedBy:       p.RevokedBy,
		RevokedReason:   p.RevokedReason,
	}
	if p.RevokedAt != nil {
		item.RevokedAt = p.RevokedAt.Format(time.RFC3339Nano)
	}
	return item
}

func itemToPOA(item *dynamoItem) (*POA, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, item.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	p := &POA{
		ID:              item.ID,
		Principal:       item.Principal,
		Agent:           item.Agent,
		Scope:           item.Scope,
		SpendLimit:      item.SpendLimit,
		AllowedServices: item.AllowedServices,
		Status:          Status(item.Status),
		CreatedAt:       createdAt,
		ExpiresAt:       expiresAt,
		Creator:         item.Creator,
		RevokedBy:       item.RevokedBy,
		RevokedReason:   item.RevokedReason,
	}
	if item.RevokedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, item.RevokedAt)
		if err != nil {
			return nil, fmt.Errorf("parse revoked_at: %w", err)
		}
		p.RevokedAt = &t
	}
	return p, nil
}

func (s *DynamoDBStore) Create(ctx context.Context, p *POA) error {
	av, err := attributevalue.MarshalMap(poaToItem(p))
	if err != nil {
		return trusterrors.StorageFailure("marshal poa attributes", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return trusterrors.ConflictState("poa id already exists")
		}
		return trusterrors.StorageFailure("dynamodb PutItem", err)
	}
	return nil
}

func (s *DynamoDBStore) Get(ctx context.Context, id string) (*POA, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, trusterrors.StorageFailure("dynamodb GetItem", err)
	}
	if output.Item == nil {
		return nil, trusterrors.NotFound("poa not found", nil)
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, trusterrors.StorageFailure("unmarshal poa", err)
	}
	return itemToPOA(&item)
}

func (s *DynamoDBStore) Update(ctx context.Context, p *POA) error {
	av, err := attributevalue.MarshalMap(poaToItem(p))
	if err != nil {
		return trusterrors.StorageFailure("marshal poa attributes", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return trusterrors.NotFound("poa not found", nil)
		}
		return trusterrors.StorageFailure("dynamodb PutItem", err)
	}
	return nil
}

func (s *DynamoDBStore) ListByPrincipal(ctx context.Context, principal string, activeOnly bool, limit int) ([]*POA, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	expr := "principal = :v"
	values := map[string]types.AttributeValue{
		":v": &types.AttributeValueMemberS{Value: principal},
	}
	filter := ""
	if activeOnly {
		filter = "#status = :active"
		values[":active"] = &types.AttributeValueMemberS{Value: string(StatusActive)}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(GSIPrincipal),
		KeyConditionExpression:    aws.String(expr),
		ExpressionAttributeValues: values,
		Limit:                     aws.Int32(int32(limit)),
	}
	if filter != "" {
		input.FilterExpression = aws.String(filter)
		input.ExpressionAttributeNames = map[string]string{"#status": "status"}
	}

	output, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, trusterrors.StorageFailure(fmt.Sprintf("dynamodb Query:%s", GSIPrincipal), err)
	}

	out := make([]*POA, 0, len(output.Items))
	for _, av := range output.Items {
		var item dynamoItem
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			return nil, trusterrors.StorageFailure("unmarshal poa", err)
		}
		p, err := itemToPOA(&item)
		if err != nil {
			return nil, trusterrors.StorageFailure("decode poa", err)
		}
		out = append(out, p)
	}
	return out, nil
}
