package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	trusterrors "github.com/aegistrust/proxy/errors"
)

// GSIPOA indexes entries by poa_id with id as the sort key, analogous to
// the teacher's GSIRequester. Created externally via Terraform/CloudFormation.
const GSIPOA = "gsi-poa"

// DefaultQueryLimit / MaxQueryLimit bound ListEntries' gsi-poa queries, matching
// the teacher's request.DynamoDBStore query defaults.
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
)

type dynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDBStore implements Store using AWS DynamoDB.
//
// Table schema assumptions (created externally):
//   - Partition key: poa_id (String)
//   - Sort key: id (Number)
//   - GSI gsi-poa: same keys, used for cross-partition chronological scans
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

// dynamoItem is the DynamoDB item shape for an AuditEntry, adapted from
// request.dynamoItem's explicit-field-mapping pattern.
type dynamoItem struct {
	ID               int64  `dynamodbav:"id"`
	POAID            string `dynamodbav:"poa_id"`
	ActionType       string `dynamodbav:"action_type"`
	Timestamp        string `dynamodbav:"timestamp"` // RFC3339Nano
	RequestDetails   string `dynamodbav:"request_details"` // json-encoded Details
	ServiceName      string `dynamodbav:"service_name"`    // may be empty
	HasServiceName   bool   `dynamodbav:"has_service_name"`
	Amount           float64 `dynamodbav:"amount"`
	HasAmount        bool    `dynamodbav:"has_amount"`
	Decision         string `dynamodbav:"decision"`
	Reasoning        string `dynamodbav:"reasoning"`
	Signature        string `dynamodbav:"signature"`
	AdvocateNotified bool   `dynamodbav:"advocate_notified"`
}

func entryToItem(e *AuditEntry) (*dynamoItem, error) {
	detailsJSON, err := json.Marshal(e.RequestDetails)
	if err != nil {
		return nil, fmt.Errorf("marshal request_details: %w", err)
	}
	item := &dynamoItem{
		ID:               e.ID,
		POAID:            e.POAID,
		ActionType:       string(e.ActionType),
		Timestamp:        e.Timestamp.Format(time.RFC3339Nano),
		RequestDetails:   string(detailsJSON),
		Decision:         string(e.Decision),
		Reasoning:        e.Reasoning,
		Signature:        e.Signature,
		AdvocateNotified: e.AdvocateNotified,
	}
	if e.ServiceName != nil {
		item.ServiceName = *e.ServiceName
		item.HasServiceName = true
	}
	if e.Amount != nil {
		item.Amount = *e.Amount
		item.HasAmount = true
	}
	return item, nil
}

func itemToEntry(item *dynamoItem) (*AuditEntry, error) {
	ts, err := time.Parse(time.RFC3339Nano, item.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	var details Details
	if err := json.Unmarshal([]byte(item.RequestDetails), &details); err != nil {
		return nil, fmt.Errorf("unmarshal request_details: %w", err)
	}
	entry := &AuditEntry{
		ID:               item.ID,
		POAID:            item.POAID,
		ActionType:       ActionType(item.ActionType),
		Timestamp:        ts,
		RequestDetails:   details,
		Decision:         Decision(item.Decision),
		Reasoning:        item.Reasoning,
		Signature:        item.Signature,
		AdvocateNotified: item.AdvocateNotified,
	}
	if item.HasServiceName {
		sn := item.ServiceName
		entry.ServiceName = &sn
	}
	if item.HasAmount {
		amt := item.Amount
		entry.Amount = &amt
	}
	return entry, nil
}

func (s *DynamoDBStore) AppendEntry(ctx context.Context, entry *AuditEntry) error {
	item, err := entryToItem(entry)
	if err != nil {
		return trusterrors.StorageFailure("marshal audit entry", err)
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return trusterrors.StorageFailure("marshal audit entry attributes", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return trusterrors.ConflictState(fmt.Sprintf("audit entry %d already exists for poa %s", entry.ID, entry.POAID))
		}
		return trusterrors.StorageFailure("dynamodb PutItem", err)
	}
	return nil
}

func (s *DynamoDBStore) GetEntry(ctx context.Context, id int64, poaID string) (*AuditEntry, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"poa_id": &types.AttributeValueMemberS{Value: poaID},
			"id":     &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
		},
	})
	if err != nil {
		return nil, trusterrors.StorageFailure("dynamodb GetItem", err)
	}
	if output.Item == nil {
		return nil, trusterrors.NotFound(fmt.Sprintf("audit entry %d for poa %s not found", id, poaID), nil)
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, trusterrors.StorageFailure("unmarshal audit entry", err)
	}
	return itemToEntry(&item)
}

func (s *DynamoDBStore) ListEntries(ctx context.Context, filter ListFilter) ([]*AuditEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	if filter.POAID == "" {
		return nil, trusterrors.InvalidArgument("ListEntries requires a poa_id filter against DynamoDB")
	}

	output, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(GSIPOA),
		KeyConditionExpression: aws.String("poa_id = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: filter.POAID},
		},
		ScanIndexForward: aws.Bool(true),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, trusterrors.StorageFailure(fmt.Sprintf("dynamodb Query:%s", GSIPOA), err)
	}

	entries := make([]*AuditEntry, 0, len(output.Items))
	for _, av := range output.Items {
		var item dynamoItem
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			return nil, trusterrors.StorageFailure("unmarshal audit entry", err)
		}
		entry, err := itemToEntry(&item)
		if err != nil {
			return nil, trusterrors.StorageFailure("decode audit entry", err)
		}
		if filter.Decision != "" && entry.Decision != filter.Decision {
			continue
		}
		if !filter.Since.IsZero() && entry.Timestamp.Before(filter.Since) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// NextSequence atomically increments a per-POA counter item keyed by a
// synthetic id=0 sentinel row, using DynamoDB's UpdateItem ADD expression.
func (s *DynamoDBStore) NextSequence(ctx context.Context, poaID string) (int64, error) {
	output, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"poa_id": &types.AttributeValueMemberS{Value: poaID},
			"id":     &types.AttributeValueMemberN{Value: "0"},
		},
		UpdateExpression: aws.String("ADD seq_counter :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, trusterrors.StorageFailure("dynamodb UpdateItem seq_counter", err)
	}
	attr, ok := output.Attributes["seq_counter"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, trusterrors.StorageFailure("missing seq_counter in UpdateItem response", nil)
	}
	n, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0, trusterrors.StorageFailure("parse seq_counter", err)
	}
	return n, nil
}

func (s *DynamoDBStore) MarkAdvocateNotified(ctx context.Context, id int64, poaID string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"poa_id": &types.AttributeValueMemberS{Value: poaID},
			"id":     &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
		},
		UpdateExpression:    aws.String("SET advocate_notified = :t"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return trusterrors.NotFound(fmt.Sprintf("audit entry %d for poa %s not found", id, poaID), nil)
		}
		return trusterrors.StorageFailure("dynamodb UpdateItem advocate_notified", err)
	}
	return nil
}
