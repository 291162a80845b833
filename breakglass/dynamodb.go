package breakglass

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

// GSIPOA indexes break-glass events by poa_id, mirroring ledger.GSIPOA's
// table-design convention (separate physical table, same index name and
// partition-key choice for operational consistency).
const GSIPOA = "gsi-poa"

type dynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
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
	ID               string `dynamodbav:"id"`
	AuditEntryID     int64  `dynamodbav:"audit_entry_id"`
	POAID            string `dynamodbav:"poa_id"`
	Trigger          string `dynamodbav:"trigger"`
	TriggerDetails   string `dynamodbav:"trigger_details"`
	Status           string `dynamodbav:"status"`
	AdvocateID       string `dynamodbav:"advocate_id"`
	VerificationMode string `dynamodbav:"verification_mode"`

	OTPHash       string `dynamodbav:"otp_hash"`
	OTPSentAt     string `dynamodbav:"otp_sent_at"`
	OTPVerifiedAt string `dynamodbav:"otp_verified_at"`

	LivenessRequired   bool   `dynamodbav:"liveness_required"`
	LivenessVerified   bool   `dynamodbav:"liveness_verified"`
	HasLiveness        bool   `dynamodbav:"has_liveness"`
	LivenessVerifiedAt string `dynamodbav:"liveness_verified_at"`

	ApprovedAt string `dynamodbav:"approved_at"`
	ApprovedBy string `dynamodbav:"approved_by"`

	DeniedAt     string `dynamodbav:"denied_at"`
	DeniedBy     string `dynamodbav:"denied_by"`
	DenialReason string `dynamodbav:"denial_reason"`

	CreatedAt string `dynamodbav:"created_at"`
	ExpiresAt string `dynamodbav:"expires_at"`

	OTPSecretCiphertext []byte `dynamodbav:"otp_secret_ciphertext"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func eventToItem(e *Event) (*dynamoItem, error) {
	item := &dynamoItem{
		ID:               e.ID,
		AuditEntryID:     e.AuditEntryID,
		POAID:            e.POAID,
		Trigger:          string(e.Trigger),
		TriggerDetails:   e.TriggerDetails,
		Status:           string(e.Status),
		AdvocateID:       e.AdvocateID,
		VerificationMode: string(e.VerificationMode),
		OTPHash:          e.OTPHash,
		OTPSentAt:        formatTime(e.OTPSentAt),
		LivenessRequired: e.LivenessRequired,
		ApprovedBy:       e.ApprovedBy,
		DeniedBy:         e.DeniedBy,
		DenialReason:     e.DenialReason,
		CreatedAt:           formatTime(e.CreatedAt),
		ExpiresAt:           formatTime(e.ExpiresAt),
		OTPSecretCiphertext: e.OTPSecretCiphertext,
	}
	if e.OTPVerifiedAt != nil {
		item.OTPVerifiedAt = formatTime(*e.OTPVerifiedAt)
	}
	if e.LivenessVerified != nil {
		item.HasLiveness = true
		item.LivenessVerified = *e.LivenessVerified
	}
	if e.LivenessVerifiedAt != nil {
		item.LivenessVerifiedAt = formatTime(*e.LivenessVerifiedAt)
	}
	if e.ApprovedAt != nil {
		item.ApprovedAt = formatTime(*e.ApprovedAt)
	}
	if e.DeniedAt != nil {
		item.DeniedAt = formatTime(*e.DeniedAt)
	}
	return item, nil
}

func itemToEvent(item *dynamoItem) (*Event, error) {
	createdAt, err := parseTime(item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	expiresAt, err := parseTime(item.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	otpSentAt, err := parseTime(item.OTPSentAt)
	if err != nil {
		return nil, fmt.Errorf("parse otp_sent_at: %w", err)
	}
	e := &Event{
		ID:               item.ID,
		AuditEntryID:     item.AuditEntryID,
		POAID:            item.POAID,
		Trigger:          TriggerType(item.Trigger),
		TriggerDetails:   item.TriggerDetails,
		Status:           Status(item.Status),
		AdvocateID:       item.AdvocateID,
		VerificationMode: VerificationMode(item.VerificationMode),
		OTPHash:          item.OTPHash,
		OTPSentAt:        otpSentAt,
		LivenessRequired: item.LivenessRequired,
		ApprovedBy:       item.ApprovedBy,
		DeniedBy:         item.DeniedBy,
		DenialReason:     item.DenialReason,
		CreatedAt:           createdAt,
		ExpiresAt:           expiresAt,
		OTPSecretCiphertext: item.OTPSecretCiphertext,
	}
	if item.OTPVerifiedAt != "" {
		t, err := parseTime(item.OTPVerifiedAt)
		if err != nil {
			return nil, fmt.Errorf("parse otp_verified_at: %w", err)
		}
		e.OTPVerifiedAt = &t
	}
	if item.HasLiveness {
		v := item.LivenessVerified
		e.LivenessVerified = &v
	}
	if item.LivenessVerifiedAt != "" {
		t, err := parseTime(item.LivenessVerifiedAt)
		if err != nil {
			return nil, fmt.Errorf("parse liveness_verified_at: %w", err)
		}
		e.LivenessVerifiedAt = &t
	}
	if item.ApprovedAt != "" {
		t, err := parseTime(item.ApprovedAt)
		if err != nil {
			return nil, fmt.Errorf("parse approved_at: %w", err)
		}
		e.ApprovedAt = &t
	}
	if item.DeniedAt != "" {
		t, err := parseTime(item.DeniedAt)
		if err != nil {
			return nil, fmt.Errorf("parse denied_at: %w", err)
		}
		e.DeniedAt = &t
	}
	return e, nil
}

func (s *DynamoDBStore) Put(ctx context.Context, event *Event) error {
	item, err := eventToItem(event)
	if err != nil {
		return trusterrors.StorageFailure("marshal break-glass event", err)
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return trusterrors.StorageFailure("marshal break-glass event attributes", err)
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

func (s *DynamoDBStore) Get(ctx context.Context, eventID string) (*Event, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: eventID},
		},
	})
	if err != nil {
		return nil, trusterrors.StorageFailure("dynamodb GetItem", err)
	}
	if output.Item == nil {
		return nil, trusterrors.NotFound("break-glass event not found", nil)
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, trusterrors.StorageFailure("unmarshal break-glass event", err)
	}
	return itemToEvent(&item)
}

// CompareAndSwap uses a ConditionExpression on the stored status attribute
// so exactly one of two racing transitions (e.g. VerifyOTP vs Deny) wins,
// mirroring ledger.DynamoDBStore.AppendEntry's conditional-write pattern.
func (s *DynamoDBStore) CompareAndSwap(ctx context.Context, eventID string, expectedStatus Status, next *Event) error {
	item, err := eventToItem(next)
	if err != nil {
		return trusterrors.StorageFailure("marshal break-glass event", err)
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return trusterrors.StorageFailure("marshal break-glass event attributes", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("#status = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: string(expectedStatus)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return trusterrors.ConflictState(fmt.Sprintf("break-glass event %s status changed concurrently", eventID))
		}
		return trusterrors.StorageFailure("dynamodb PutItem", err)
	}
	return nil
}

func (s *DynamoDBStore) ListByPOA(ctx context.Context, poaID string) ([]*Event, error) {
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
	events := make([]*Event, 0, len(output.Items))
	for _, av := range output.Items {
		var item dynamoItem
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			return nil, trusterrors.StorageFailure("unmarshal break-glass event", err)
		}
		event, err := itemToEvent(&item)
		if err != nil {
			return nil, trusterrors.StorageFailure("decode break-glass event", err)
		}
		events = append(events, event)
	}
	return events, nil
}
