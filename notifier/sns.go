package notifier

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/aegistrust/proxy/breakglass"
)

// snsAPI is the subset of the SNS client SNSNotifier needs, adapted from
// the teacher's notification.snsAPI for mock-friendly testing.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes break-glass escalation events to an AWS SNS
// topic, with a MessageAttribute "trigger" for subscription filtering —
// the same pattern the teacher's SNSBreakGlassNotifier uses for
// event_type filtering.
type SNSNotifier struct {
	client   snsAPI
	topicARN string
}

// NewSNSNotifier builds an SNSNotifier from AWS configuration.
func NewSNSNotifier(cfg aws.Config, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: sns.NewFromConfig(cfg), topicARN: topicARN}
}

func newSNSNotifierWithClient(client snsAPI, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN}
}

// NotifyBreakGlass publishes the event to the configured SNS topic.
func (n *SNSNotifier) NotifyBreakGlass(ctx context.Context, advocateID string, event *breakglass.Event) error {
	payload, err := marshalPayload(advocateID, event)
	if err != nil {
		return fmt.Errorf("marshal break-glass payload: %w", err)
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"trigger": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Trigger)),
			},
			"advocate_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(advocateID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}
