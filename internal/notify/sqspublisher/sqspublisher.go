// Package sqspublisher implements notify.Publisher against an SQS queue.
// It is the required publisher when bundles land in the object-store sink:
// that sink has no listing API of its own, so a completion notification is
// the only way a downstream consumer discovers a finished bundle.
package sqspublisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/oriys/fetchengine/internal/ferrors"
	"github.com/oriys/fetchengine/internal/notify"
)

// SQSAPI is the subset of *sqs.Client this publisher uses, so tests can
// substitute an in-memory fake.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher sends one SQS message per completed bundle, JSON-encoded, with
// the recipe and bundle ids attached as message attributes for
// attribute-based filtering on the consumer side.
type Publisher struct {
	Client   SQSAPI
	QueueURL string
}

// New builds a Publisher. Returns a Configuration error if queueURL is
// empty, since a publisher with nowhere to send is a construction mistake,
// not a runtime condition.
func New(client SQSAPI, queueURL string) (*Publisher, error) {
	if queueURL == "" {
		return nil, ferrors.New(ferrors.Configuration, "sqspublisher", fmt.Errorf("queue URL is required"))
	}
	return &Publisher{Client: client, QueueURL: queueURL}, nil
}

func (p *Publisher) Publish(ctx context.Context, msg notify.BundleCompletion) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("sqspublisher: marshal message: %w", err)
	}
	_, err = p.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"bundleId": {DataType: aws.String("String"), StringValue: aws.String(msg.BundleID)},
			"recipeId": {DataType: aws.String("String"), StringValue: aws.String(msg.RecipeID)},
		},
	})
	if err != nil {
		return fmt.Errorf("sqspublisher: send message: %w", err)
	}
	return nil
}

// Close is a no-op; the SQS client holds no long-lived connection to tear down.
func (p *Publisher) Close() error { return nil }
