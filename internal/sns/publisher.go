package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/keepon/remindd/internal/db"
	"github.com/keepon/remindd/internal/worker"
)

// API is the part of the SNS client the publisher uses.
type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher fans workflow tasks out on an SNS topic
type Publisher struct {
	client   API
	topicARN string
}

// Message is a workflow task as published to the topic
type Message struct {
	TaskID  string          `json:"task_id"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt"`
}

// NewPublisher creates an SNS publisher for the given topic
func NewPublisher(ctx context.Context, topicARN string, optFns ...func(*config.LoadOptions) error) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewPublisherWithClient(sns.NewFromConfig(cfg), topicARN), nil
}

func NewPublisherWithClient(client API, topicARN string) *Publisher {
	return &Publisher{
		client:   client,
		topicARN: topicARN,
	}
}

// Publish sends a task to the topic. Subscribers filter on task_name.
func (p *Publisher) Publish(ctx context.Context, msg Message) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", worker.Permanent(fmt.Errorf("failed to marshal message: %w", err))
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"task_name": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Name),
			},
		},
	}

	result, err := p.client.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to publish to SNS: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// Send implements worker.Sender for the task channel
func (p *Publisher) Send(ctx context.Context, d *db.Delivery) (string, error) {
	if d.Task == nil {
		return "", worker.Permanent(fmt.Errorf("delivery %s has no task", d.ID))
	}
	return p.Publish(ctx, Message{
		TaskID:  d.Task.ID.String(),
		Name:    d.Task.Name,
		Payload: d.Task.Payload,
		Attempt: d.Attempt,
	})
}

func (p *Publisher) SupportsChannel(channel string) bool {
	return channel == db.ChannelTask
}
