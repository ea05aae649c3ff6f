package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/db"
	"github.com/keepon/remindd/internal/worker"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// API is the part of the SQS client the producer uses.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Message is the body of a workflow task on the queue.
type Message struct {
	TaskID     string          `json:"task_id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt int64           `json:"enqueued_at"`
}

// Producer hands workflow_outbox rows to the task queue.
type Producer struct {
	client   API
	queueURL string
	logger   *zap.Logger
	now      func() time.Time
}

// NewProducer creates a new SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return NewProducerWithClient(sqs.NewFromConfig(awsCfg), cfg.QueueURL, logger), nil
}

func NewProducerWithClient(client API, queueURL string, logger *zap.Logger) *Producer {
	return &Producer{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *Producer) fifo() bool {
	return strings.HasSuffix(p.queueURL, ".fifo")
}

// Enqueue sends a task to SQS and returns the message id. FIFO queues
// deduplicate on the task id.
func (p *Producer) Enqueue(ctx context.Context, task *db.Task, attempt int) (string, error) {
	body, err := json.Marshal(Message{
		TaskID:     task.ID.String(),
		Name:       task.Name,
		Payload:    task.Payload,
		Attempt:    attempt,
		EnqueuedAt: p.now().UnixNano(),
	})
	if err != nil {
		return "", worker.Permanent(fmt.Errorf("failed to marshal message: %w", err))
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"task_name": {
				DataType:    aws.String("String"),
				StringValue: aws.String(task.Name),
			},
		},
	}
	if p.fifo() {
		input.MessageGroupId = aws.String(task.Name)
		input.MessageDeduplicationId = aws.String(task.ID.String())
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("task_id", task.ID.String()),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// Send implements worker.Sender for the task channel.
func (p *Producer) Send(ctx context.Context, d *db.Delivery) (string, error) {
	if d.Task == nil {
		return "", worker.Permanent(fmt.Errorf("delivery %s has no task", d.ID))
	}
	return p.Enqueue(ctx, d.Task, d.Attempt)
}

func (p *Producer) SupportsChannel(channel string) bool {
	return channel == db.ChannelTask
}
