package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/db"
)

// SNSAPI is the part of the SNS client the SMS sender uses.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender sends SMS rows via AWS SNS direct publish.
type SNSSender struct {
	client SNSAPI
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSSender creates a new SNS sender for SMS rows.
func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}
	return NewSNSSenderWithClient(sns.NewFromConfig(awsCfg), logger), nil
}

func NewSNSSenderWithClient(client SNSAPI, logger *zap.Logger) *SNSSender {
	return &SNSSender{
		client: client,
		logger: logger,
	}
}

func stringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}

// Send publishes an SMS row to its number and returns the SNS message id.
func (s *SNSSender) Send(ctx context.Context, d *db.Delivery) (string, error) {
	m, err := requireSMS(d)
	if err != nil {
		return "", err
	}
	if m.ToNumber == "" || m.Body == "" {
		return "", Permanent(fmt.Errorf("sms %s is missing number or body", m.ID))
	}

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": stringAttr("Transactional"),
	}
	if id := senderID(m.FromName); id != "" {
		attrs["AWS.SNS.SMS.SenderID"] = stringAttr(id)
	}

	result, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(m.ToNumber),
		Message:           aws.String(m.Body),
		MessageAttributes: attrs,
	})
	if err != nil {
		var invalid *types.InvalidParameterException
		if errors.As(err, &invalid) {
			return "", Permanent(fmt.Errorf("sns rejected sms: %w", err))
		}
		return "", fmt.Errorf("sns publish failed: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	s.logger.Info("SMS sent via SNS",
		zap.String("id", m.ID.String()),
		zap.String("trainer_id", m.TrainerID.String()),
		zap.String("message_id", messageID),
	)

	return messageID, nil
}

// SupportsChannel checks if this sender supports the SMS channel.
func (s *SNSSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelSMS
}

// senderID reduces a display name to an alphanumeric sender id of at most
// 11 characters. Names with no usable characters yield "".
func senderID(name string) string {
	out := make([]byte, 0, 11)
	for i := 0; i < len(name) && len(out) < 11; i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			out = append(out, c)
		}
	}
	for _, c := range out {
		if c < '0' || c > '9' {
			return string(out)
		}
	}
	return ""
}
