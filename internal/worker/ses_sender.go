package worker

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/db"
)

// SESAPI is the part of the SES client the sender uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESSender struct {
	client SESAPI
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return NewSESSenderWithClient(ses.NewFromConfig(awsCfg), cfg.FromEmail, logger), nil
}

func NewSESSenderWithClient(client SESAPI, from string, logger *zap.Logger) *SESSender {
	return &SESSender{
		client: client,
		from:   from,
		logger: logger,
	}
}

func utf8Content(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

// Send sends a mail row via AWS SES and returns the SES message id.
func (s *SESSender) Send(ctx context.Context, d *db.Delivery) (string, error) {
	m, err := requireMail(d)
	if err != nil {
		return "", err
	}
	if m.ToEmail == "" {
		return "", Permanent(fmt.Errorf("mail %s has no recipient", m.ID))
	}

	input := &ses.SendEmailInput{
		Source: aws.String((&mail.Address{Name: m.FromName, Address: s.from}).String()),
		Destination: &types.Destination{
			ToAddresses: []string{(&mail.Address{Name: m.ToName, Address: m.ToEmail}).String()},
		},
		Message: &types.Message{
			Subject: utf8Content(m.Subject),
			Body: &types.Body{
				Html: utf8Content(m.HTML),
				Text: utf8Content(m.Text),
			},
		},
	}
	if m.ReplyTo != nil && *m.ReplyTo != "" {
		input.ReplyToAddresses = []string{*m.ReplyTo}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		var rejected *types.MessageRejected
		if errors.As(err, &rejected) {
			return "", Permanent(fmt.Errorf("ses rejected message: %w", err))
		}
		return "", fmt.Errorf("ses send failed: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	s.logger.Info("email sent via SES",
		zap.String("id", m.ID.String()),
		zap.String("trainer_id", m.TrainerID.String()),
		zap.String("message_id", messageID),
	)

	return messageID, nil
}

// SupportsChannel checks if this sender supports the email channel.
func (s *SESSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelEmail
}
