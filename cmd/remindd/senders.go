package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/circuitbreaker"
	"github.com/keepon/remindd/internal/config"
	"github.com/keepon/remindd/internal/sns"
	"github.com/keepon/remindd/internal/sqs"
	"github.com/keepon/remindd/internal/worker"
)

func regionOr(region, fallback string) string {
	if region != "" {
		return region
	}
	return fallback
}

// buildSender picks one transport per channel and wraps each in its own
// circuit breaker. Channels set to "log" share a LogSender.
func buildSender(ctx context.Context, cfg *config.Config, breakers *circuitbreaker.Registry, logger *zap.Logger) (worker.Sender, error) {
	var senders []worker.Sender

	switch cfg.MailProvider {
	case config.MailProviderSES:
		ses, err := worker.NewSESSender(ctx, worker.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES email sender: %w", err)
		}
		senders = append(senders, worker.Protect(breakers, "ses", ses, logger))
	case config.MailProviderSendGrid:
		sg := worker.NewSendGridSender(cfg.SendGridAPIKey, cfg.MailFromEmail, logger)
		senders = append(senders, worker.Protect(breakers, "sendgrid", sg, logger))
	}

	switch cfg.SMSProvider {
	case config.SMSProviderSNS:
		sms, err := worker.NewSNSSender(ctx, worker.SNSConfig{
			Region: regionOr(cfg.SNSRegion, cfg.AWSRegion),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SNS sms sender: %w", err)
		}
		senders = append(senders, worker.Protect(breakers, "sns-sms", sms, logger))
	case config.SMSProviderTwilio:
		tw := worker.NewTwilioSender(worker.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
		}, logger)
		senders = append(senders, worker.Protect(breakers, "twilio", tw, logger))
	}

	switch cfg.TaskTransport {
	case config.TaskTransportSQS:
		producer, err := sqs.NewProducer(ctx, sqs.Config{
			Region:   regionOr(cfg.SQSRegion, cfg.AWSRegion),
			QueueURL: cfg.TaskQueueURL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQS task producer: %w", err)
		}
		senders = append(senders, worker.Protect(breakers, "sqs", producer, logger))
	case config.TaskTransportSNS:
		publisher, err := sns.NewPublisher(ctx, cfg.TaskTopicARN,
			awsconfig.WithRegion(regionOr(cfg.SNSRegion, cfg.AWSRegion)))
		if err != nil {
			return nil, fmt.Errorf("failed to create SNS task publisher: %w", err)
		}
		senders = append(senders, worker.Protect(breakers, "sns-task", publisher, logger))
	}

	// MultiSender takes the first match, so the log fallback goes last.
	senders = append(senders, worker.NewLogSender(logger))

	logger.Info("initialized outbox transports",
		zap.String("mail", cfg.MailProvider),
		zap.String("sms", cfg.SMSProvider),
		zap.String("task", cfg.TaskTransport),
	)

	return worker.NewMultiSender(logger, senders...), nil
}
