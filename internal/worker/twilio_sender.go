package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/db"
)

// TwilioAPI is the part of the Twilio REST API the sender uses.
type TwilioAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// TwilioSender sends SMS rows through Twilio's Messages API.
type TwilioSender struct {
	client TwilioAPI
	from   string
	logger *zap.Logger
}

func NewTwilioSender(cfg TwilioConfig, logger *zap.Logger) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return NewTwilioSenderWithClient(client.Api, cfg.FromNumber, logger)
}

func NewTwilioSenderWithClient(client TwilioAPI, from string, logger *zap.Logger) *TwilioSender {
	return &TwilioSender{
		client: client,
		from:   from,
		logger: logger,
	}
}

// Send creates a Twilio message and returns its sid. The configured number
// wins over the row's alphanumeric sender.
func (s *TwilioSender) Send(ctx context.Context, d *db.Delivery) (string, error) {
	m, err := requireSMS(d)
	if err != nil {
		return "", err
	}
	if m.ToNumber == "" || m.Body == "" {
		return "", Permanent(fmt.Errorf("sms %s is missing number or body", m.ID))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	from := s.from
	if from == "" {
		from = senderID(m.FromName)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(m.ToNumber)
	params.SetFrom(from)
	params.SetBody(m.Body)

	resp, err := s.client.CreateMessage(params)
	if err != nil {
		var restErr *twilioclient.TwilioRestError
		if errors.As(err, &restErr) && restErr.Status >= 400 && restErr.Status < 500 && restErr.Status != http.StatusTooManyRequests {
			return "", Permanent(fmt.Errorf("twilio rejected sms: %w", err))
		}
		return "", fmt.Errorf("twilio send failed: %w", err)
	}

	var sid string
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}

	s.logger.Info("SMS sent via Twilio",
		zap.String("id", m.ID.String()),
		zap.String("trainer_id", m.TrainerID.String()),
		zap.String("message_sid", sid),
	)

	return sid, nil
}

func (s *TwilioSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelSMS
}
