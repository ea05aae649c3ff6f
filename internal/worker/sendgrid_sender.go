package worker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/db"
)

// SendGridAPI is the part of the SendGrid client the sender uses.
type SendGridAPI interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

// SendGridSender sends mail rows through SendGrid's v3 mail API.
type SendGridSender struct {
	client SendGridAPI
	from   string
	logger *zap.Logger
}

func NewSendGridSender(apiKey, from string, logger *zap.Logger) *SendGridSender {
	return NewSendGridSenderWithClient(sendgrid.NewSendClient(apiKey), from, logger)
}

func NewSendGridSenderWithClient(client SendGridAPI, from string, logger *zap.Logger) *SendGridSender {
	return &SendGridSender{
		client: client,
		from:   from,
		logger: logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, d *db.Delivery) (string, error) {
	m, err := requireMail(d)
	if err != nil {
		return "", err
	}
	if m.ToEmail == "" {
		return "", Permanent(fmt.Errorf("mail %s has no recipient", m.ID))
	}

	msg := sgmail.NewSingleEmail(
		sgmail.NewEmail(m.FromName, s.from),
		m.Subject,
		sgmail.NewEmail(m.ToName, m.ToEmail),
		m.Text,
		m.HTML,
	)
	if m.ReplyTo != nil && *m.ReplyTo != "" {
		msg.SetReplyTo(sgmail.NewEmail("", *m.ReplyTo))
	}

	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("sendgrid send failed: %w", err)
	}
	if err := statusError("sendgrid", resp.StatusCode, resp.Body); err != nil {
		return "", err
	}

	var messageID string
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		messageID = ids[0]
	}

	s.logger.Info("email sent via SendGrid",
		zap.String("id", m.ID.String()),
		zap.String("trainer_id", m.TrainerID.String()),
		zap.String("message_id", messageID),
	)

	return messageID, nil
}

func (s *SendGridSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelEmail
}

// statusError turns a non 2xx provider response into an error. Client errors
// other than throttling are permanent.
func statusError(provider string, status int, body string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	err := fmt.Errorf("%s returned status %d: %s", provider, status, body)
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return Permanent(err)
	}
	return err
}
