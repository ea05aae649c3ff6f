package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/db"
)

// Sender hands one outbox delivery to a transport and returns the
// transport's reference for it.
type Sender interface {
	Send(ctx context.Context, d *db.Delivery) (string, error)
	SupportsChannel(channel string) bool
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as one that retrying cannot fix, such as a rejected
// recipient or a malformed row.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// errMissingBody means a claimed delivery carried no row for its channel.
var errMissingBody = errors.New("delivery has no row for its channel")

func requireMail(d *db.Delivery) (*db.Mail, error) {
	if d.Channel != db.ChannelEmail || d.Mail == nil {
		return nil, Permanent(fmt.Errorf("%w: %s %s", errMissingBody, d.Channel, d.ID))
	}
	return d.Mail, nil
}

func requireSMS(d *db.Delivery) (*db.SMS, error) {
	if d.Channel != db.ChannelSMS || d.SMS == nil {
		return nil, Permanent(fmt.Errorf("%w: %s %s", errMissingBody, d.Channel, d.ID))
	}
	return d.SMS, nil
}

// LogSender logs deliveries instead of sending them (for development).
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, d *db.Delivery) (string, error) {
	fields := []zap.Field{
		zap.String("id", d.ID.String()),
		zap.String("channel", d.Channel),
		zap.Int("attempt", d.Attempt),
	}

	switch {
	case d.Mail != nil:
		fields = append(fields,
			zap.String("to_email", d.Mail.ToEmail),
			zap.String("subject", d.Mail.Subject),
		)
	case d.SMS != nil:
		fields = append(fields,
			zap.String("to_number", d.SMS.ToNumber),
			zap.String("body", d.SMS.Body),
		)
	case d.Task != nil:
		fields = append(fields,
			zap.String("task", d.Task.Name),
			zap.ByteString("payload", d.Task.Payload),
		)
	default:
		return "", Permanent(fmt.Errorf("%w: %s %s", errMissingBody, d.Channel, d.ID))
	}

	s.logger.Info("logging delivery (development mode)", fields...)
	return "log-" + d.ID.String(), nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelEmail || channel == db.ChannelSMS || channel == db.ChannelTask
}
