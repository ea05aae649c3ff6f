package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/circuitbreaker"
	"github.com/keepon/remindd/internal/db"
	"github.com/keepon/remindd/internal/metrics"
)

// MultiSender routes deliveries to the first sender supporting their channel.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over the given senders.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the delivery to the appropriate sender based on channel.
func (m *MultiSender) Send(ctx context.Context, d *db.Delivery) (string, error) {
	for _, sender := range m.senders {
		if sender.SupportsChannel(d.Channel) {
			m.logger.Debug("routing delivery to sender",
				zap.String("channel", d.Channel),
				zap.String("id", d.ID.String()),
			)
			return sender.Send(ctx, d)
		}
	}

	return "", Permanent(fmt.Errorf("no sender found for channel: %s", d.Channel))
}

// SupportsChannel checks if any underlying sender supports the channel.
func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// Protect wraps sender in a breaker named name and registers the breaker.
// Permanent errors are about the message, not the transport, so they do not
// count toward tripping it.
func Protect(reg *circuitbreaker.Registry, name string, sender Sender, logger *zap.Logger) Sender {
	cfg := circuitbreaker.DefaultConfig(name)
	cfg.IsFailure = func(err error) bool { return !IsPermanent(err) }
	cfg.OnStateChange = func(name string, _, to circuitbreaker.State) {
		metrics.SetBreakerState(name, int(to))
	}
	metrics.SetBreakerState(name, int(circuitbreaker.StateClosed))

	cb := circuitbreaker.New(cfg, logger)
	reg.Add(cb)
	return circuitbreaker.NewProtectedSender(sender, cb, logger)
}
