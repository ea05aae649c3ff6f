package circuitbreaker

import (
	"context"

	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/db"
)

// Sender mirrors worker.Sender to avoid an import cycle.
type Sender interface {
	Send(ctx context.Context, d *db.Delivery) (string, error)
	SupportsChannel(channel string) bool
}

// ProtectedSender runs every delivery through a breaker.
type ProtectedSender struct {
	sender  Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedSender(sender Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{sender: sender, breaker: breaker, logger: logger}
}

// Send returns an *OpenError without calling the transport while the breaker is open.
func (p *ProtectedSender) Send(ctx context.Context, d *db.Delivery) (string, error) {
	if err := p.breaker.Allow(); err != nil {
		p.logger.Debug("circuit breaker rejected delivery",
			zap.String("breaker", p.breaker.Name()),
			zap.String("id", d.ID.String()),
			zap.String("channel", d.Channel),
		)
		return "", err
	}

	ref, err := p.sender.Send(ctx, d)
	p.breaker.Record(err)
	return ref, err
}

func (p *ProtectedSender) SupportsChannel(channel string) bool {
	return p.sender.SupportsChannel(channel)
}

// Breaker returns the underlying circuit breaker.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
