package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/circuitbreaker"
	"github.com/keepon/remindd/internal/db"
	"github.com/keepon/remindd/internal/metrics"
	"github.com/keepon/remindd/internal/redis"
)

// Store is the outbox persistence the relay drains.
type Store interface {
	ClaimDeliveries(ctx context.Context, limit int) ([]*db.Delivery, error)
	MarkSent(ctx context.Context, d *db.Delivery) error
	MarkRetry(ctx context.Context, d *db.Delivery, lastError string, nextRetry time.Time) error
	MarkFailed(ctx context.Context, d *db.Delivery, lastError string) error
}

// Guard remembers which rows already reached a transport.
type Guard interface {
	CheckOrReserve(ctx context.Context, channel, id string) (*redis.DeliveryRecord, error)
	MarkDelivered(ctx context.Context, channel, id, providerRef string) error
	Release(ctx context.Context, channel, id string) error
}

// Relay polls the outbox tables and hands each row to its transport.
type Relay struct {
	store  Store
	sender Sender
	guard  Guard
	config Config
	logger *zap.Logger
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int

	// Now is the clock for retry times; nil uses time.Now.
	Now func() time.Time
}

// circuitRetryDelay defers a row rejected by a breaker that gave no retry time.
const circuitRetryDelay = time.Minute

var retryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// New creates a relay. guard may be nil, in which case rows are sent unguarded.
func New(store Store, sender Sender, guard Guard, cfg Config, logger *zap.Logger) *Relay {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Relay{
		store:  store,
		sender: sender,
		guard:  guard,
		config: cfg,
		logger: logger,
	}
}

func (r *Relay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started",
		zap.Duration("poll_interval", r.config.PollInterval),
		zap.Int("batch_size", r.config.BatchSize),
		zap.Bool("guarded", r.guard != nil),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopping")
			return
		case <-ticker.C:
			r.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch claims and delivers one batch, returning how many rows it claimed.
func (r *Relay) ProcessBatch(ctx context.Context) int {
	deliveries, err := r.store.ClaimDeliveries(ctx, r.config.BatchSize)
	if err != nil {
		r.logger.Error("failed to claim outbox deliveries", zap.Error(err))
		return 0
	}
	if len(deliveries) == 0 {
		return 0
	}

	metrics.SetDeliveriesInFlight(len(deliveries))
	defer metrics.SetDeliveriesInFlight(0)

	for _, d := range deliveries {
		r.processDelivery(ctx, d)
	}
	return len(deliveries)
}

func (r *Relay) processDelivery(ctx context.Context, d *db.Delivery) {
	start := r.config.Now()
	id := d.ID.String()

	reserved := false
	if r.guard != nil {
		rec, err := r.guard.CheckOrReserve(ctx, d.Channel, id)
		switch {
		case errors.Is(err, redis.ErrInFlight):
			// Left in processing; the stale claim window hands it back later.
			r.logger.Debug("delivery in flight elsewhere", zap.String("id", id), zap.String("channel", d.Channel))
			return
		case err != nil:
			r.logger.Warn("delivery guard unavailable, sending unguarded", zap.String("id", id), zap.Error(err))
		case rec != nil:
			metrics.RecordIdempotencyHit()
			r.logger.Info("delivery already sent, marking row",
				zap.String("id", id),
				zap.String("channel", d.Channel),
				zap.String("provider_ref", rec.ProviderRef),
			)
			r.markSent(ctx, d)
			return
		default:
			reserved = true
		}
	}

	ref, err := r.sender.Send(ctx, d)
	if err != nil {
		if reserved {
			if relErr := r.guard.Release(ctx, d.Channel, id); relErr != nil {
				r.logger.Warn("failed to release delivery reservation", zap.String("id", id), zap.Error(relErr))
			}
		}
		r.handleFailure(ctx, d, err)
		return
	}

	d.Attempt++
	if reserved {
		if err := r.guard.MarkDelivered(ctx, d.Channel, id, ref); err != nil {
			r.logger.Warn("failed to record delivery", zap.String("id", id), zap.Error(err))
		}
	}

	r.markSent(ctx, d)
	metrics.RecordDeliveryLatency(d.Channel, r.config.Now().Sub(start))
	r.logger.Info("outbox delivery sent",
		zap.String("id", id),
		zap.String("channel", d.Channel),
		zap.String("provider_ref", ref),
		zap.Int("attempt", d.Attempt),
	)
}

func (r *Relay) markSent(ctx context.Context, d *db.Delivery) {
	if err := r.store.MarkSent(ctx, d); err != nil {
		r.logger.Error("failed to mark delivery sent", zap.String("id", d.ID.String()), zap.Error(err))
		return
	}
	metrics.RecordDelivery(d.Channel, db.StatusSent)
}

func (r *Relay) handleFailure(ctx context.Context, d *db.Delivery, sendErr error) {
	id := d.ID.String()
	errMsg := sendErr.Error()

	// An open breaker never reached the transport, so it costs no attempt.
	if errors.Is(sendErr, circuitbreaker.ErrCircuitOpen) {
		retryAt := r.config.Now().Add(circuitRetryDelay)
		var open *circuitbreaker.OpenError
		if errors.As(sendErr, &open) && open.RetryAt.After(r.config.Now()) {
			retryAt = open.RetryAt
		}
		if err := r.store.MarkRetry(ctx, d, errMsg, retryAt); err != nil {
			r.logger.Error("failed to reschedule delivery", zap.String("id", id), zap.Error(err))
		}
		metrics.RecordDelivery(d.Channel, "deferred")
		return
	}

	d.Attempt++
	r.logger.Error("failed to send delivery",
		zap.Error(sendErr),
		zap.String("id", id),
		zap.String("channel", d.Channel),
		zap.Int("attempt", d.Attempt),
		zap.Bool("permanent", IsPermanent(sendErr)),
	)

	if IsPermanent(sendErr) || d.Attempt >= r.config.MaxRetries {
		if err := r.store.MarkFailed(ctx, d, errMsg); err != nil {
			r.logger.Error("failed to mark delivery failed", zap.String("id", id), zap.Error(err))
			return
		}
		metrics.RecordDelivery(d.Channel, db.StatusFailed)
		return
	}

	if err := r.store.MarkRetry(ctx, d, errMsg, r.nextRetry(d.Attempt)); err != nil {
		r.logger.Error("failed to schedule delivery retry", zap.String("id", id), zap.Error(err))
		return
	}
	metrics.RecordDelivery(d.Channel, "retry")
}

// nextRetry backs off by attempt number.
func (r *Relay) nextRetry(attempt int) time.Time {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(retryDelays) {
		idx = len(retryDelays) - 1
	}
	return r.config.Now().Add(retryDelays[idx])
}
