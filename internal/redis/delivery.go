package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DeliveredTTL outlives the relay's stale claim window several times over.
	DeliveredTTL = 7 * 24 * time.Hour

	// sendingTTL bounds how long a crashed relay blocks a row.
	sendingTTL = 5 * time.Minute

	sendingMarker = "sending"
)

// ErrInFlight means another relay is sending the row right now.
var ErrInFlight = errors.New("delivery already in flight")

// DeliveryRecord remembers that an outbox row reached its transport.
type DeliveryRecord struct {
	ProviderRef string `json:"provider_ref,omitempty"`
	DeliveredAt int64  `json:"delivered_at"`
}

// DeliveryGuard prevents an outbox row being handed to a transport twice when
// the relay dies between sending and marking the row sent.
type DeliveryGuard struct {
	client *Client
	logger *zap.Logger
}

// NewDeliveryGuard creates a delivery guard.
func NewDeliveryGuard(client *Client, logger *zap.Logger) *DeliveryGuard {
	return &DeliveryGuard{
		client: client,
		logger: logger,
	}
}

// Delivered returns the record for a row that was already sent, or nil.
// A row currently being sent reports ErrInFlight.
func (g *DeliveryGuard) Delivered(ctx context.Context, channel, id string) (*DeliveryRecord, error) {
	val, err := g.client.rdb.Get(ctx, g.client.key("delivery", channel, id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if val == sendingMarker {
		return nil, ErrInFlight
	}

	var rec DeliveryRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		g.logger.Error("failed to unmarshal delivery record",
			zap.String("channel", channel),
			zap.String("id", id),
			zap.Error(err),
		)
		return nil, fmt.Errorf("invalid delivery record: %w", err)
	}

	return &rec, nil
}

// Reserve marks a row as being sent using SET NX. It returns false when the
// row is already reserved or delivered.
func (g *DeliveryGuard) Reserve(ctx context.Context, channel, id string) (bool, error) {
	ok, err := g.client.rdb.SetNX(ctx, g.client.key("delivery", channel, id), sendingMarker, sendingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// CheckOrReserve returns the existing record for a delivered row, or reserves
// the row for sending and returns nil.
func (g *DeliveryGuard) CheckOrReserve(ctx context.Context, channel, id string) (*DeliveryRecord, error) {
	rec, err := g.Delivered(ctx, channel, id)
	if err != nil || rec != nil {
		return rec, err
	}

	reserved, err := g.Reserve(ctx, channel, id)
	if err != nil {
		return nil, err
	}
	if !reserved {
		// Lost the race; report whatever won it.
		rec, err := g.Delivered(ctx, channel, id)
		if err != nil || rec != nil {
			return rec, err
		}
		return nil, ErrInFlight
	}

	return nil, nil
}

// MarkDelivered replaces the reservation with a delivery record.
func (g *DeliveryGuard) MarkDelivered(ctx context.Context, channel, id, providerRef string) error {
	data, err := json.Marshal(&DeliveryRecord{
		ProviderRef: providerRef,
		DeliveredAt: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal delivery record: %w", err)
	}

	if err := g.client.rdb.Set(ctx, g.client.key("delivery", channel, id), data, DeliveredTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Release drops a reservation after a failed send so a retry can reserve again.
// Delivery records are left alone.
func (g *DeliveryGuard) Release(ctx context.Context, channel, id string) error {
	key := g.client.key("delivery", channel, id)

	val, err := g.client.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	if val != sendingMarker {
		return nil
	}

	if err := g.client.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
