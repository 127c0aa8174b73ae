package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"
	extErrors "github.com/pkg/errors"
)

// EventLog remembers processed event ids so duplicate webhook deliveries can
// be acknowledged without re-running reconciliation. This is an optimization
// on top of the upsert semantics, not the idempotency boundary itself.
type EventLog interface {
	// Seen reports whether the event id was already processed successfully
	Seen(ctx context.Context, eventID string) (bool, error)
	// MarkProcessed records the event id after successful reconciliation
	MarkProcessed(ctx context.Context, eventID string) error
}

const (
	eventKeyPrefix    = "billing:event:"
	eventKeyRetention = time.Hour * 24
)

// RedisEventLog is an EventLog backed by Redis with a bounded retention,
// long enough to cover Stripe's redelivery schedule
type RedisEventLog struct {
	Redis redis.UniversalClient
}

// NewRedisEventLog returns an EventLog backed by the given Redis client
func NewRedisEventLog(rdb redis.UniversalClient) (*RedisEventLog, error) {
	if rdb == nil {
		return nil, fmt.Errorf("nil Redis client is invalid")
	}
	return &RedisEventLog{
		Redis: rdb,
	}, nil
}

func (l *RedisEventLog) Seen(ctx context.Context, eventID string) (bool, error) {
	num, err := l.Redis.Exists(eventKeyPrefix + eventID).Result()
	if err != nil {
		return false, extErrors.Wrap(err, "Cannot check event log")
	}
	return num > 0, nil
}

func (l *RedisEventLog) MarkProcessed(ctx context.Context, eventID string) error {
	if err := l.Redis.Set(eventKeyPrefix+eventID, 1, eventKeyRetention).Err(); err != nil {
		return extErrors.Wrap(err, "Cannot mark event as processed")
	}
	return nil
}
