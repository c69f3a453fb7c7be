package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultEventTTL = 24 * time.Hour

// RedisEventDeduper remembers Stripe event ids so a redelivered event is
// acknowledged without being applied twice.
type RedisEventDeduper struct {
	Redis redis.Cmdable
	TTL   time.Duration
}

func NewRedisEventDeduper(rdb redis.Cmdable) *RedisEventDeduper {
	return &RedisEventDeduper{Redis: rdb, TTL: defaultEventTTL}
}

func eventKey(eventID string) string {
	return "webhook:event:" + eventID
}

// FirstDelivery claims eventID and reports whether this is the first time it
// has been seen within the TTL.
func (d *RedisEventDeduper) FirstDelivery(ctx context.Context, eventID string) (bool, error) {
	ttl := d.TTL
	if ttl <= 0 {
		ttl = defaultEventTTL
	}

	ok, err := d.Redis.SetNX(ctx, eventKey(eventID), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim webhook event %s: %w", eventID, err)
	}
	return ok, nil
}

// Forget releases the claim so Stripe's retry of a failed event is processed.
func (d *RedisEventDeduper) Forget(ctx context.Context, eventID string) error {
	if err := d.Redis.Del(ctx, eventKey(eventID)).Err(); err != nil {
		return fmt.Errorf("release webhook event %s: %w", eventID, err)
	}
	return nil
}
