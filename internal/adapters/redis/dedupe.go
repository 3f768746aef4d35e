package redisad

import (
	"context"
	"time"
)

const dedupePrefix = "rephub:seen:"

func (r *Cache) Seen(ctx context.Context, key string) (bool, error) {
	n, err := r.c.Exists(ctx, dedupePrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Cache) Mark(ctx context.Context, key string, ttl time.Duration) error {
	return r.c.SetNX(ctx, dedupePrefix+key, 1, ttl).Err()
}
