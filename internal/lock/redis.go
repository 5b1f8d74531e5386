package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "tradegate:lock:"

// RedisStore backs the lock service with a shared Redis instance so
// multiple engine replicas serialize on the same locks. TTL expiry is
// handled by Redis key expiration.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis lock store over an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, redisKeyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock acquire %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis lock release %s: %w", key, err)
	}
	return nil
}
