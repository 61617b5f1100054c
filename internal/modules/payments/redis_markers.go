package payments

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMarkers shares gate markers between replicas with SET NX PX.
type RedisMarkers struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisMarkers(client redis.UniversalClient, prefix string) *RedisMarkers {
	return &RedisMarkers{client: client, prefix: prefix}
}

func (s *RedisMarkers) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
}

func (s *RedisMarkers) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
