package idempotency

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "idem:"

// RedisGuard is a distributed reservation store shared by all webhook
// replicas: SET NX with a TTL makes the reservation atomic across processes.
// Redis expiry replaces an explicit sweep.
type RedisGuard struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *goredis.Client, ttl time.Duration) (*RedisGuard, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &RedisGuard{
		client: client,
		ttl:    ttl,
	}, nil
}

func (g *RedisGuard) Reserve(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("idempotency key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	reserved, err := g.client.SetNX(ctx, keyPrefix+key, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return reserved, nil
}

func (g *RedisGuard) IsReserved(ctx context.Context, key string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	count, err := g.client.Exists(ctx, keyPrefix+strings.TrimSpace(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to inspect idempotency key: %w", err)
	}
	return count > 0, nil
}
