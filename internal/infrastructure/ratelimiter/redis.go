package ratelimiter

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 500 * time.Millisecond

// RedisCache stores bucket state in Redis so every web replica sees the
// same budget per source.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) GetterSetter {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(key string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	v, err := c.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, ErrCacheMiss
	}
	return v, err
}

func (c *RedisCache) Set(key string, value int) error {
	return c.SetWithExpiration(key, value, 0)
}

func (c *RedisCache) SetWithExpiration(key string, value int, expiration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
