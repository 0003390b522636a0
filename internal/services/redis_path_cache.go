package services

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sitephoto/server/internal/observability"
)

const redisPathCachePrefix = "sitephoto:path:"

// RedisPathCache shares the path cache between server instances. Redis
// errors degrade to cache misses.
type RedisPathCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPathCache creates a Redis-backed cache with the given TTL
func NewRedisPathCache(client *redis.Client, ttl time.Duration) *RedisPathCache {
	return &RedisPathCache{client: client, ttl: ttl}
}

// ConnectRedis opens a client and checks it with a ping
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *RedisPathCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, redisPathCachePrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			observability.WithContext(ctx).WithError(err).Warn("path cache get failed")
		}
		return "", false
	}
	return val, true
}

func (c *RedisPathCache) Set(ctx context.Context, key, value string) {
	if err := c.client.Set(ctx, redisPathCachePrefix+key, value, c.ttl).Err(); err != nil {
		observability.WithContext(ctx).WithError(err).Warn("path cache set failed")
	}
}

func (c *RedisPathCache) Invalidate(ctx context.Context, key string) {
	if err := c.client.Del(ctx, redisPathCachePrefix+key).Err(); err != nil {
		observability.WithContext(ctx).WithError(err).Warn("path cache invalidate failed")
	}
}

// Clear deletes every key under the cache prefix
func (c *RedisPathCache) Clear(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, redisPathCachePrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		observability.WithContext(ctx).WithError(err).Warn("path cache scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		observability.WithContext(ctx).WithError(err).Warn("path cache clear failed")
	}
}
