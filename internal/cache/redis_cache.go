package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"stokku/backend/internal/domain"
)

type RedisHistoryCache struct {
	client *redis.Client
}

func NewRedisHistoryCache(addr string, password string, db int) *RedisHistoryCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisHistoryCache{client: client}
}

func (c *RedisHistoryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisHistoryCache) Close() error {
	return c.client.Close()
}

func (c *RedisHistoryCache) Get(ctx context.Context, key string) ([]domain.SalesRecordView, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var records []domain.SalesRecordView
	if err := json.Unmarshal([]byte(val), &records); err != nil {
		return nil, false, err
	}
	return records, true, nil
}

func (c *RedisHistoryCache) Set(ctx context.Context, key string, records []domain.SalesRecordView, ttl time.Duration) error {
	if records == nil {
		return nil
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisHistoryCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
