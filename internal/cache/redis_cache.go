package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"stokkita/backend/internal/domain"
)

const summaryKeyPrefix = "report:summary:"

type RedisCache struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, addr string, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) GetSummary(ctx context.Context, key string) (*domain.SalesSummary, error) {
	raw, err := c.client.Get(ctx, summaryKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}

	var summary domain.SalesSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		// A stale or truncated payload is worth a refetch, not an error.
		return nil, ErrMiss
	}
	return &summary, nil
}

func (c *RedisCache) SetSummary(ctx context.Context, key string, summary *domain.SalesSummary, ttl time.Duration) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, summaryKeyPrefix+key, raw, ttl).Err()
}

func (c *RedisCache) InvalidateSummaries(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, summaryKeyPrefix+"*", 100).Iterator()
	keys := make([]string, 0, 16)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
