package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"phonepos/backend/internal/domain"
)

type RedisEntityCache struct {
	client *redis.Client
}

func NewRedisEntityCache(addr string, password string, db int) *RedisEntityCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisEntityCache{client: client}
}

func (c *RedisEntityCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisEntityCache) Close() error {
	return c.client.Close()
}

func (c *RedisEntityCache) Get(ctx context.Context, role domain.Role) ([]domain.Entity, bool, error) {
	val, err := c.client.Get(ctx, entitiesKey(role)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entities []domain.Entity
	if err := json.Unmarshal([]byte(val), &entities); err != nil {
		return nil, false, err
	}
	return entities, true, nil
}

func (c *RedisEntityCache) Set(ctx context.Context, role domain.Role, entities []domain.Entity, ttl time.Duration) error {
	if entities == nil {
		entities = []domain.Entity{}
	}
	payload, err := json.Marshal(entities)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, entitiesKey(role), payload, ttl).Err()
}

func (c *RedisEntityCache) Invalidate(ctx context.Context, roles ...domain.Role) error {
	if len(roles) == 0 {
		return nil
	}
	keys := make([]string, 0, len(roles))
	for _, role := range roles {
		keys = append(keys, entitiesKey(role))
	}
	return c.client.Del(ctx, keys...).Err()
}
