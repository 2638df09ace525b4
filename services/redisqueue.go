package services

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisQueue publishes queue messages onto Redis lists, consumed by the
// upload worker pool.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	return &RedisQueue{client: client, prefix: prefix}
}

// Publish pushes data onto the destination list. The returned id is the list
// name and the list length after the push.
func (q *RedisQueue) Publish(ctx context.Context, destination string, data []byte) (string, error) {
	key := q.prefix + destination
	n, err := q.client.LPush(ctx, key, data).Result()
	if err != nil {
		return "", fmt.Errorf("redis lpush %s: %w", key, err)
	}
	return fmt.Sprintf("%s:%d", key, n), nil
}
