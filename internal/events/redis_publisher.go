package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher announces events over Redis pub/sub channels.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(addr, password string) *RedisPublisher {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisPublisher{client: c}
}

// NewRedisPublisherFromClient wraps an existing client, sharing its pool.
func NewRedisPublisherFromClient(c *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: c}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel, eventType string, data map[string]any) error {
	env := NewEnvelope(eventType, data)
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", eventType, err)
	}
	if err := p.client.Publish(ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", eventType, channel, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return p.client.Close() }
