package publish

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // e.g. "vitruvian"
}

// RedisPublisher keeps the latest value of each topic in a hash and
// publishes the JSON payload on a channel of the same name, in one pipeline.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	logger *log.Logger
}

var _ Publisher = (*RedisPublisher)(nil)

func NewRedisPublisher(ctx context.Context, cfg RedisConfig, logger *log.Logger) (*RedisPublisher, error) {
	if logger == nil {
		panic("RedisPublisher: logger cannot be nil")
	}
	if cfg.Addr == "" {
		return nil, errors.New("redis: address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Printf("RedisPublisher: Connected to %s", cfg.Addr)
	return &RedisPublisher{client: client, prefix: cfg.KeyPrefix, logger: logger}, nil
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) key(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + ":" + topic
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	key := p.key(msg.Topic)
	pipe := p.client.Pipeline()
	if len(msg.Fields) > 0 {
		pipe.HSet(ctx, key, msg.Fields)
	}
	pipe.Publish(ctx, key, msg.Payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", key, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
