package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "tutor:ratelimit:"

// RedisStore keeps counters in Redis and lets key expiry retire elapsed windows.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStoreFromURL connects to redisURL and verifies the connection.
func NewRedisStoreFromURL(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	slog.Info("Rate limit store connected to Redis", "addr", opts.Addr)
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the counter value, or 0 when the key is absent or expired.
func (s *RedisStore) Get(ctx context.Context, key string) (int, error) {
	n, err := s.client.Get(ctx, redisKeyPrefix+key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	return n, nil
}

// Put writes the counter with a TTL.
func (s *RedisStore) Put(ctx context.Context, key string, value int, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Incr bumps the counter and refreshes its expiry atomically.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKeyPrefix+key)
	pipe.PExpire(ctx, redisKeyPrefix+key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return int(incr.Val()), nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
