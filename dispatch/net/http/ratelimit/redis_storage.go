package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	libRedis "github.com/LerianStudio/lib-dispatch/dispatch/redis"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces limiter counters in Redis.
	DefaultKeyPrefix = "dispatch:ratelimit:"

	scanBatchSize    = 100
	defaultOpTimeout = 2 * time.Second
)

// RedisStorage implements fiber.Storage on a dispatch Redis client so that
// every service replica shares the same limiter counters.
type RedisStorage struct {
	client    *libRedis.Client
	prefix    string
	opTimeout time.Duration
}

// NewRedisStorage returns a storage backed by client, or nil when client is nil.
// An empty prefix selects DefaultKeyPrefix.
func NewRedisStorage(client *libRedis.Client, prefix string) *RedisStorage {
	if client == nil {
		return nil
	}

	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &RedisStorage{client: client, prefix: prefix, opTimeout: defaultOpTimeout}
}

func (storage *RedisStorage) conn() (redis.UniversalClient, context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storage.opTimeout)

	client, err := storage.client.GetClient(ctx)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("get redis client: %w", err)
	}

	return client, ctx, cancel, nil
}

// Get returns the value stored under key, or nil when it does not exist.
func (storage *RedisStorage) Get(key string) ([]byte, error) {
	if storage == nil || storage.client == nil {
		return nil, nil
	}

	client, ctx, cancel, err := storage.conn()
	if err != nil {
		return nil, err
	}
	defer cancel()

	val, err := client.Get(ctx, storage.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	return val, nil
}

// Set stores val under key. A zero exp keeps the key forever.
// Empty keys and values are ignored.
func (storage *RedisStorage) Set(key string, val []byte, exp time.Duration) error {
	if storage == nil || storage.client == nil || key == "" || len(val) == 0 {
		return nil
	}

	client, ctx, cancel, err := storage.conn()
	if err != nil {
		return err
	}
	defer cancel()

	if err := client.Set(ctx, storage.prefix+key, val, exp).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes key. Missing keys are not an error.
func (storage *RedisStorage) Delete(key string) error {
	if storage == nil || storage.client == nil {
		return nil
	}

	client, ctx, cancel, err := storage.conn()
	if err != nil {
		return err
	}
	defer cancel()

	if err := client.Del(ctx, storage.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}

	return nil
}

// Reset deletes every key under the storage prefix.
func (storage *RedisStorage) Reset() error {
	if storage == nil || storage.client == nil {
		return nil
	}

	client, ctx, cancel, err := storage.conn()
	if err != nil {
		return err
	}
	defer cancel()

	var cursor uint64

	for {
		keys, next, err := client.Scan(ctx, cursor, storage.prefix+"*", scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}

		if len(keys) > 0 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis batch delete: %w", err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close is a no-op; the Redis client belongs to the service lifecycle.
func (*RedisStorage) Close() error {
	return nil
}
