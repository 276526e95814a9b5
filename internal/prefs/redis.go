package prefs

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/zatomos/krab-relay/internal/config"
)

const defaultRedisPrefix = "krab:prefs"

// RedisStore implements Store on top of Redis string keys
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store with its own Redis connection
func NewRedisStore(cfg *config.RedisConfig) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client: rdb,
		prefix: defaultRedisPrefix,
	}
}

// NewRedisStoreFromClient creates a store sharing an existing client
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Ping tests the Redis connection
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// buildKey scopes a preference key under the store prefix
func (r *RedisStore) buildKey(key string) string {
	return fmt.Sprintf("%s:%s", r.prefix, key)
}

func (r *RedisStore) GetString(ctx context.Context, key string) (string, bool, error) {
	redisKey := r.buildKey(key)

	result, err := r.client.Get(ctx, redisKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get key %s from Redis: %w", redisKey, err)
	}

	return result, true, nil
}

func (r *RedisStore) SetString(ctx context.Context, key, value string) error {
	redisKey := r.buildKey(key)

	if err := r.client.Set(ctx, redisKey, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s in Redis: %w", redisKey, err)
	}
	return nil
}

func (r *RedisStore) GetBool(ctx context.Context, key string) (bool, error) {
	v, ok, err := r.GetString(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return parseBool(v), nil
}

func (r *RedisStore) SetBool(ctx context.Context, key string, value bool) error {
	return r.SetString(ctx, key, strconv.FormatBool(value))
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	redisKey := r.buildKey(key)

	if err := r.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s from Redis: %w", redisKey, err)
	}
	return nil
}

// Flush removes every key under the store prefix
func (r *RedisStore) Flush(ctx context.Context) error {
	pattern := r.prefix + ":*"

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan for keys with pattern %s: %w", pattern, err)
	}

	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}

	return nil
}
