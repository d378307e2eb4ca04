package store

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/logger"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

func init() {
	Register("redis", func(cfg *config.Config) (Backend, error) {
		return NewRedisBackend(context.Background(), cfg.Table.Redis)
	})
}

// Each flow is a redis hash. The scripts keep create-if-absent and
// update-only-if-present atomic on the server.
var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

	incrScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
return redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
`)

	setScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)
)

// RedisBackend stores flow records as redis hashes under a key prefix.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to redis, retrying the initial ping for a short while.
func NewRedisBackend(ctx context.Context, cfg config.RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	b := backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(10 * time.Second))
	err := backoff.Retry(func() error {
		return client.Ping(ctx).Err()
	}, backoff.WithContext(b, ctx))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Connected to redis", "addr", cfg.Addr, "prefix", cfg.KeyPrefix)
	return &RedisBackend{client: client, prefix: cfg.KeyPrefix}, nil
}

func (r *RedisBackend) key(k string) string {
	return r.prefix + k
}

func (r *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n == 1, nil
}

func (r *RedisBackend) Create(ctx context.Context, key string, fields map[string]string) (bool, error) {
	args := make([]interface{}, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	if len(args) == 0 {
		return false, fmt.Errorf("redis create %s: no fields", key)
	}
	n, err := createScript.Run(ctx, r.client, []string{r.key(key)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("redis create %s: %w", key, err)
	}
	return n == 1, nil
}

func (r *RedisBackend) IncrementField(ctx context.Context, key, field string, by int64) (int64, error) {
	n, err := incrScript.Run(ctx, r.client, []string{r.key(key)}, field, by).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis increment %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("redis increment %s.%s: %w", key, field, err)
	}
	return n, nil
}

func (r *RedisBackend) SetField(ctx context.Context, key, field, value string) error {
	err := setScript.Run(ctx, r.client, []string{r.key(key)}, field, value).Err()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis set %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("redis set %s.%s: %w", key, field, err)
	}
	return nil
}

func (r *RedisBackend) GetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := r.client.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return fields, nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// ListKeys walks the key prefix with SCAN.
func (r *RedisBackend) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 512).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
