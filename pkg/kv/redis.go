package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// casScript: ARGV = has_prev, prev, has_next, next, ttl_ms.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '0' then
  if cur then return 0 end
else
  if (not cur) or cur ~= ARGV[2] then return 0 end
end
if ARGV[3] == '0' then
  redis.call('DEL', KEYS[1])
  return 1
end
local ttl = tonumber(ARGV[5])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[4], 'PX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[4])
end
return 1
`)

var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore implements Store on Redis. Compare-and-swap and unlock run as
// Lua scripts so they are atomic across instances.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(opts ...RedisOption) (*RedisStore, error) {
	cfg := &RedisConfig{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
		MinIdleConns: 2,
		Prefix:       "autotrader",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		PoolTimeout:  cfg.PoolTimeout,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Client() *redis.Client { return s.client }

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.wrapKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.wrapKey(key), value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	wrapped := make([]string, len(keys))
	for i, k := range keys {
		wrapped[i] = s.wrapKey(k)
	}
	return s.client.Del(ctx, wrapped...).Err()
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, prev, next []byte, ttl time.Duration) (bool, error) {
	hasPrev, hasNext := "1", "1"
	if prev == nil {
		hasPrev = "0"
	}
	if next == nil {
		hasNext = "0"
	}
	n, err := casScript.Run(ctx, s.client, []string{s.wrapKey(key)},
		hasPrev, string(prev), hasNext, string(next), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis cas %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.wrapKey(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, s.unwrapKey(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *RedisStore) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.wrapKey(key), token, ttl).Result()
}

func (s *RedisStore) Unlock(ctx context.Context, key, token string) error {
	return unlockScript.Run(ctx, s.client, []string{s.wrapKey(key)}, token).Err()
}

func (s *RedisStore) wrapKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *RedisStore) unwrapKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.prefix+":")
}
