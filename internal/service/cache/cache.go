package cache

import (
	"context"
	"errors"
	"time"

	"AutoTrader/pkg/kv"
)

// BytesCache is a minimal cache API storing raw bytes with TTL.
type BytesCache interface {
	GetBytes(ctx context.Context, key string) (b []byte, ok bool, err error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// KVCache stores entries in the shared key-value store under a prefix, so
// every replica behind the ops API sees the same cached response.
type KVCache struct {
	store  kv.Store
	prefix string
}

var _ BytesCache = (*KVCache)(nil)

func NewKVCache(store kv.Store, prefix string) *KVCache {
	if prefix == "" {
		prefix = "httpcache"
	}
	return &KVCache{store: store, prefix: prefix}
}

func (c *KVCache) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.store.Get(ctx, kv.Key(c.prefix, key))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *KVCache) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.store.Set(ctx, kv.Key(c.prefix, key), value, ttl)
}
