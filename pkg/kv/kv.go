package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("kv: key not found")
	ErrConflict = errors.New("kv: compare-and-set conflict")
)

// Store is the key-value abstraction every trading store sits on. Values are
// opaque bytes. CompareAndSwap is the only primitive used for read-modify-write
// so concurrent cadences cannot lose each other's updates.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// CompareAndSwap replaces the value at key with next only if the current
	// value equals prev. A nil prev means the key must be absent; a nil next
	// deletes the key.
	CompareAndSwap(ctx context.Context, key string, prev, next []byte, ttl time.Duration) (bool, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
	Close() error
}

// GetJSON loads key into dest and returns the raw bytes for a later
// CompareAndSwap.
func GetJSON(ctx context.Context, s Store, key string, dest interface{}) ([]byte, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return raw, nil
}

// SwapJSON encodes next and swaps it in against prev, returning ErrConflict
// when another writer got there first.
func SwapJSON(ctx context.Context, s Store, key string, prev []byte, next interface{}, ttl time.Duration) error {
	var data []byte
	if next != nil {
		var err error
		if data, err = json.Marshal(next); err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
	}
	ok, err := s.CompareAndSwap(ctx, key, prev, data, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// Key joins key parts with ':'.
func Key(parts ...string) string {
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	b := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			b = append(b, ':')
		}
		b = append(b, p...)
	}
	return string(b)
}
