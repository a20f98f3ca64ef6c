package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/pkg/kv"
)

const (
	orderPrefix   = "order"
	pendingPrefix = "pending"
)

// KVOrderStore is the idempotency ledger. A market with a PENDING order has a
// pointer key so the coordinator can find it before acting again.
type KVOrderStore struct {
	kv  kv.Store
	ttl time.Duration
}

var _ domrepo.OrderStore = (*KVOrderStore)(nil)

func NewKVOrderStore(store kv.Store, ttl time.Duration) *KVOrderStore {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &KVOrderStore{kv: store, ttl: ttl}
}

func (s *KVOrderStore) Get(ctx context.Context, key string) (*models.TradeOrder, error) {
	var o models.TradeOrder
	if _, err := kv.GetJSON(ctx, s.kv, kv.Key(orderPrefix, key), &o); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order %s: %w", key, err)
	}
	return &o, nil
}

func (s *KVOrderStore) Put(ctx context.Context, o *models.TradeOrder) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	if err := s.kv.Set(ctx, kv.Key(orderPrefix, o.IdempotencyKey), data, s.ttl); err != nil {
		return fmt.Errorf("put order %s: %w", o.IdempotencyKey, err)
	}

	pending := kv.Key(pendingPrefix, o.Market)
	if o.Status == models.OrderPending {
		return s.kv.Set(ctx, pending, []byte(o.IdempotencyKey), s.ttl)
	}
	if _, err := s.kv.CompareAndSwap(ctx, pending, []byte(o.IdempotencyKey), nil, 0); err != nil {
		return fmt.Errorf("clear pending %s: %w", o.Market, err)
	}
	return nil
}

func (s *KVOrderStore) Pending(ctx context.Context, market string) (*models.TradeOrder, error) {
	key, err := s.kv.Get(ctx, kv.Key(pendingPrefix, market))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending %s: %w", market, err)
	}
	return s.Get(ctx, string(key))
}
