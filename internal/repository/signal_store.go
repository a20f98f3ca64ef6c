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

const signalPrefix = "signal"

// KVSignalStore keeps one SignalRecord per market, expiring with the record.
type KVSignalStore struct {
	kv  kv.Store
	now func() time.Time
}

var _ domrepo.SignalStore = (*KVSignalStore)(nil)

func NewKVSignalStore(store kv.Store) *KVSignalStore {
	return &KVSignalStore{kv: store, now: time.Now}
}

// WithClock overrides the clock used for expiry checks.
func (s *KVSignalStore) WithClock(now func() time.Time) *KVSignalStore {
	s.now = now
	return s
}

func (s *KVSignalStore) Get(ctx context.Context, market string) (*models.SignalRecord, error) {
	var rec models.SignalRecord
	if _, err := kv.GetJSON(ctx, s.kv, kv.Key(signalPrefix, market), &rec); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get signal record %s: %w", market, err)
	}
	if rec.Expired(s.now()) {
		return nil, nil
	}
	return &rec, nil
}

// Swap writes next if the stored record still equals prev. An expired stored
// record counts as absent.
func (s *KVSignalStore) Swap(ctx context.Context, prev, next *models.SignalRecord) error {
	if next == nil {
		return fmt.Errorf("swap signal record: nil record")
	}
	key := kv.Key(signalPrefix, next.Market)

	prevRaw, err := s.currentRaw(ctx, key, prev)
	if err != nil {
		return err
	}

	ttl := next.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("swap signal record %s: already expired", next.Market)
	}
	rec := *next
	rec.RecordedAt = rec.RecordedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	if err := kv.SwapJSON(ctx, s.kv, key, prevRaw, rec, ttl); err != nil {
		return fmt.Errorf("swap signal record %s: %w", next.Market, err)
	}
	return nil
}

// currentRaw resolves the bytes the swap must compare against.
func (s *KVSignalStore) currentRaw(ctx context.Context, key string, prev *models.SignalRecord) ([]byte, error) {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		if prev != nil {
			return nil, kv.ErrConflict
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cur models.SignalRecord
	if err := json.Unmarshal(raw, &cur); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	switch {
	case prev == nil && cur.Expired(s.now()):
		return raw, nil
	case prev == nil:
		return nil, kv.ErrConflict
	case cur.Direction != prev.Direction || cur.Confidence != prev.Confidence || !cur.RecordedAt.Equal(prev.RecordedAt):
		return nil, kv.ErrConflict
	}
	return raw, nil
}

func (s *KVSignalStore) Delete(ctx context.Context, market string) error {
	return s.kv.Delete(ctx, kv.Key(signalPrefix, market))
}
