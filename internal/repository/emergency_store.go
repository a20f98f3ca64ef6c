package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/pkg/kv"
)

const emergencyPrefix = "emergency"

// KVEmergencyStore keeps cooldown state. The record outlives its cooldown so
// the last trigger stays visible to operators.
type KVEmergencyStore struct {
	kv        kv.Store
	retention time.Duration
}

var _ domrepo.EmergencyStore = (*KVEmergencyStore)(nil)

func NewKVEmergencyStore(store kv.Store) *KVEmergencyStore {
	return &KVEmergencyStore{kv: store, retention: 24 * time.Hour}
}

func (s *KVEmergencyStore) Get(ctx context.Context, market string) (*models.EmergencyState, error) {
	var st models.EmergencyState
	if _, err := kv.GetJSON(ctx, s.kv, kv.Key(emergencyPrefix, market), &st); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get emergency state %s: %w", market, err)
	}
	return &st, nil
}

func (s *KVEmergencyStore) Claim(ctx context.Context, next *models.EmergencyState, now time.Time) (bool, error) {
	key := kv.Key(emergencyPrefix, next.Market)
	ttl := next.CooldownUntil.Sub(now) + s.retention

	for attempt := 0; attempt < 3; attempt++ {
		var cur models.EmergencyState
		raw, err := kv.GetJSON(ctx, s.kv, key, &cur)
		switch {
		case errors.Is(err, kv.ErrNotFound):
			raw = nil
		case err != nil:
			return false, fmt.Errorf("claim emergency %s: %w", next.Market, err)
		case cur.CoolingDown(now):
			return false, nil
		}

		err = kv.SwapJSON(ctx, s.kv, key, raw, next, ttl)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, kv.ErrConflict) {
			return false, fmt.Errorf("claim emergency %s: %w", next.Market, err)
		}
	}
	// lost every race: someone else just claimed the cooldown
	return false, nil
}
