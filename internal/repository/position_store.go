package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/pkg/kv"
)

const positionPrefix = "position"

// KVPositionStore holds active positions. Closed positions are deleted, not
// kept.
type KVPositionStore struct {
	kv kv.Store
}

var _ domrepo.PositionStore = (*KVPositionStore)(nil)

func NewKVPositionStore(store kv.Store) *KVPositionStore {
	return &KVPositionStore{kv: store}
}

func (s *KVPositionStore) Get(ctx context.Context, market string) (*models.Position, error) {
	var p models.Position
	if _, err := kv.GetJSON(ctx, s.kv, kv.Key(positionPrefix, market), &p); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get position %s: %w", market, err)
	}
	return &p, nil
}

func (s *KVPositionStore) List(ctx context.Context) ([]*models.Position, error) {
	keys, err := s.kv.Keys(ctx, positionPrefix+":")
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	out := make([]*models.Position, 0, len(keys))
	for _, k := range keys {
		var p models.Position
		if _, err := kv.GetJSON(ctx, s.kv, k, &p); err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("list positions: %w", err)
		}
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Market < out[j].Market })
	return out, nil
}

// Create fails with models.ErrPositionExists when the market already has one.
func (s *KVPositionStore) Create(ctx context.Context, p *models.Position) error {
	err := kv.SwapJSON(ctx, s.kv, kv.Key(positionPrefix, p.Market), nil, p, 0)
	if errors.Is(err, kv.ErrConflict) {
		return fmt.Errorf("create position %s: %w", p.Market, models.ErrPositionExists)
	}
	if err != nil {
		return fmt.Errorf("create position %s: %w", p.Market, err)
	}
	return nil
}

func (s *KVPositionStore) Update(ctx context.Context, prev, next *models.Position) error {
	raw, err := json.Marshal(prev)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}
	if err := kv.SwapJSON(ctx, s.kv, kv.Key(positionPrefix, next.Market), raw, next, 0); err != nil {
		return fmt.Errorf("update position %s: %w", next.Market, err)
	}
	return nil
}

func (s *KVPositionStore) Delete(ctx context.Context, prev *models.Position) error {
	raw, err := json.Marshal(prev)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}
	if err := kv.SwapJSON(ctx, s.kv, kv.Key(positionPrefix, prev.Market), raw, nil, 0); err != nil {
		return fmt.Errorf("delete position %s: %w", prev.Market, err)
	}
	return nil
}
