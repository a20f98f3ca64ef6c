package usecase

import (
	"context"
	"fmt"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
)

// CandlesUseCase serves candle history to the ops API.
type CandlesUseCase struct {
	store domrepo.CandleStore
}

func NewCandlesUseCase(store domrepo.CandleStore) *CandlesUseCase {
	return &CandlesUseCase{store: store}
}

type GetCandlesParams struct {
	Market    string
	Timeframe models.Timeframe
	Limit     int
}

type GetCandlesResult struct {
	Market    string          `json:"market"`
	Timeframe string          `json:"timeframe"`
	Count     int             `json:"count"`
	Candles   []models.Candle `json:"candles"`
}

func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if p.Market == "" {
		return nil, fmt.Errorf("market required")
	}
	if p.Timeframe == "" {
		p.Timeframe = models.TF1m
	}
	if !p.Timeframe.Valid() {
		return nil, fmt.Errorf("unsupported timeframe %q", p.Timeframe)
	}
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Limit > 1000 {
		p.Limit = 1000
	}

	candles, err := uc.store.GetLatestNCandles(ctx, p.Market, p.Limit, p.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	return &GetCandlesResult{
		Market:    p.Market,
		Timeframe: string(p.Timeframe),
		Count:     len(candles),
		Candles:   candles,
	}, nil
}
