package emergency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/repository"
	"AutoTrader/pkg/kv"
)

func newGuard(t *testing.T) *Guard {
	t.Helper()
	mem := kv.NewMemoryStore(kv.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = mem.Close() })
	return NewGuard(repository.NewKVEmergencyStore(mem), DefaultThresholds(), nil)
}

func TestSellTriggers(t *testing.T) {
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		m       models.WindowMetrics
		trigger bool
	}{
		{"1m crash", models.WindowMetrics{Return1m: -0.026}, true},
		{"1m at threshold", models.WindowMetrics{Return1m: -0.025}, true},
		{"3m crash", models.WindowMetrics{Return3m: -0.041}, true},
		{"5m crash", models.WindowMetrics{Return5m: -0.06}, true},
		{"volatility while falling", models.WindowMetrics{Return1m: -0.001, VolatilityRatio: 2.0, Falling: true}, true},
		{"volatility while rising", models.WindowMetrics{Return1m: 0.01, VolatilityRatio: 3.0}, false},
		{"mild dip", models.WindowMetrics{Return1m: -0.02, Return3m: -0.03, Return5m: -0.05}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGuard(t)
			tt.m.Market = "KRW-BTC"
			sig, err := g.Check(context.Background(), tt.m, true, now)
			require.NoError(t, err)
			if !tt.trigger {
				assert.Nil(t, sig)
				return
			}
			require.NotNil(t, sig)
			assert.Equal(t, models.ActionSell, sig.Action)
			assert.GreaterOrEqual(t, sig.Confidence, 0.80)
		})
	}
}

func TestCrashWithoutPositionDoesNothing(t *testing.T) {
	g := newGuard(t)
	sig, err := g.Check(context.Background(),
		models.WindowMetrics{Market: "KRW-BTC", Return1m: -0.10, VolumeMultiple: 10}, false, time.Now())
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestBuyTriggers(t *testing.T) {
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		m       models.WindowMetrics
		hasPos  bool
		trigger bool
	}{
		// 0.60 + 0.10*(2-1) + 0.05*(3-1) = 0.80
		{"strong 1m surge", models.WindowMetrics{Return1m: 0.06, VolumeMultiple: 9}, false, true},
		{"strong 3m surge", models.WindowMetrics{Return3m: 0.10, VolumeMultiple: 9}, false, true},
		{"surge without volume", models.WindowMetrics{Return1m: 0.10, VolumeMultiple: 2.9}, false, false},
		// 0.60 + 0.10*0.1 + 0.05*0 = 0.61
		{"barely over thresholds", models.WindowMetrics{Return1m: 0.033, VolumeMultiple: 3}, false, false},
		{"surge while holding", models.WindowMetrics{Return1m: 0.06, VolumeMultiple: 9}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGuard(t)
			tt.m.Market = "KRW-SOL"
			sig, err := g.Check(context.Background(), tt.m, tt.hasPos, now)
			require.NoError(t, err)
			if !tt.trigger {
				assert.Nil(t, sig)
				return
			}
			require.NotNil(t, sig)
			assert.Equal(t, models.ActionBuy, sig.Action)
			assert.GreaterOrEqual(t, sig.Confidence, 0.70)
		})
	}
}

func TestCooldownSuppressesRepeatTriggers(t *testing.T) {
	ctx := context.Background()
	g := newGuard(t)
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	crash := models.WindowMetrics{Market: "KRW-ETH", Return1m: -0.05}

	sig, err := g.Check(ctx, crash, true, now)
	require.NoError(t, err)
	require.NotNil(t, sig)

	sig, err = g.Check(ctx, crash, true, now.Add(4*time.Minute+59*time.Second))
	require.NoError(t, err)
	assert.Nil(t, sig, "within cooldown")

	// a buy trigger is suppressed by the same cooldown
	sig, err = g.Check(ctx, models.WindowMetrics{Market: "KRW-ETH", Return1m: 0.08, VolumeMultiple: 10}, false, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, sig)

	sig, err = g.Check(ctx, crash, true, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.NotNil(t, sig)
}

func TestBuyConfidence(t *testing.T) {
	assert.InDelta(t, 0.60, BuyConfidence(1, 1), 1e-9)
	assert.InDelta(t, 0.80, BuyConfidence(2, 3), 1e-9)
	assert.Equal(t, 0.99, BuyConfidence(10, 10))
}
