package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, []string{"KRW-BTC", "KRW-ETH", "KRW-XRP", "KRW-SOL"}, c.Markets)
	assert.Equal(t, 0.80, c.Filter.HighConfidence)
	assert.Equal(t, 24*time.Hour, c.Filter.TTL)
	assert.Equal(t, 5*time.Minute, c.Emergency.Cooldown)
	assert.Equal(t, 0.04, c.Risk.HardStop)
	assert.Equal(t, 30*time.Minute, c.Risk.MaxHold)
	assert.Equal(t, 3, c.Trading.MaxOpenPositions)
	assert.InDelta(t, 1.0, c.Engines.Technical.Weight+c.Engines.MultiTimeframe.Weight+c.Engines.Model.Weight, 1e-9)
	assert.True(t, c.Engines.Model.Enabled)
}

func TestParseOverridesDefaults(t *testing.T) {
	raw := []byte(`
environment: production
markets: [KRW-BTC]
trading:
  max_open_positions: 1
risk:
  max_hold: 0s
engines:
  model:
    enabled: false
verification:
  enabled: true
  required: 1
  verifiers:
    - name: groq
      url: https://api.groq.com/openai/v1/chat/completions
      model: llama3-70b-8192
`)
	c, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, []string{"KRW-BTC"}, c.Markets)
	assert.Equal(t, 1, c.Trading.MaxOpenPositions)
	assert.Equal(t, time.Duration(0), c.Risk.MaxHold, "explicit zero disables the hold timeout")
	assert.False(t, c.Engines.Model.Enabled)
	require.Len(t, c.Verification.Verifiers, 1)
	assert.Equal(t, "openai", c.Verification.Verifiers[0].Style)
	assert.Equal(t, 30.0, c.Verification.Verifiers[0].RatePerMinute)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty markets", "markets: []"},
		{"unknown store", "store: {backend: etcd}"},
		{"inverted stops", "risk: {hard_stop: 0.02, immediate_cut: 0.03}"},
		{"two verifiers required, one configured", `
verification:
  enabled: true
  required: 2
  verifiers:
    - {name: a, url: "http://localhost:1", model: m}
`},
		{"telegram without token", "telegram: {enabled: true}"},
		{"lock lease shorter than a locked order pass", "trading: {lock_ttl: 60s, order_timeout: 10s, order_retries: 5}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: test\n"), 0o600))

	t.Setenv("AUTOTRADER_MARKETS", "KRW-BTC, KRW-DOGE")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"KRW-BTC", "KRW-DOGE"}, c.Markets)
	assert.Equal(t, "redis.internal", c.Store.Redis.Host)
	assert.Equal(t, 6380, c.Store.Redis.Port)
}
