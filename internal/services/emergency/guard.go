// Package emergency detects crashes and surges on short windows and turns
// them into immediate trade signals that bypass the regular pipeline.
package emergency

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	applogger "AutoTrader/pkg/logger"
)

// Thresholds are magnitudes; crash thresholds apply as negative returns.
type Thresholds struct {
	Crash1m          float64
	Crash3m          float64
	Crash5m          float64
	VolatilitySpike  float64
	Surge1m          float64
	Surge3m          float64
	VolumeSpike      float64
	MinBuyConfidence float64
	Cooldown         time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Crash1m:          0.025,
		Crash3m:          0.04,
		Crash5m:          0.06,
		VolatilitySpike:  2.0,
		Surge1m:          0.03,
		Surge3m:          0.05,
		VolumeSpike:      3.0,
		MinBuyConfidence: 0.70,
		Cooldown:         5 * time.Minute,
	}
}

type Guard struct {
	store domrepo.EmergencyStore
	th    Thresholds
	log   *applogger.Logger
}

func NewGuard(store domrepo.EmergencyStore, th Thresholds, log *applogger.Logger) *Guard {
	if log == nil {
		log = applogger.NewNop()
	}
	return &Guard{store: store, th: th, log: log}
}

// Check evaluates the window and, when a trigger fires and the market is not
// cooling down, atomically claims the cooldown and returns the signal. A nil
// signal with a nil error means nothing to do.
func (g *Guard) Check(ctx context.Context, m models.WindowMetrics, hasPosition bool, now time.Time) (*models.EmergencySignal, error) {
	var sig *models.EmergencySignal
	if hasPosition {
		sig = g.sellTrigger(m)
	} else {
		sig = g.buyTrigger(m)
	}
	if sig == nil {
		return nil, nil
	}

	st, err := g.store.Get(ctx, m.Market)
	if err != nil {
		return nil, fmt.Errorf("emergency %s: %w", m.Market, err)
	}
	if st.CoolingDown(now) {
		g.log.Debug("emergency suppressed by cooldown",
			applogger.Market(m.Market),
			applogger.String("reason", sig.Reason),
			applogger.Time("cooldown_until", st.CooldownUntil),
		)
		return nil, nil
	}

	claimed, err := g.store.Claim(ctx, &models.EmergencyState{
		Market:        m.Market,
		CooldownUntil: now.Add(g.th.Cooldown),
		LastReason:    sig.Reason,
		LastAction:    sig.Action,
		TriggeredAt:   now,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("emergency %s: %w", m.Market, err)
	}
	if !claimed {
		return nil, nil
	}

	sig.Metrics = m
	sig.TriggeredAt = now
	g.log.Warn("emergency triggered",
		applogger.Market(m.Market),
		applogger.String("action", string(sig.Action)),
		applogger.String("reason", sig.Reason),
		applogger.Float64("confidence", sig.Confidence),
	)
	return sig, nil
}

// sellTrigger returns the first crash condition met, scored by how far past
// its threshold the move went.
func (g *Guard) sellTrigger(m models.WindowMetrics) *models.EmergencySignal {
	var reasons []string
	severity := 0.0

	check := func(name string, ret, threshold float64) {
		if ret <= -threshold {
			reasons = append(reasons, fmt.Sprintf("%s %.2f%%", name, ret*100))
			severity = math.Max(severity, -ret/threshold)
		}
	}
	check("crash_1m", m.Return1m, g.th.Crash1m)
	check("crash_3m", m.Return3m, g.th.Crash3m)
	check("crash_5m", m.Return5m, g.th.Crash5m)

	if m.VolatilityRatio >= g.th.VolatilitySpike && m.Falling {
		reasons = append(reasons, fmt.Sprintf("volatility_spike %.1fx falling", m.VolatilityRatio))
		severity = math.Max(severity, m.VolatilityRatio/g.th.VolatilitySpike)
	}
	if len(reasons) == 0 {
		return nil
	}
	return &models.EmergencySignal{
		Market:     m.Market,
		Action:     models.ActionSell,
		Confidence: math.Min(0.99, 0.80+0.05*(severity-1)),
		Reason:     strings.Join(reasons, ", "),
	}
}

func (g *Guard) buyTrigger(m models.WindowMetrics) *models.EmergencySignal {
	if m.VolumeMultiple < g.th.VolumeSpike {
		return nil
	}

	var reason string
	var magnitude float64
	switch {
	case m.Return1m >= g.th.Surge1m:
		reason = fmt.Sprintf("surge_1m %.2f%% volume %.1fx", m.Return1m*100, m.VolumeMultiple)
		magnitude = m.Return1m / g.th.Surge1m
	case m.Return3m >= g.th.Surge3m:
		reason = fmt.Sprintf("surge_3m %.2f%% volume %.1fx", m.Return3m*100, m.VolumeMultiple)
		magnitude = m.Return3m / g.th.Surge3m
	default:
		return nil
	}

	conf := BuyConfidence(magnitude, m.VolumeMultiple/g.th.VolumeSpike)
	if conf < g.th.MinBuyConfidence {
		g.log.Debug("emergency buy suppressed: low confidence",
			applogger.Market(m.Market),
			applogger.Float64("confidence", conf),
			applogger.String("reason", reason),
		)
		return nil
	}
	return &models.EmergencySignal{
		Market:     m.Market,
		Action:     models.ActionBuy,
		Confidence: conf,
		Reason:     reason,
	}
}

// BuyConfidence maps how far the return and the volume exceed their
// thresholds (1.0 = exactly at threshold) to a confidence. A move that only
// just clears both thresholds scores 0.60.
func BuyConfidence(returnMultiple, volumeMultiple float64) float64 {
	c := 0.60 + 0.10*(returnMultiple-1) + 0.05*(volumeMultiple-1)
	return math.Max(0, math.Min(0.99, c))
}
