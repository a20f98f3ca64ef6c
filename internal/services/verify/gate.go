// Package verify asks one or two external verifiers to confirm a decision
// before it is executed.
package verify

import (
	"context"
	"fmt"
	"time"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/domain/service"
	applogger "AutoTrader/pkg/logger"
)

type Config struct {
	Enabled  bool
	Required int
	Timeout  time.Duration
	Retries  int
}

// Result explains the gate's answer.
type Result struct {
	Approved bool
	Verifier string
	Reason   string
}

// Gate is stateless. With two verifiers it is a logical AND that stops at the
// first rejection.
type Gate struct {
	verifiers []service.Verifier
	cfg       Config
	log       *applogger.Logger
}

func NewGate(verifiers []service.Verifier, cfg Config, log *applogger.Logger) *Gate {
	if cfg.Required <= 0 {
		cfg.Required = 1
	}
	if cfg.Required > len(verifiers) {
		cfg.Required = len(verifiers)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = applogger.NewNop()
	}
	return &Gate{verifiers: verifiers, cfg: cfg, log: log}
}

func (g *Gate) Enabled() bool { return g != nil && g.cfg.Enabled && len(g.verifiers) > 0 }

func (g *Gate) Verify(ctx context.Context, d models.Decision) Result {
	if !d.Action.IsDirectional() {
		return Result{Reason: "hold decisions are not verified"}
	}
	if !g.Enabled() {
		return Result{Approved: true, Reason: "verification disabled"}
	}

	for _, v := range g.verifiers[:g.cfg.Required] {
		ok, err := g.ask(ctx, v, d)
		if err != nil {
			g.log.Warn("verifier failed, rejecting",
				applogger.Market(d.Market), applogger.String("verifier", v.Name()), applogger.Error(err))
			return Result{Verifier: v.Name(), Reason: fmt.Sprintf("%s unavailable: %v", v.Name(), err)}
		}
		if !ok {
			return Result{Verifier: v.Name(), Reason: v.Name() + " rejected"}
		}
	}
	return Result{Approved: true, Reason: fmt.Sprintf("approved by %d verifier(s)", g.cfg.Required)}
}

// ask retries errors only; an explicit rejection is final.
func (g *Gate) ask(ctx context.Context, v service.Verifier, d models.Decision) (bool, error) {
	var lastErr error
	for attempt := 0; attempt <= g.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		cctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		ok, err := v.Verify(cctx, d)
		cancel()
		if err == nil {
			return ok, nil
		}
		lastErr = err
	}
	return false, lastErr
}
