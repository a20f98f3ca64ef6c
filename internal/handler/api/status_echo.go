package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	icache "AutoTrader/internal/service/cache"
	"AutoTrader/internal/service/ratelimit"
	"AutoTrader/internal/usecase"
	xhttp "AutoTrader/pkg/http"
	xlogger "AutoTrader/pkg/logger"
)

// HealthCheck is one dependency probed by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// CandlesQuery selects a candle series.
type CandlesQuery struct {
	Market    string `query:"market" validate:"required"`
	Timeframe string `query:"tf" default:"1m" validate:"oneof=1m 3m 5m 15m 1h"`
	Limit     int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

// StatusHandler serves the read-only ops API.
type StatusHandler struct {
	logger    *xlogger.Logger
	overview  *usecase.OverviewUseCase
	candles   *usecase.CandlesUseCase
	positions domrepo.PositionStore
	journal   domrepo.Journal
	checks    []HealthCheck
	cache     icache.BytesCache
	cacheTTL  time.Duration
	rl        *ratelimit.Limiter
}

func NewStatusHandler(
	logger *xlogger.Logger,
	overview *usecase.OverviewUseCase,
	candles *usecase.CandlesUseCase,
	positions domrepo.PositionStore,
	journal domrepo.Journal,
	checks []HealthCheck,
) *StatusHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &StatusHandler{
		logger:    logger,
		overview:  overview,
		candles:   candles,
		positions: positions,
		journal:   journal,
		checks:    checks,
		cacheTTL:  5 * time.Second,
		rl:        ratelimit.New(),
	}
}

// SetCache enables response caching for candle queries.
func (h *StatusHandler) SetCache(c icache.BytesCache, ttl time.Duration) {
	h.cache = c
	if ttl > 0 {
		h.cacheTTL = ttl
	}
}

func (h *StatusHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	g := e.Group("/api", h.limit)
	g.GET("/overview", h.Overview)
	g.GET("/positions", h.Positions)
	g.GET("/signals", h.Signal)
	g.GET("/emergency", h.Emergency)
	g.GET("/trades", h.Trades)
	g.GET("/candles", h.Candles)
}

// limit allows 10 requests per second per client with a burst of 20.
func (h *StatusHandler) limit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.rl.Allow(c.RealIP(), 20, 10) {
			return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
		}
		return next(c)
	}
}

func (h *StatusHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for _, chk := range h.checks {
		if err := chk.Check(ctx); err != nil {
			deps[chk.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[chk.Name] = "ok"
	}
	return xhttp.DataResponse(c, status, map[string]interface{}{
		"time":         time.Now().UTC(),
		"dependencies": deps,
	})
}

func (h *StatusHandler) Overview(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.overview.Overview(c.Request().Context()))
}

func (h *StatusHandler) Positions(c echo.Context) error {
	ps, err := h.positions.List(c.Request().Context())
	if err != nil {
		h.logger.Error("list positions", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("position store unavailable").WithError(err))
	}
	return xhttp.ListResponse(c, ps, int64(len(ps)))
}

func (h *StatusHandler) Signal(c echo.Context) error {
	st, ok, err := h.marketStatus(c)
	if !ok {
		return err
	}
	if st.Signal == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no live signal record for %s", st.Market))
	}
	return xhttp.SuccessResponse(c, st.Signal)
}

func (h *StatusHandler) Emergency(c echo.Context) error {
	st, ok, err := h.marketStatus(c)
	if !ok {
		return err
	}
	if st.Emergency == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no emergency state for %s", st.Market))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"state":        st.Emergency,
		"cooling_down": st.Emergency.CoolingDown(time.Now()),
	})
}

// marketStatus reports ok=false once it has already written an error response.
func (h *StatusHandler) marketStatus(c echo.Context) (*usecase.MarketStatus, bool, error) {
	q := &models.MarketQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, q); verr != nil {
		return nil, false, xhttp.BadRequestResponse(c, verr)
	}
	if !h.overview.Known(q.Market) {
		return nil, false, xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("market %s is not traded", q.Market))
	}
	st := h.overview.Status(c.Request().Context(), q.Market)
	return &st, true, nil
}

func (h *StatusHandler) Trades(c echo.Context) error {
	q := &models.TradesQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, q); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.journal == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("trade journal is disabled"))
	}
	trades, err := h.journal.Recent(c.Request().Context(), q.Market, q.Limit)
	if err != nil {
		h.logger.Error("journal recent", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("journal unavailable").WithError(err))
	}
	return xhttp.ListResponse(c, trades, int64(len(trades)))
}

func (h *StatusHandler) Candles(c echo.Context) error {
	q := &CandlesQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, q); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	key := "candles:" + q.Market + ":" + q.Timeframe + ":" + strconv.Itoa(q.Limit)
	if h.cache != nil {
		if b, ok, err := h.cache.GetBytes(ctx, key); err != nil {
			h.logger.Warn("candles cache get", xlogger.Error(err))
		} else if ok {
			return c.JSONBlob(http.StatusOK, b)
		}
	}

	res, err := h.candles.GetCandles(ctx, usecase.GetCandlesParams{
		Market:    q.Market,
		Timeframe: models.Timeframe(q.Timeframe),
		Limit:     q.Limit,
	})
	if err != nil {
		h.logger.Warn("candles usecase", xlogger.Market(q.Market), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("candles unavailable").WithError(err))
	}
	body := xhttp.APIResponse{Status: http.StatusOK, Message: http.StatusText(http.StatusOK), Data: res}
	if h.cache != nil {
		if b, err := json.Marshal(body); err == nil {
			if err := h.cache.SetBytes(ctx, key, b, h.cacheTTL); err != nil {
				h.logger.Warn("candles cache set", xlogger.Error(err))
			}
		}
	}
	return c.JSON(http.StatusOK, body)
}
