package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	applogger "AutoTrader/pkg/logger"
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// Metrics records request counts and latency labelled by route template.
// Requests slower than slowThreshold are logged.
func Metrics(reg prometheus.Registerer, l *applogger.Logger, slowThreshold time.Duration) echo.MiddlewareFunc {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autotrader_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "method"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_http_in_flight_requests",
			Help: "In-flight HTTP requests",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.inFlight)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.inFlight.Inc()
			defer m.inFlight.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			dur := time.Since(start)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			status := c.Response().Status
			m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
			m.duration.WithLabelValues(route, method).Observe(dur.Seconds())

			if slowThreshold > 0 && dur >= slowThreshold {
				l.Warn("http request slow",
					applogger.String("route", route),
					applogger.String("method", method),
					applogger.Int("status", status),
					applogger.Duration("duration_ms", dur))
			}
			return nil
		}
	}
}
