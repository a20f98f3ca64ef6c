package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	applogger "AutoTrader/pkg/logger"
)

// RequestLogging logs every request at debug and failed ones at warn.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("path", req.URL.Path),
				applogger.Int("status", c.Response().Status),
				applogger.Duration("duration_ms", time.Since(start)),
				applogger.String("remote", c.RealIP()),
			}
			if c.Response().Status >= 400 {
				l.Warn("http request", fields...)
			} else {
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
