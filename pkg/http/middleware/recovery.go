package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"

	applogger "AutoTrader/pkg/logger"
)

// Recover turns a handler panic into a 500 response.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					l.Error("http handler panic",
						applogger.String("path", c.Request().URL.Path),
						applogger.String("panic", fmt.Sprint(r)),
						applogger.String("stack", string(debug.Stack())))
					err = c.JSON(http.StatusInternalServerError, map[string]interface{}{
						"status":  http.StatusInternalServerError,
						"message": "Internal Server Error",
					})
				}
			}()
			return next(c)
		}
	}
}
