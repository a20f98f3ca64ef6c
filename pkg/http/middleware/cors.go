package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ReadOnlyCORS allows cross-origin GETs from the listed origins ("*" for any).
func ReadOnlyCORS(origins []string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			origin := c.Request().Header.Get(echo.HeaderOrigin)
			if origin == "" || !(allowed["*"] || allowed[origin]) {
				return next(c)
			}
			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, origin)
			h.Set(echo.HeaderAccessControlAllowMethods, "GET, OPTIONS")
			h.Set(echo.HeaderAccessControlAllowHeaders, echo.HeaderAccept+", "+echo.HeaderAuthorization)
			h.Add(echo.HeaderVary, echo.HeaderOrigin)
			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}
