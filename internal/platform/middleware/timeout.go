package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on the request context so store calls made
// by handlers are bounded. Websocket upgrades are exempt.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 || strings.HasPrefix(c.Request().URL.Path, "/ws") {
				return next(c)
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
