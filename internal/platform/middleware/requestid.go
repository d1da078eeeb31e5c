package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const RequestIDHeader = "X-Request-ID"

// RequestID keeps the caller's X-Request-ID or generates one, and exposes it
// as "request_id" on the echo context.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Set("request_id", rid)
			c.Response().Header().Set(RequestIDHeader, rid)
			return next(c)
		}
	}
}
