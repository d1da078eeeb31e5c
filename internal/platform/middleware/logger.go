package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/safety/internal/platform/auth"
	"github.com/ehr/safety/internal/platform/db"
)

func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			status := c.Response().Status
			evt := logger.Info()
			switch {
			case err != nil:
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
				evt = logger.Error().Err(err)
				if status < 500 {
					evt = logger.Warn().Err(err)
				}
			case status >= 500:
				evt = logger.Error()
			}

			ctx := c.Request().Context()
			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("tenant_id", db.TenantFromContext(ctx)).
				Str("user_id", auth.UserIDFromContext(ctx)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
