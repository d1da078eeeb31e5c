package db

import (
	"context"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"
)

type contextKey string

const TenantIDKey contextKey = "tenant_id"

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// TenantMiddleware resolves the tenant for a request and stores it on both the
// echo context and the request context. Tenant rows are scoped by the
// tenant_id column, so no connection state is changed here. An empty tenant
// leaves the request unscoped.
func TenantMiddleware(defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c, defaultTenant)

			if tenantID != "" && !ValidTenantID(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := WithTenant(c.Request().Context(), tenantID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID)

			return next(c)
		}
	}
}

func extractTenantID(c echo.Context, defaultTenant string) string {
	// 1. JWT claim (set by auth middleware)
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		return tid
	}

	// 2. X-Tenant-ID header
	if tid := c.Request().Header.Get("X-Tenant-ID"); tid != "" {
		return tid
	}

	// 3. query parameter
	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid
	}

	return defaultTenant
}

// ValidTenantID reports whether id is a usable tenant identifier.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// TenantFromContext retrieves the tenant ID from context.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}
