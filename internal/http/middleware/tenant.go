package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const tenantHeader = "X-Tenant-ID"

// TenantIDFromCtx extracts the tenant id set by TenantMiddleware.
func TenantIDFromCtx(c echo.Context) (string, bool) {
	v := c.Get("tenant_id")
	id, ok := v.(string)
	return id, ok && id != ""
}

// TenantMiddleware scopes requests using the X-Tenant-ID header. The header
// is set by the upstream gateway after it has authenticated the caller;
// authentication itself does not live in this service.
func TenantMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := strings.TrimSpace(c.Request().Header.Get(tenantHeader))
			if id == "" || len(id) > 128 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing tenant"})
			}
			c.Set("tenant_id", id)
			return next(c)
		}
	}
}
