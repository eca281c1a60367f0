package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantMiddleware(t *testing.T) {
	e := echo.New()
	next := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	h := TenantMiddleware()(next)

	t.Run("passes tenant through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "  tenant-1  ")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		require.NoError(t, h(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		id, ok := TenantIDFromCtx(c)
		assert.True(t, ok)
		assert.Equal(t, "tenant-1", id)
	})

	t.Run("rejects missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		require.NoError(t, h(c))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects oversized id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", strings.Repeat("a", 129))
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		require.NoError(t, h(c))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestTenantIDFromCtxMissing(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	_, ok := TenantIDFromCtx(c)
	assert.False(t, ok)
}
