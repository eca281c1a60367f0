package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/smoradi/webhook-notifier/internal/http/middleware"
	"github.com/smoradi/webhook-notifier/internal/model"
	"github.com/smoradi/webhook-notifier/internal/repository"
)

func listDeliveriesHandler(deliveries repository.DeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, _ := middleware.TenantIDFromCtx(c)

		limit := 50
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}

		var st model.DeliveryStatus
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			tmp := model.DeliveryStatus(raw)
			if tmp.Valid() {
				st = tmp
			}
		}

		var ev model.EventType
		if raw := strings.TrimSpace(c.QueryParam("event")); raw != "" {
			tmp := model.EventType(raw)
			if tmp.Valid() {
				ev = tmp
			}
		}

		out, err := deliveries.ListByTenant(c.Request().Context(), tenantID, st, ev, limit)
		if err != nil {
			log.Errorf("list deliveries failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"count":   len(out),
			"results": out,
		})
	}
}

func getDeliveryHandler(deliveries repository.DeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, _ := middleware.TenantIDFromCtx(c)

		rec, err := deliveries.GetByID(c.Request().Context(), tenantID, c.Param("id"))
		if err != nil {
			log.Errorf("get delivery failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		if rec == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}
		return c.JSON(http.StatusOK, rec)
	}
}

func listAttemptsHandler(attempts repository.CHAttemptsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		if attempts == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "attempt reporting disabled"})
		}
		tenantID, _ := middleware.TenantIDFromCtx(c)

		limit := 100
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}

		out, err := attempts.ListByTenant(c.Request().Context(), tenantID, limit)
		if err != nil {
			log.Errorf("clickhouse attempts list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"count":   len(out),
			"results": out,
		})
	}
}
