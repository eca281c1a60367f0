package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/smoradi/webhook-notifier/internal/delivery"
	"github.com/smoradi/webhook-notifier/internal/http/middleware"
	"github.com/smoradi/webhook-notifier/internal/model"
)

type sendTestReq struct {
	URL     string          `json:"url"`
	Payload json.RawMessage `json:"payload"`
	Secret  string          `json:"secret"`
}

// sendTestHandler signs and sends a one-off payload so a tenant can check
// its receiver's signature verification before registering the endpoint.
// Nothing is persisted and no stored configuration is consulted.
func sendTestHandler(queue *delivery.Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, _ := middleware.TenantIDFromCtx(c)

		var req sendTestReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.URL = strings.TrimSpace(req.URL)
		if !validEndpointURL(req.URL) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "url must be absolute http(s)"})
		}

		payload := []byte(req.Payload)
		if len(payload) == 0 {
			env := model.NewEnvelope(model.EventThreshold80, tenantID, intPtr(80), model.UsageData{
				CurrentUsage:      8_000,
				Limit:             10_000,
				Percentage:        floatPtr(80),
				BillingCycleStart: "2026-01-01",
			})
			payload, _ = json.Marshal(env)
		}

		res, err := queue.SendTest(c.Request().Context(), req.URL, payload, req.Secret)
		if err != nil {
			log.Errorf("send test failed: %v", err)
			return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
		}

		return c.JSON(http.StatusOK, res)
	}
}

func intPtr(i int) *int           { return &i }
func floatPtr(f float64) *float64 { return &f }
