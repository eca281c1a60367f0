package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/smoradi/webhook-notifier/internal/model"
	"github.com/smoradi/webhook-notifier/internal/monitor"
)

// usageHandler is the inline form of the metering collaborator boundary:
// one call per counted request, after the counter increment is durable.
// The monitor swallows everything downstream, so the only failure a caller
// can see is a body it could not even parse.
func usageHandler(mon *monitor.Monitor) echo.HandlerFunc {
	return func(c echo.Context) error {
		var u model.UsageEvent
		if err := c.Bind(&u); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if err := u.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}

		mon.OnMeteredRequest(c.Request().Context(), u)

		return c.JSON(http.StatusAccepted, map[string]any{"accepted": true})
	}
}
