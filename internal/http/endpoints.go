package http

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/smoradi/webhook-notifier/internal/http/middleware"
	"github.com/smoradi/webhook-notifier/internal/model"
	"github.com/smoradi/webhook-notifier/internal/repository"
	"github.com/smoradi/webhook-notifier/internal/signature"
	"github.com/smoradi/webhook-notifier/internal/util"
)

const (
	minTimeoutMs = 100
	maxTimeoutMs = 30_000
)

type createEndpointReq struct {
	URL           string            `json:"url"`
	Events        []string          `json:"events"`
	CustomHeaders map[string]string `json:"custom_headers"`
	TimeoutMs     int               `json:"timeout_ms"`
}

// endpointWithSecret is the create/rotate response shape: the only two
// places the secret ever leaves the service.
type endpointWithSecret struct {
	model.EndpointConfig
	Secret string `json:"secret"`
}

func createEndpointHandler(endpoints repository.EndpointsRepository, defaultTimeout time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, _ := middleware.TenantIDFromCtx(c)

		var req createEndpointReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.URL = strings.TrimSpace(req.URL)
		if !validEndpointURL(req.URL) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "url must be absolute http(s)"})
		}

		events, ok := normalizeEvents(req.Events)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown event type"})
		}

		timeoutMs := req.TimeoutMs
		if timeoutMs == 0 {
			timeoutMs = int(defaultTimeout.Milliseconds())
		}
		if timeoutMs < minTimeoutMs || timeoutMs > maxTimeoutMs {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "timeout_ms out of range"})
		}

		secret, err := signature.GenerateSecret()
		if err != nil {
			log.Errorf("generate secret failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}

		cfg := model.EndpointConfig{
			ID:               util.NewID(),
			TenantID:         tenantID,
			URL:              req.URL,
			Secret:           secret,
			Enabled:          true,
			SubscribedEvents: events,
			CustomHeaders:    req.CustomHeaders,
			TimeoutMs:        timeoutMs,
		}
		if err := endpoints.Insert(c.Request().Context(), cfg); err != nil {
			log.Errorf("insert endpoint failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		created, err := endpoints.GetByID(c.Request().Context(), cfg.ID)
		if err != nil || created == nil {
			log.Errorf("reload endpoint failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusCreated, endpointWithSecret{EndpointConfig: *created, Secret: secret})
	}
}

func listEndpointsHandler(endpoints repository.EndpointsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, _ := middleware.TenantIDFromCtx(c)

		out, err := endpoints.ListByTenant(c.Request().Context(), tenantID)
		if err != nil {
			log.Errorf("list endpoints failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"count":   len(out),
			"results": out,
		})
	}
}

func getEndpointHandler(endpoints repository.EndpointsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, _ := middleware.TenantIDFromCtx(c)

		cfg, err := endpoints.GetByID(c.Request().Context(), c.Param("id"))
		if err != nil {
			log.Errorf("get endpoint failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if cfg == nil || cfg.TenantID != tenantID {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}
		return c.JSON(http.StatusOK, cfg)
	}
}

func updateEndpointHandler(endpoints repository.EndpointsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, _ := middleware.TenantIDFromCtx(c)
		id := c.Param("id")

		var u model.EndpointUpdate
		if err := c.Bind(&u); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if u.URL != nil && !validEndpointURL(strings.TrimSpace(*u.URL)) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "url must be absolute http(s)"})
		}
		if u.SubscribedEvents != nil {
			events, ok := normalizeEvents(u.SubscribedEvents)
			if !ok {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown event type"})
			}
			u.SubscribedEvents = events
		}
		if u.TimeoutMs != nil && (*u.TimeoutMs < minTimeoutMs || *u.TimeoutMs > maxTimeoutMs) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "timeout_ms out of range"})
		}

		found, err := endpoints.Update(c.Request().Context(), tenantID, id, u)
		if err != nil {
			log.Errorf("update endpoint failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if !found {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}

		cfg, err := endpoints.GetByID(c.Request().Context(), id)
		if err != nil || cfg == nil {
			log.Errorf("reload endpoint failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, cfg)
	}
}

func rotateSecretHandler(endpoints repository.EndpointsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, _ := middleware.TenantIDFromCtx(c)
		id := c.Param("id")

		secret, err := signature.GenerateSecret()
		if err != nil {
			log.Errorf("generate secret failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}

		found, err := endpoints.UpdateSecret(c.Request().Context(), tenantID, id, secret)
		if err != nil {
			log.Errorf("rotate secret failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if !found {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}

		return c.JSON(http.StatusOK, map[string]string{
			"id":     id,
			"secret": secret,
		})
	}
}

func deleteEndpointHandler(endpoints repository.EndpointsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, _ := middleware.TenantIDFromCtx(c)

		found, err := endpoints.Delete(c.Request().Context(), tenantID, c.Param("id"))
		if err != nil {
			log.Errorf("delete endpoint failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if !found {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func validEndpointURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// normalizeEvents validates the subscription list; an empty list subscribes
// the endpoint to every event type.
func normalizeEvents(events []string) (model.StringList, bool) {
	if len(events) == 0 {
		return model.EventTypes(), true
	}
	out := make(model.StringList, 0, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if !model.EventType(e).Valid() {
			return nil, false
		}
		if !out.Contains(e) {
			out = append(out, e)
		}
	}
	return out, true
}
