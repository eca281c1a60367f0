package http

import (
	"context"
	"log"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smoradi/webhook-notifier/internal/config"
	"github.com/smoradi/webhook-notifier/internal/delivery"
	"github.com/smoradi/webhook-notifier/internal/http/middleware"
	"github.com/smoradi/webhook-notifier/internal/metrics"
	"github.com/smoradi/webhook-notifier/internal/monitor"
	"github.com/smoradi/webhook-notifier/internal/repository"
)

type Server struct{ e *echo.Echo }

// NewServer wires the management/query API. clickhouseDB may be nil; the
// attempts report endpoint answers 503 in that case.
func NewServer(cfg config.Config, mysqlDB *sqlx.DB, clickhouseDB *sqlx.DB, queue *delivery.Queue, mon *monitor.Monitor) *Server {
	// repos (MySQL)
	endpointsRepo := repository.NewEndpointsRepository(mysqlDB)
	deliveriesRepo := repository.NewDeliveriesRepository(mysqlDB)

	// repos (ClickHouse, optional)
	var attemptsRepo repository.CHAttemptsRepository
	if clickhouseDB != nil {
		attemptsRepo = repository.NewCHAttemptsRepository(clickhouseDB)
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// metering collaborator hook; trusted internal caller, no tenant header
	e.POST("/internal/usage", usageHandler(mon))

	// tenant-scoped routes
	v1 := e.Group("/v1", middleware.TenantMiddleware())
	v1.POST("/webhooks", createEndpointHandler(endpointsRepo, cfg.Delivery.DefaultTimeout))
	v1.GET("/webhooks", listEndpointsHandler(endpointsRepo))
	v1.GET("/webhooks/:id", getEndpointHandler(endpointsRepo))
	v1.PATCH("/webhooks/:id", updateEndpointHandler(endpointsRepo))
	v1.POST("/webhooks/:id/rotate", rotateSecretHandler(endpointsRepo))
	v1.DELETE("/webhooks/:id", deleteEndpointHandler(endpointsRepo))
	v1.POST("/webhooks/test", sendTestHandler(queue))
	v1.GET("/deliveries", listDeliveriesHandler(deliveriesRepo))
	v1.GET("/deliveries/:id", getDeliveryHandler(deliveriesRepo))
	v1.GET("/reports/attempts", listAttemptsHandler(attemptsRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
