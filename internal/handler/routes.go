package handler

import (
	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// The metrics endpoint is mounted only when metrics are enabled and m is non-nil.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.GET("/proxy", proxy.Handle)
	e.OPTIONS("/proxy", proxy.Preflight)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(m.Handler()))
	}
}
