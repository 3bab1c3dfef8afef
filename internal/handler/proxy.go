package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/model"
	"relay-proxy-go/internal/service"
)

const (
	msgMissingTarget = "Missing ?target="
	msgFetchFailed   = "Proxy fetch failed."
)

// userinfoPattern matches credentials embedded in URLs quoted by error messages.
var userinfoPattern = regexp.MustCompile(`(://)[^/@\s"]+@`)

// ProxyHandler relays GET /proxy?target=... to the target origin.
type ProxyHandler struct {
	service *service.RelayService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.RelayService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle fetches the target and writes the buffered result back. Permissive
// CORS and framing headers are set by middleware.EmbeddingHeaders.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	res, err := h.service.Forward(&model.RelayRequest{
		Ctx:    req.Context(),
		Target: c.QueryParam("target"),
	})
	if err != nil {
		return h.mapError(c, err)
	}

	if res.CacheControl != "" {
		c.Response().Header().Set(echo.HeaderCacheControl, res.CacheControl)
	}
	return c.Blob(res.StatusCode, res.ContentType, res.Body)
}

// Preflight answers CORS preflight requests without contacting any upstream.
func (h *ProxyHandler) Preflight(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrMissingTarget) {
		h.logger.Debug("rejected request without target")
		return c.String(http.StatusBadRequest, msgMissingTarget)
	}

	h.logger.Error("proxy error", "err", sanitizeError(err))
	return c.String(http.StatusInternalServerError, msgFetchFailed)
}

// sanitizeError redacts userinfo credentials from URLs quoted in error messages.
func sanitizeError(err error) string {
	return userinfoPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]@")
}
