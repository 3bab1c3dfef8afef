// Package middleware provides Echo middleware for logging, metrics and the
// permissive embedding headers every relay response carries.
package middleware

import (
	"github.com/labstack/echo/v4"
)

// Header values that lift cross-origin and framing restrictions.
const (
	AllowOrigin           = "*"
	AllowMethods          = "GET, OPTIONS"
	AllowHeaders          = "Content-Type"
	FrameOptions          = "ALLOWALL"
	ContentSecurityPolicy = "frame-ancestors *; default-src * 'unsafe-inline' 'unsafe-eval' data: blob:;"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// EmbeddingHeaders returns an Echo middleware that strips hop-by-hop headers
// from the request and sets wildcard CORS and permissive framing headers on
// the response. The headers are set before the handler runs so they are
// present on success, error and not-found responses alike.
func EmbeddingHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, AllowOrigin)
			h.Set(echo.HeaderAccessControlAllowMethods, AllowMethods)
			h.Set(echo.HeaderAccessControlAllowHeaders, AllowHeaders)
			h.Set(echo.HeaderXFrameOptions, FrameOptions)
			h.Set(echo.HeaderContentSecurityPolicy, ContentSecurityPolicy)

			return next(c)
		}
	}
}
