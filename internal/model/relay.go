// Package model defines shared types for the relay.
package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ResponseMode selects how an upstream response is re-emitted to the client.
type ResponseMode string

const (
	// Passthrough forwards upstream bytes and status code unchanged.
	Passthrough ResponseMode = "passthrough"
	// HTMLRewrite forces status 200 and strips CSP <meta> elements from the body.
	HTMLRewrite ResponseMode = "html_rewrite"
)

// ParseResponseMode maps a config or flag value to a ResponseMode.
// An empty value selects Passthrough.
func ParseResponseMode(s string) (ResponseMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Passthrough):
		return Passthrough, nil
	case string(HTMLRewrite):
		return HTMLRewrite, nil
	default:
		return "", fmt.Errorf("unknown response mode %q", s)
	}
}

// RelayRequest is an inbound request to fetch Target on behalf of the client.
type RelayRequest struct {
	Ctx    context.Context
	Target string
}

// UpstreamResponse is the raw response returned by the upstream origin.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// RelayResult is the fully buffered response to write back to the client.
type RelayResult struct {
	StatusCode   int
	ContentType  string
	CacheControl string // empty means no Cache-Control header
	Body         []byte
}
