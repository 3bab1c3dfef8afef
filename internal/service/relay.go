// Package service implements the core relay forwarding logic.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"relay-proxy-go/internal/client"
	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/metrics"
	"relay-proxy-go/internal/model"
)

// ErrMissingTarget is returned when the inbound request carries no target URL.
var ErrMissingTarget = errors.New("missing target URL")

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122 Safari/537.36"

	htmlAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	htmlAcceptLanguage = "en-US,en;q=0.9"

	defaultBinaryContentType = "application/octet-stream"
	defaultHTMLContentType   = "text/html"

	passthroughCacheControl = "public, max-age=3600"
)

// RelayService fetches client-supplied targets and shapes the result for re-emission.
type RelayService struct {
	client  *client.UpstreamClient
	mode    model.ResponseMode
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRelayService creates a RelayService for the configured response mode.
// The metrics parameter is optional; pass nil to disable rewrite metrics.
func NewRelayService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *RelayService {
	return &RelayService{
		client:  c,
		mode:    cfg.ResponseMode(),
		logger:  logger.With("component", "relay_service"),
		metrics: m,
	}
}

// Mode returns the response mode the service was built with.
func (s *RelayService) Mode() model.ResponseMode {
	return s.mode
}

// Forward fetches rr.Target and returns the fully buffered result.
//
// ErrMissingTarget is returned, before any network access, when the target is
// empty. Any other error means the upstream could not be fetched or read.
func (s *RelayService) Forward(rr *model.RelayRequest) (*model.RelayResult, error) {
	if rr.Target == "" {
		return nil, ErrMissingTarget
	}

	s.logger.Debug("forwarding request", "mode", s.mode)

	resp, err := s.client.Get(rr.Ctx, rr.Target, s.requestHeaders())
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")

	if s.mode == model.HTMLRewrite {
		rewritten, stripped := StripCSPMeta(body)
		if stripped > 0 {
			s.logger.Debug("stripped csp meta elements", "count", stripped)
			if s.metrics != nil {
				s.metrics.CSPMetaStripped.Add(float64(stripped))
			}
		}
		if contentType == "" {
			contentType = defaultHTMLContentType
		}
		return &model.RelayResult{
			StatusCode:  http.StatusOK,
			ContentType: contentType,
			Body:        rewritten,
		}, nil
	}

	if contentType == "" {
		contentType = defaultBinaryContentType
	}
	return &model.RelayResult{
		StatusCode:   resp.StatusCode,
		ContentType:  contentType,
		CacheControl: passthroughCacheControl,
		Body:         body,
	}, nil
}

// requestHeaders builds the fixed browser-like header set sent upstream.
// Nothing from the inbound request is forwarded.
func (s *RelayService) requestHeaders() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", browserUserAgent)
	if s.mode == model.HTMLRewrite {
		h.Set("Accept", htmlAccept)
		h.Set("Accept-Language", htmlAcceptLanguage)
	} else {
		h.Set("Accept", "*/*")
	}
	return h
}
