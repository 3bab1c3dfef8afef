package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"relay-proxy-go/internal/client"
	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/metrics"
	"relay-proxy-go/internal/model"
)

func newTestService(mode model.ResponseMode, m *metrics.Metrics) *RelayService {
	cfg := &config.Config{Relay: config.RelayConfig{Mode: string(mode)}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRelayService(client.NewUpstreamClient(cfg, logger, m), cfg, logger, m)
}

func forward(s *RelayService, target string) (*model.RelayResult, error) {
	return s.Forward(&model.RelayRequest{Ctx: context.Background(), Target: target})
}

func TestForward_MissingTarget(t *testing.T) {
	for _, mode := range []model.ResponseMode{model.Passthrough, model.HTMLRewrite} {
		t.Run(string(mode), func(t *testing.T) {
			_, err := forward(newTestService(mode, nil), "")
			if !errors.Is(err, ErrMissingTarget) {
				t.Errorf("Forward() error = %v, want ErrMissingTarget", err)
			}
		})
	}
}

func TestForward_Passthrough(t *testing.T) {
	payload := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F'}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("X-Frame-Options", "DENY")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	}))
	defer upstream.Close()

	res, err := forward(newTestService(model.Passthrough, nil), upstream.URL+"/image.jpg")
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	if res.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if res.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want %q", res.ContentType, "image/jpeg")
	}
	if res.CacheControl != "public, max-age=3600" {
		t.Errorf("CacheControl = %q, want %q", res.CacheControl, "public, max-age=3600")
	}
	if !bytes.Equal(res.Body, payload) {
		t.Errorf("Body = %v, want %v", res.Body, payload)
	}
}

func TestForward_PassthroughKeepsUpstreamStatus(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusServiceUnavailable} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(code)
				_, _ = w.Write([]byte("upstream says no"))
			}))
			defer upstream.Close()

			res, err := forward(newTestService(model.Passthrough, nil), upstream.URL)
			if err != nil {
				t.Fatalf("Forward() error = %v", err)
			}
			if res.StatusCode != code {
				t.Errorf("StatusCode = %d, want %d", res.StatusCode, code)
			}
			if string(res.Body) != "upstream says no" {
				t.Errorf("Body = %q, want %q", res.Body, "upstream says no")
			}
		})
	}
}

func TestForward_DefaultContentType(t *testing.T) {
	tests := []struct {
		mode model.ResponseMode
		want string
	}{
		{model.Passthrough, "application/octet-stream"},
		{model.HTMLRewrite, "text/html"},
	}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Suppress net/http content sniffing so no Content-Type is sent.
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("<p>hi</p>"))
	}))
	defer upstream.Close()

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			res, err := forward(newTestService(tt.mode, nil), upstream.URL)
			if err != nil {
				t.Fatalf("Forward() error = %v", err)
			}
			if res.ContentType != tt.want {
				t.Errorf("ContentType = %q, want %q", res.ContentType, tt.want)
			}
		})
	}
}

func TestForward_HTMLRewrite(t *testing.T) {
	page := `<html><head><meta http-equiv="Content-Security-Policy" content="frame-ancestors 'none'"><title>t</title></head><body>ok</body></html>`
	want := `<html><head><title>t</title></head><body>ok</body></html>`

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(page))
	}))
	defer upstream.Close()

	m := metrics.New()
	res, err := forward(newTestService(model.HTMLRewrite, m), upstream.URL)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	if res.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d regardless of upstream status", res.StatusCode, http.StatusOK)
	}
	if res.ContentType != "text/html; charset=utf-8" {
		t.Errorf("ContentType = %q, want upstream value", res.ContentType)
	}
	if res.CacheControl != "" {
		t.Errorf("CacheControl = %q, want empty in rewrite mode", res.CacheControl)
	}
	if string(res.Body) != want {
		t.Errorf("Body = %q, want %q", res.Body, want)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "relay_proxy_csp_meta_stripped_total" {
			found = true
			if v := f.GetMetric()[0].GetCounter().GetValue(); v != 1 {
				t.Errorf("csp meta stripped = %v, want 1", v)
			}
		}
	}
	if !found {
		t.Error("expected relay_proxy_csp_meta_stripped_total in gathered metrics")
	}
}

func TestForward_RequestHeaders(t *testing.T) {
	tests := []struct {
		mode         model.ResponseMode
		wantAccept   string
		wantLanguage string
	}{
		{model.Passthrough, "*/*", ""},
		{model.HTMLRewrite, htmlAccept, htmlAcceptLanguage},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("method = %q, want GET", r.Method)
				}
				if ua := r.Header.Get("User-Agent"); ua != browserUserAgent {
					t.Errorf("User-Agent = %q, want %q", ua, browserUserAgent)
				}
				if got := r.Header.Get("Accept"); got != tt.wantAccept {
					t.Errorf("Accept = %q, want %q", got, tt.wantAccept)
				}
				if got := r.Header.Get("Accept-Language"); got != tt.wantLanguage {
					t.Errorf("Accept-Language = %q, want %q", got, tt.wantLanguage)
				}
				w.WriteHeader(http.StatusNoContent)
			}))
			defer upstream.Close()

			if _, err := forward(newTestService(tt.mode, nil), upstream.URL); err != nil {
				t.Fatalf("Forward() error = %v", err)
			}
		})
	}
}

func TestForward_UpstreamUnreachable(t *testing.T) {
	_, err := forward(newTestService(model.Passthrough, nil), "http://127.0.0.1:1/nonexistent")
	if err == nil {
		t.Fatal("Forward() expected error for unreachable upstream, got nil")
	}
	if errors.Is(err, ErrMissingTarget) {
		t.Errorf("Forward() error = %v, must not be ErrMissingTarget", err)
	}
}

func TestForward_UnsupportedScheme(t *testing.T) {
	_, err := forward(newTestService(model.Passthrough, nil), "ftp://example.com/file")
	if err == nil {
		t.Fatal("Forward() expected error for unsupported scheme, got nil")
	}
}

func TestForward_TruncatedBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "100")
		// Fewer bytes than promised; the server drops the connection.
		_, _ = w.Write([]byte("short"))
	}))
	defer upstream.Close()

	_, err := forward(newTestService(model.Passthrough, nil), upstream.URL)
	if err == nil {
		t.Fatal("Forward() expected error for truncated upstream body, got nil")
	}
}

func TestForward_ConcurrentRequestsAreIndependent(t *testing.T) {
	var hits atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(r.URL.Query().Get("id")))
	}))
	defer upstream.Close()

	s := newTestService(model.Passthrough, nil)

	const n = 20
	type result struct {
		id   string
		body string
		err  error
	}
	results := make(chan result, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		go func() {
			res, err := forward(s, upstream.URL+"/?id="+id)
			if err != nil {
				results <- result{id: id, err: err}
				return
			}
			results <- result{id: id, body: string(res.Body)}
		}()
	}

	for i := 0; i < n; i++ {
		r := <-results
		if r.err != nil {
			t.Errorf("Forward(%s) error = %v", r.id, r.err)
			continue
		}
		if r.body != r.id {
			t.Errorf("Forward(%s) body = %q, want %q", r.id, r.body, r.id)
		}
	}
	if got := hits.Load(); got != n {
		t.Errorf("upstream hits = %d, want %d", got, n)
	}
}
