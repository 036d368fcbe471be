package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wudi/csrfguard/internal/config"
)

func serveHeaders(cfg config.HeadersConfig, r *http.Request) http.Header {
	rr := httptest.NewRecorder()
	SecurityHeaders(cfg)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rr, r)
	return rr.Header()
}

func TestSecurityHeadersDefaults(t *testing.T) {
	h := serveHeaders(config.HeadersConfig{}, httptest.NewRequest("GET", "/", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "same-origin",
	}
	for name, value := range want {
		if got := h.Get(name); got != value {
			t.Errorf("%s = %q, want %q", name, got, value)
		}
	}
	if h.Get("Content-Security-Policy") != "" || h.Get("Strict-Transport-Security") != "" {
		t.Error("optional headers should be absent by default")
	}
}

func TestSecurityHeadersOverrides(t *testing.T) {
	cfg := config.HeadersConfig{
		XFrameOptions:           "-",
		ReferrerPolicy:          "strict-origin",
		ContentSecurityPolicy:   "frame-ancestors 'none'",
		StrictTransportSecurity: "max-age=31536000",
		Custom:                  map[string]string{"x-robots-tag": "noindex"},
	}

	h := serveHeaders(cfg, httptest.NewRequest("GET", "/", nil))
	if _, ok := h["X-Frame-Options"]; ok {
		t.Error(`"-" should drop the header`)
	}
	if h.Get("Referrer-Policy") != "strict-origin" {
		t.Errorf("unexpected Referrer-Policy %q", h.Get("Referrer-Policy"))
	}
	if h.Get("Content-Security-Policy") != "frame-ancestors 'none'" {
		t.Errorf("unexpected CSP %q", h.Get("Content-Security-Policy"))
	}
	if h.Get("X-Robots-Tag") != "noindex" {
		t.Errorf("custom header missing")
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent over plain HTTP")
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.TLS = &tls.ConnectionState{}
	if got := serveHeaders(cfg, r).Get("Strict-Transport-Security"); got != "max-age=31536000" {
		t.Errorf("expected HSTS over TLS, got %q", got)
	}
}
