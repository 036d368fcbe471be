package middleware

import (
	"net/http"
	"sort"

	"github.com/wudi/csrfguard/internal/config"
)

type headerPair struct {
	name  string
	value string
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// SecurityHeaders sets the configured browser security headers before the
// handler runs. Framing is denied and the referrer is kept same-origin by
// default, which the CSRF redirect-back relies on.
func SecurityHeaders(cfg config.HeadersConfig) Middleware {
	candidates := []headerPair{
		{"X-Content-Type-Options", withDefault(cfg.XContentTypeOptions, "nosniff")},
		{"X-Frame-Options", withDefault(cfg.XFrameOptions, "DENY")},
		{"Referrer-Policy", withDefault(cfg.ReferrerPolicy, "same-origin")},
		{"Content-Security-Policy", cfg.ContentSecurityPolicy},
	}
	names := make([]string, 0, len(cfg.Custom))
	for name := range cfg.Custom {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		candidates = append(candidates, headerPair{http.CanonicalHeaderKey(name), cfg.Custom[name]})
	}

	var pairs []headerPair
	for _, p := range candidates {
		if p.value != "" && p.value != "-" {
			pairs = append(pairs, p)
		}
	}
	hsts := cfg.StrictTransportSecurity

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, p := range pairs {
				h.Set(p.name, p.value)
			}
			if hsts != "" && r.TLS != nil {
				h.Set("Strict-Transport-Security", hsts)
			}
			next.ServeHTTP(w, r)
		})
	}
}
