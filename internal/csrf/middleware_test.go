package csrf

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/wudi/csrfguard/internal/config"
	"github.com/wudi/csrfguard/internal/middleware"
	"github.com/wudi/csrfguard/internal/session"
)

func sessionLookup(r *http.Request) Session {
	if s := session.FromRequest(r); s != nil {
		return s
	}
	return nil
}

type sessionApp struct {
	handler  http.Handler
	lastBody url.Values
}

func newSessionApp(t *testing.T, cfg config.SecurityConfig) *sessionApp {
	t.Helper()
	store := session.NewMemoryStore(time.Minute)
	t.Cleanup(store.Close)
	mgr := session.NewManager(store, config.SessionConfig{CookieName: "sid", TTL: time.Hour})
	p, _ := newTestProtector(t, cfg)

	app := &sessionApp{}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g := FromContext(r.Context())
		if r.Method == http.MethodPost {
			r.ParseForm()
			app.lastBody = r.PostForm
		}
		if msg, ok := session.FromRequest(r).Flash("error"); ok {
			w.Header().Set("X-Flash", msg)
		}
		io.WriteString(w, g.Token())
	})
	app.handler = middleware.NewChain(middleware.RequestID(), mgr.Middleware(), p.Middleware(sessionLookup)).Then(inner)
	return app
}

func (a *sessionApp) do(r *http.Request, cookies []*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, r)
	return w
}

func TestMiddlewareSessionFlow(t *testing.T) {
	app := newSessionApp(t, sessionConfig())

	w := app.do(httptest.NewRequest(http.MethodGet, "/form", nil), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET: expected 200, got %d", w.Code)
	}
	token := w.Body.String()
	cookies := w.Result().Cookies()
	if !isToken(token) || len(cookies) == 0 {
		t.Fatalf("expected token and session cookie, got %q %v", token, cookies)
	}

	w = app.do(formRequest("/submit", url.Values{"csrf_test_name": {token}, "msg": {"hello"}}), cookies)
	if w.Code != http.StatusOK {
		t.Fatalf("POST: expected 200, got %d", w.Code)
	}
	if _, ok := app.lastBody["csrf_test_name"]; ok {
		t.Error("handler should not see the token field")
	}
	if app.lastBody.Get("msg") != "hello" {
		t.Error("handler should see the other fields")
	}
	rotated := w.Body.String()
	if rotated == token || !isToken(rotated) {
		t.Errorf("expected a rotated token, got %q", rotated)
	}

	// The consumed token no longer works.
	w = app.do(formRequest("/submit", url.Values{"csrf_test_name": {token}}), cookies)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("replay: expected 303, got %d", w.Code)
	}

	w = app.do(formRequest("/submit", url.Values{"csrf_test_name": {rotated}}), cookies)
	if w.Code != http.StatusOK {
		t.Fatalf("rotated token: expected 200, got %d", w.Code)
	}
}

func TestMiddlewareRedirectsWithFlash(t *testing.T) {
	app := newSessionApp(t, sessionConfig())

	w := app.do(httptest.NewRequest(http.MethodGet, "/form", nil), nil)
	cookies := w.Result().Cookies()

	r := formRequest("http://example.com/submit", url.Values{"msg": {"x"}})
	r.Header.Set("Referer", "http://example.com/form")
	w = app.do(r, cookies)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/form" {
		t.Errorf("expected redirect to /form, got %q", loc)
	}

	w = app.do(httptest.NewRequest(http.MethodGet, "/form", nil), cookies)
	if got := w.Header().Get("X-Flash"); got != "The action you requested is not allowed." {
		t.Errorf("expected flash error, got %q", got)
	}
}

func TestMiddlewareForbiddenJSON(t *testing.T) {
	cfg := sessionConfig()
	app := newSessionApp(t, cfg)
	w := app.do(httptest.NewRequest(http.MethodGet, "/form", nil), nil)
	cookies := w.Result().Cookies()

	r := jsonRequest(`{"csrf_test_name":"` + strings.Repeat("0", 64) + `"}`)
	r.Header.Set("X-Request-ID", "rid-1")
	w = app.do(r, cookies)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	var body struct {
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Message != "The action you requested is not allowed." || body.RequestID != "rid-1" {
		t.Errorf("unexpected body %+v", body)
	}

	cfg.Redirect = false
	app = newSessionApp(t, cfg)
	w = app.do(formRequest("/submit", url.Values{}), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("redirect off: expected 403, got %d", w.Code)
	}
}

func TestMiddlewareJSONToken(t *testing.T) {
	app := newSessionApp(t, sessionConfig())
	w := app.do(httptest.NewRequest(http.MethodGet, "/form", nil), nil)
	token, cookies := w.Body.String(), w.Result().Cookies()

	w = app.do(jsonRequest(`{"csrf_test_name":"`+token+`","n":1}`), cookies)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestMiddlewareCookieProtection(t *testing.T) {
	p, _ := newTestProtector(t, config.DefaultSecurityConfig())
	h := p.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, FromContext(r.Context()).Token())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/form", nil))
	token := w.Body.String()
	var csrfCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "csrf_cookie_name" {
			csrfCookie = c
		}
	}
	if csrfCookie == nil || csrfCookie.Value != token {
		t.Fatalf("expected csrf cookie carrying %q, got %v", token, csrfCookie)
	}

	r := httptest.NewRequest(http.MethodPost, "/submit", nil)
	r.Header.Set("X-CSRF-TOKEN", token)
	r.AddCookie(csrfCookie)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	// A GET with a valid cookie does not reissue it.
	r = httptest.NewRequest(http.MethodGet, "/form", nil)
	r.AddCookie(csrfCookie)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if len(w.Result().Cookies()) != 0 {
		t.Error("valid cookie should not be reissued")
	}
}

func TestMiddlewareSessionProtectionWithoutSessions(t *testing.T) {
	p, _ := newTestProtector(t, sessionConfig())
	h := p.Middleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestWantsJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	if wantsJSON(r) {
		t.Error("plain request should not want JSON")
	}
	r.Header.Set("X-Requested-With", "XMLHttpRequest")
	if !wantsJSON(r) {
		t.Error("XHR should want JSON")
	}
	r = httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Accept", "application/json")
	if !wantsJSON(r) {
		t.Error("Accept JSON should want JSON")
	}
}
