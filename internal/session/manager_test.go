package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wudi/csrfguard/internal/config"
)

type countingRecorder map[string]int

func (c countingRecorder) SessionEvent(event string) { c[event]++ }

func newTestManager(t *testing.T) (*Manager, *MemoryStore, countingRecorder) {
	t.Helper()
	store := NewMemoryStore(time.Second)
	t.Cleanup(store.Close)
	rec := countingRecorder{}
	m := NewManager(store, config.SessionConfig{CookieName: "sid", TTL: time.Hour}, WithRecorder(rec))
	return m, store, rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestMiddlewareCreatesAndReloadsSession(t *testing.T) {
	m, _, rec := newTestManager(t)

	h := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := FromRequest(r)
		if s == nil {
			t.Fatal("session missing from context")
		}
		n, _ := s.Get("visits")
		s.Set("visits", n+"x")
		w.Write([]byte(n))
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest("GET", "/", nil))
	c := sessionCookie(t, first, "sid")
	if c == nil || c.Value == "" {
		t.Fatal("expected session cookie")
	}
	if !c.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
	if rec["created"] != 1 {
		t.Errorf("expected 1 created event, got %v", rec)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(c)
	second := httptest.NewRecorder()
	h.ServeHTTP(second, req)
	if second.Body.String() != "x" {
		t.Errorf("expected stored value from first request, got %q", second.Body.String())
	}
	if rec["loaded"] != 1 {
		t.Errorf("expected 1 loaded event, got %v", rec)
	}
}

func TestMiddlewareRejectsUnknownID(t *testing.T) {
	m, _, _ := newTestManager(t)

	var seen string
	h := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromRequest(r).ID()
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "attacker-chosen"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen == "attacker-chosen" || seen == "" {
		t.Errorf("unknown session id must not be adopted, got %q", seen)
	}
}

func TestMiddlewareCommitsBeforeWrite(t *testing.T) {
	m, store, _ := newTestManager(t)

	h := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := FromRequest(r)
		s.Set("csrf_test_name", "tok")
		w.WriteHeader(http.StatusCreated)

		// already persisted once the header is out
		values, found, _ := store.Load(context.Background(), s.ID())
		if !found || values["csrf_test_name"] != "tok" {
			t.Errorf("session not committed before WriteHeader: %v", values)
		}
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/", nil))
	if rr.Code != http.StatusCreated {
		t.Errorf("status = %d", rr.Code)
	}
	if sessionCookie(t, rr, "sid") == nil {
		t.Error("expected cookie on committed response")
	}
}

func TestRenewIDMovesValues(t *testing.T) {
	m, store, rec := newTestManager(t)
	ctx := context.Background()
	store.Save(ctx, "old-id", map[string]string{"user": "1"}, time.Hour)

	var renewed string
	h := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := FromRequest(r)
		s.RenewID()
		renewed = s.ID()
	}))

	req := httptest.NewRequest("POST", "/login", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "old-id"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if renewed == "old-id" {
		t.Fatal("RenewID should change the id")
	}
	if _, found, _ := store.Load(ctx, "old-id"); found {
		t.Error("old session should be deleted")
	}
	values, found, _ := store.Load(ctx, renewed)
	if !found || values["user"] != "1" {
		t.Errorf("values should move to renewed id, got %v", values)
	}
	if c := sessionCookie(t, rr, "sid"); c == nil || c.Value != renewed {
		t.Error("expected cookie with renewed id")
	}
	if rec["renewed"] != 1 {
		t.Errorf("expected renewed event, got %v", rec)
	}
}

func TestDestroy(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	store.Save(ctx, "gone", map[string]string{"user": "1"}, time.Hour)

	h := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromRequest(r).Destroy()
	}))

	req := httptest.NewRequest("POST", "/logout", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "gone"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if _, found, _ := store.Load(ctx, "gone"); found {
		t.Error("destroyed session should be deleted")
	}
	if c := sessionCookie(t, rr, "sid"); c == nil || c.MaxAge >= 0 {
		t.Error("expected expired session cookie")
	}
}

func TestFlash(t *testing.T) {
	s := newSession()
	s.SetFlash("error", "The action you requested is not allowed.")
	v, ok := s.Flash("error")
	if !ok || v != "The action you requested is not allowed." {
		t.Errorf("Flash = %q, %v", v, ok)
	}
	if _, ok := s.Flash("error"); ok {
		t.Error("flash should be cleared after first read")
	}
}

func TestSetSameValueIsNotDirty(t *testing.T) {
	s := &Session{id: "x", values: map[string]string{"k": "v"}}
	s.Set("k", "v")
	if s.dirty {
		t.Error("setting an identical value should not mark the session dirty")
	}
	s.Set("k", "w")
	if !s.dirty {
		t.Error("changing a value should mark the session dirty")
	}
}

func TestMiddlewareSkipsUntouchedNewSession(t *testing.T) {
	m, store, _ := newTestManager(t)

	h := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := FromRequest(r)
		s.Get("csrf_test_name")
		s.Flash("error")
		w.Write([]byte("ok"))
	}))

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		if c := sessionCookie(t, rr, "sid"); c != nil {
			t.Fatalf("read-only request should not issue a session cookie, got %v", c)
		}
	}
	if n := store.Size(); n != 0 {
		t.Errorf("expected no stored sessions, got %d", n)
	}
}
