package server

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/wudi/csrfguard/internal/config"
	"github.com/wudi/csrfguard/internal/csrf"
	"github.com/wudi/csrfguard/internal/logging"
	"github.com/wudi/csrfguard/internal/session"
)

// defaultRouteID covers every path no configured route claims.
const defaultRouteID = "default"

// routeEntry is one compiled route: its path prefix and the handler that
// runs CSRF protection in front of the application router.
type routeEntry struct {
	id        string
	prefix    string
	disabled  bool
	protector *csrf.Protector
	handler   http.Handler
}

func (e *routeEntry) matches(path string) bool {
	if e.prefix == "/" || path == e.prefix {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(e.prefix, "/")+"/")
}

// routeTable is an immutable snapshot of the compiled routes.
// Reloads build a new table and swap it in whole.
type routeTable struct {
	entries    []*routeEntry // longest prefix first
	fallback   *routeEntry
	protectors *csrf.ByRoute
}

func (t *routeTable) resolve(path string) *routeEntry {
	for _, e := range t.entries {
		if e.matches(path) {
			return e
		}
	}
	return t.fallback
}

// sessionFrom hands the request session to the guard, keeping a missing
// session as a nil interface.
func sessionFrom(r *http.Request) csrf.Session {
	if s := session.FromRequest(r); s != nil {
		return s
	}
	return nil
}

// compileRoutes builds a routeTable for cfg in front of app.
func (s *Server) compileRoutes(cfg *config.Config, app http.Handler) (*routeTable, error) {
	opts := []csrf.Option{
		csrf.WithLogger(logging.Global()),
		csrf.WithRecorder(s.collector),
		csrf.WithTrustProxy(cfg.Server.TrustProxy),
	}

	t := &routeTable{protectors: csrf.NewByRoute()}

	build := func(id, prefix string, disabled bool, sec config.SecurityConfig) (*routeEntry, error) {
		e := &routeEntry{id: id, prefix: prefix, disabled: disabled, handler: app}
		if disabled {
			return e, nil
		}
		p, err := t.protectors.AddRoute(id, sec, opts...)
		if err != nil {
			return nil, err
		}
		e.protector = p
		e.handler = p.Middleware(sessionFrom)(app)
		return e, nil
	}

	fallback, err := build(defaultRouteID, "/", false, cfg.Security)
	if err != nil {
		return nil, err
	}
	t.fallback = fallback

	for _, rc := range cfg.Routes {
		if rc.ID == defaultRouteID {
			return nil, fmt.Errorf("route id %q is reserved", defaultRouteID)
		}
		e, err := build(rc.ID, rc.Path, rc.Disabled, cfg.RouteSecurity(rc))
		if err != nil {
			return nil, err
		}
		t.entries = append(t.entries, e)
	}
	sort.SliceStable(t.entries, func(i, j int) bool {
		return len(t.entries[i].prefix) > len(t.entries[j].prefix)
	})
	return t, nil
}
