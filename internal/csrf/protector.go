package csrf

import (
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wudi/csrfguard/internal/config"
	"github.com/wudi/csrfguard/internal/logging"
	"go.uber.org/zap"
)

// Recorder receives CSRF outcomes for external metrics.
type Recorder interface {
	TokenIssued(route string)
	CheckOutcome(route, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) TokenIssued(string)          {}
func (nopRecorder) CheckOutcome(string, string) {}

// Protector is a compiled CSRF configuration for one route.
// It is built once and hands out a Guard per request.
type Protector struct {
	routeID      string
	protection   Protection
	tokenName    string
	headerName   string
	cookieName   string
	expire       time.Duration
	regenerate   bool
	redirect     bool
	randomize    bool
	sameSite     http.SameSite
	cookiePath   string
	cookieDomain string
	cookieSecure bool
	trustProxy   bool
	safeMethods  map[string]bool

	logger   *zap.Logger
	random   io.Reader
	now      func() time.Time
	recorder Recorder
	metrics  *CSRFMetrics
}

// Option configures a Protector.
type Option func(*Protector)

// WithLogger sets the logger for verification events.
func WithLogger(l *zap.Logger) Option {
	return func(p *Protector) { p.logger = l }
}

// WithRandom replaces the secure random source. Only tests should use it.
func WithRandom(r io.Reader) Option {
	return func(p *Protector) { p.random = r }
}

// WithClock sets the clock used for cookie expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Protector) { p.now = now }
}

// WithRecorder sets an external metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Protector) { p.recorder = r }
}

// WithTrustProxy honors X-Forwarded-Proto when deciding the cookie Secure flag.
func WithTrustProxy(trust bool) Option {
	return func(p *Protector) { p.trustProxy = trust }
}

// WithSafeMethods replaces the methods that skip verification.
func WithSafeMethods(methods ...string) Option {
	return func(p *Protector) {
		p.safeMethods = make(map[string]bool, len(methods))
		for _, m := range methods {
			p.safeMethods[strings.ToUpper(m)] = true
		}
	}
}

// New compiles cfg. Configuration defects are reported as ErrInvalidConfiguration.
func New(routeID string, cfg config.SecurityConfig, opts ...Option) (*Protector, error) {
	protection, err := ParseProtection(cfg.Protection)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", routeID, err)
	}
	if cfg.TokenName == "" || cfg.HeaderName == "" {
		return nil, fmt.Errorf("%w: route %s: token_name and header_name are required", ErrInvalidConfiguration, routeID)
	}
	if protection == ProtectionCookie && cfg.CookieName == "" {
		return nil, fmt.Errorf("%w: route %s: cookie_name is required for cookie protection", ErrInvalidConfiguration, routeID)
	}
	if cfg.Expire < 0 {
		return nil, fmt.Errorf("%w: route %s: expire must be >= 0", ErrInvalidConfiguration, routeID)
	}

	var sameSite http.SameSite
	switch strings.ToLower(cfg.SameSite) {
	case "":
		sameSite = http.SameSiteDefaultMode
	case "lax":
		sameSite = http.SameSiteLaxMode
	case "strict":
		sameSite = http.SameSiteStrictMode
	case "none":
		if protection == ProtectionCookie && !cfg.CookieSecure {
			return nil, fmt.Errorf("%w: route %s: samesite None requires cookie_secure", ErrInvalidConfiguration, routeID)
		}
		sameSite = http.SameSiteNoneMode
	default:
		return nil, fmt.Errorf("%w: route %s: unknown samesite %q", ErrInvalidConfiguration, routeID, cfg.SameSite)
	}

	cookiePath := cfg.CookiePath
	if cookiePath == "" {
		cookiePath = "/"
	}

	p := &Protector{
		routeID:      routeID,
		protection:   protection,
		tokenName:    cfg.TokenName,
		headerName:   cfg.HeaderName,
		cookieName:   cfg.CookieName,
		expire:       time.Duration(cfg.Expire) * time.Second,
		regenerate:   cfg.Regenerate,
		redirect:     cfg.Redirect,
		randomize:    cfg.TokenRandomize,
		sameSite:     sameSite,
		cookiePath:   cookiePath,
		cookieDomain: cfg.CookieDomain,
		cookieSecure: cfg.CookieSecure,
		safeMethods: map[string]bool{
			http.MethodGet:     true,
			http.MethodHead:    true,
			http.MethodOptions: true,
			http.MethodTrace:   true,
		},
		logger:   logging.Global(),
		random:   rand.Reader,
		now:      time.Now,
		recorder: nopRecorder{},
		metrics:  &CSRFMetrics{},
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.With(zap.String("route", routeID))

	return p, nil
}

// Guard returns a Guard for one request/response cycle.
// Session protection requires a non-nil sess.
func (p *Protector) Guard(req Request, resp Response, sess Session) (*Guard, error) {
	g := &Guard{p: p, req: req, resp: resp}
	switch p.protection {
	case ProtectionSession:
		if sess == nil {
			return nil, fmt.Errorf("%w: route %s: session protection without a session", ErrInvalidConfiguration, p.routeID)
		}
		g.store = sessionStorage{sess: sess, key: p.tokenName}
	case ProtectionCookie:
		g.store = cookieStorage{p: p, req: req, resp: resp}
	default:
		return nil, fmt.Errorf("%w: route %s: %v", ErrInvalidConfiguration, p.routeID, p.protection)
	}
	return g, nil
}

// RouteID returns the route the protector was compiled for.
func (p *Protector) RouteID() string { return p.routeID }

// Protection returns the storage strategy.
func (p *Protector) Protection() Protection { return p.protection }

// ShouldRedirect reports whether failures should redirect back instead of returning 403.
func (p *Protector) ShouldRedirect() bool { return p.redirect }

// Status returns the admin status snapshot.
func (p *Protector) Status() CSRFStatus {
	m := p.metrics
	return CSRFStatus{
		Protection:        p.protection.String(),
		TokenName:         p.tokenName,
		HeaderName:        p.headerName,
		CookieName:        p.cookieName,
		Expire:            int(p.expire / time.Second),
		Regenerate:        p.regenerate,
		Redirect:          p.redirect,
		Randomize:         p.randomize,
		TotalRequests:     m.TotalRequests.Load(),
		Skipped:           m.Skipped.Load(),
		TokenGenerated:    m.TokenGenerated.Load(),
		ValidationSuccess: m.ValidationSuccess.Load(),
		ValidationFailed:  m.ValidationFailed.Load(),
		MissingToken:      m.MissingToken.Load(),
		TokenMismatch:     m.TokenMismatch.Load(),
	}
}
