package csrf

import (
	"fmt"
	"html/template"
	"strings"

	"go.uber.org/zap"
)

// Guard holds the token state for a single request/response cycle.
// It is not safe for concurrent use and must not outlive its request.
type Guard struct {
	p     *Protector
	req   Request
	resp  Response
	store storage

	secret string // active secret, resolved lazily
	masked string // masked form of secret handed to the client
}

// Token returns the token to embed in the next response, creating and
// persisting a secret when none is stored. Repeated calls return the same
// value until the token is regenerated.
func (g *Guard) Token() string {
	secret := g.current()
	if !g.p.randomize {
		return secret
	}
	if g.masked == "" {
		g.masked = mask(secret, g.p.random)
	}
	return g.masked
}

// TokenName returns the form field that carries the token.
func (g *Guard) TokenName() string { return g.p.tokenName }

// HeaderName returns the header that carries the token.
func (g *Guard) HeaderName() string { return g.p.headerName }

// CookieName returns the cookie used by cookie protection.
func (g *Guard) CookieName() string { return g.p.cookieName }

// ShouldRedirect reports whether a failed verification should redirect back.
func (g *Guard) ShouldRedirect() bool { return g.p.redirect }

// FormField renders a hidden input carrying the token.
func (g *Guard) FormField() template.HTML {
	return template.HTML(fmt.Sprintf(`<input type="hidden" name="%s" value="%s">`,
		template.HTMLEscapeString(g.TokenName()), template.HTMLEscapeString(g.Token())))
}

// MetaTag renders a meta element scripts can read the token from.
func (g *Guard) MetaTag() template.HTML {
	return template.HTML(fmt.Sprintf(`<meta name="%s" content="%s">`,
		template.HTMLEscapeString(g.HeaderName()), template.HTMLEscapeString(g.Token())))
}

// Regenerate discards the current secret and stores a new one.
func (g *Guard) Regenerate() {
	g.secret = generateToken(g.p.random)
	g.masked = ""
	if g.p.randomize {
		g.masked = mask(g.secret, g.p.random)
	}
	g.store.persist(g.secret, g.masked)
	g.p.metrics.TokenGenerated.Add(1)
	g.p.recorder.TokenIssued(g.p.routeID)
}

func (g *Guard) current() string {
	if g.secret != "" {
		return g.secret
	}
	if secret, token, ok := g.store.stored(); ok {
		g.secret, g.masked = secret, token
		return secret
	}
	g.Regenerate()
	return g.secret
}

// Verify checks an unsafe request's submitted token against the stored one.
// Safe methods pass untouched. On success the token field is removed from
// the request and, with regeneration on, the secret is rotated. On failure
// the stored secret is left as it was and the returned error wraps
// ErrTokenMissing or ErrTokenMismatch.
func (g *Guard) Verify() error {
	p := g.p
	p.metrics.TotalRequests.Add(1)

	method := strings.ToUpper(g.req.Method())
	if p.safeMethods[method] {
		p.metrics.Skipped.Add(1)
		p.recorder.CheckOutcome(p.routeID, "skipped")
		return nil
	}

	submitted := g.submitted()
	if submitted == "" {
		return g.fail(method, fmt.Errorf("%w: no %s field or %s header", ErrTokenMissing, p.tokenName, p.headerName))
	}

	stored, token, ok := g.store.stored()
	if !ok {
		return g.fail(method, fmt.Errorf("%w: no stored token in %s", ErrTokenMissing, p.protection))
	}

	candidate := submitted
	if p.randomize {
		candidate, ok = unmask(submitted)
		if !ok {
			return g.fail(method, fmt.Errorf("%w: malformed randomized token", ErrTokenMismatch))
		}
	}
	if !tokensEqual(candidate, stored) {
		return g.fail(method, ErrTokenMismatch)
	}

	g.req.RemoveField(p.tokenName)
	g.secret, g.masked = stored, token
	if p.regenerate {
		g.Regenerate()
	}

	p.metrics.ValidationSuccess.Add(1)
	p.recorder.CheckOutcome(p.routeID, "verified")
	p.logger.Info("CSRF token verified", zap.String("method", method))
	return nil
}

// submitted resolves the token sent by the client: body field first, then header.
func (g *Guard) submitted() string {
	if v, ok := g.req.Field(g.p.tokenName); ok && v != "" {
		return v
	}
	if v, ok := g.req.Header(g.p.headerName); ok && v != "" {
		return v
	}
	return ""
}

func (g *Guard) fail(method string, err error) error {
	p := g.p
	reason := Reason(err)
	p.metrics.ValidationFailed.Add(1)
	switch reason {
	case "missing":
		p.metrics.MissingToken.Add(1)
	case "mismatch":
		p.metrics.TokenMismatch.Add(1)
	}
	p.recorder.CheckOutcome(p.routeID, reason)
	p.logger.Warn("CSRF verification failed",
		zap.String("method", method),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return err
}
