package csrf

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Request is the part of an incoming request the guard reads.
type Request interface {
	Method() string
	// Field returns a submitted body field (form or JSON).
	Field(name string) (string, bool)
	Header(name string) (string, bool)
	Cookie(name string) (string, bool)
	// RemoveField hides a body field from downstream handlers.
	RemoveField(name string)
	// IsSecure reports whether the request arrived over TLS.
	IsSecure() bool
}

// Response is the part of the outgoing response the guard and middleware write.
type Response interface {
	SetCookie(c *http.Cookie)
	RedirectWithError(message string)
}

// Session is an opaque key-value store bound to the current session.
type Session interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// Protection selects where the token secret is stored.
type Protection int

const (
	// ProtectionSession keeps the secret server side in the session.
	ProtectionSession Protection = iota
	// ProtectionCookie sends the secret to the client and relies on double submit.
	ProtectionCookie
)

// ParseProtection maps a config value to a Protection.
func ParseProtection(s string) (Protection, error) {
	switch strings.ToLower(s) {
	case "session":
		return ProtectionSession, nil
	case "cookie":
		return ProtectionCookie, nil
	}
	return 0, fmt.Errorf("%w: unknown csrf_protection %q", ErrInvalidConfiguration, s)
}

func (p Protection) String() string {
	switch p {
	case ProtectionSession:
		return "session"
	case ProtectionCookie:
		return "cookie"
	}
	return fmt.Sprintf("Protection(%d)", int(p))
}

// storage is implemented by one struct per Protection, picked once per Guard.
type storage interface {
	// stored returns the secret the client is expected to echo back, and the
	// token the client holds when the storage hands it out ("" otherwise).
	stored() (secret, token string, ok bool)
	// persist replaces the stored secret. token is its masked form when
	// randomization is on.
	persist(secret, token string)
}

type sessionStorage struct {
	sess Session
	key  string
}

func (s sessionStorage) stored() (string, string, bool) {
	v, ok := s.sess.Get(s.key)
	if !ok || !isToken(v) {
		return "", "", false
	}
	return v, "", true
}

func (s sessionStorage) persist(secret, _ string) {
	s.sess.Set(s.key, secret)
}

type cookieStorage struct {
	p    *Protector
	req  Request
	resp Response
}

// stored reads the cookie the client sent. A cookie issued during this
// request is not visible here; it only counts from the next request on.
// With randomization the cookie carries the masked token, so script can
// echo it back as is.
func (s cookieStorage) stored() (string, string, bool) {
	v, ok := s.req.Cookie(s.p.cookieName)
	if !ok {
		return "", "", false
	}
	if !s.p.randomize {
		if !isToken(v) {
			return "", "", false
		}
		return v, "", true
	}
	secret, ok := unmask(v)
	if !ok {
		return "", "", false
	}
	return secret, v, true
}

func (s cookieStorage) persist(secret, token string) {
	value := secret
	if s.p.randomize {
		value = token
	}
	c := &http.Cookie{
		Name:     s.p.cookieName,
		Value:    value,
		Path:     s.p.cookiePath,
		Domain:   s.p.cookieDomain,
		Secure:   s.p.cookieSecure || s.req.IsSecure(),
		HttpOnly: false, // client-side script copies it into the header
		SameSite: s.p.sameSite,
	}
	if s.p.expire > 0 {
		c.MaxAge = int(s.p.expire / time.Second)
		c.Expires = s.p.now().Add(s.p.expire)
	}
	s.resp.SetCookie(c)
}
