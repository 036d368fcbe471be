// Package session provides server-side sessions backed by a pluggable Store.
// A Session belongs to exactly one request and is not safe for concurrent use.
package session

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const flashPrefix = "_flash:"

// Session is the per-request view of a stored session.
type Session struct {
	id        string
	previous  string // ID to delete once a renewed session is saved
	values    map[string]string
	isNew     bool
	dirty     bool
	destroyed bool
}

// newSession is only persisted once something is written to it.
func newSession() *Session {
	return &Session{
		id:     newID(),
		values: make(map[string]string),
		isNew:  true,
	}
}

// newID returns a random session identifier drawn from crypto/rand.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// IsNew reports whether the session was created by this request.
func (s *Session) IsNew() bool { return s.isNew }

// Get returns the value for key.
func (s *Session) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (s *Session) Set(key, value string) {
	if cur, ok := s.values[key]; ok && cur == value {
		return
	}
	s.values[key] = value
	s.dirty = true
}

// Delete removes key.
func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	s.dirty = true
}

// SetFlash stores a value that is removed the first time it is read.
func (s *Session) SetFlash(key, value string) {
	s.Set(flashPrefix+key, value)
}

// Flash returns and clears a flash value.
func (s *Session) Flash(key string) (string, bool) {
	v, ok := s.values[flashPrefix+key]
	if ok {
		s.Delete(flashPrefix + key)
	}
	return v, ok
}

// RenewID moves the session values to a fresh identifier.
// Call it when the privilege level changes, e.g. after login.
func (s *Session) RenewID() {
	if s.previous == "" && !s.isNew {
		s.previous = s.id
	}
	s.id = newID()
	s.dirty = true
}

// Destroy removes the session from the store and expires its cookie.
func (s *Session) Destroy() {
	s.destroyed = true
	s.dirty = true
	s.values = make(map[string]string)
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored in ctx, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(contextKey{}).(*Session)
	return s
}

// FromRequest returns the session attached to r, or nil.
func FromRequest(r *http.Request) *Session {
	return FromContext(r.Context())
}
