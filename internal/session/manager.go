package session

import (
	"context"
	"net/http"
	"time"

	"github.com/wudi/csrfguard/internal/config"
	"github.com/wudi/csrfguard/internal/logging"
	"go.uber.org/zap"
)

// Recorder receives session lifecycle events.
type Recorder interface {
	SessionEvent(event string)
}

type nopRecorder struct{}

func (nopRecorder) SessionEvent(string) {}

// Manager loads sessions for incoming requests and persists them afterwards.
type Manager struct {
	store       Store
	cookieName  string
	ttl         time.Duration
	secure      bool
	saveTimeout time.Duration
	recorder    Recorder
	logger      *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithLogger sets the logger used for store failures.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager over store.
func NewManager(store Store, cfg config.SessionConfig, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		cookieName:  cfg.CookieName,
		ttl:         cfg.TTL,
		secure:      cfg.Secure,
		saveTimeout: time.Second,
		recorder:    nopRecorder{},
		logger:      logging.Global(),
	}
	if m.cookieName == "" {
		m.cookieName = "sessid"
	}
	if m.ttl <= 0 {
		m.ttl = 2 * time.Hour
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CookieName returns the name of the session ID cookie.
func (m *Manager) CookieName() string { return m.cookieName }

// Load returns the session referenced by r's cookie, or a new one.
// Store errors produce a fresh session rather than failing the request.
func (m *Manager) Load(r *http.Request) *Session {
	c, err := r.Cookie(m.cookieName)
	if err != nil || c.Value == "" {
		m.recorder.SessionEvent("created")
		return newSession()
	}

	values, found, err := m.store.Load(r.Context(), c.Value)
	if err != nil {
		m.recorder.SessionEvent("load_error")
		m.logger.Warn("session load failed, starting a new session", zap.Error(err))
		return newSession()
	}
	if !found {
		// Unknown IDs are never adopted.
		m.recorder.SessionEvent("created")
		return newSession()
	}
	if values == nil {
		values = make(map[string]string)
	}
	m.recorder.SessionEvent("loaded")
	return &Session{id: c.Value, values: values}
}

// Save persists s when it changed and writes the session cookie when needed.
// clientID is the session ID the client sent, if any.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session, clientID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.saveTimeout)
	defer cancel()

	if s.destroyed {
		if !s.dirty {
			return nil
		}
		s.dirty = false
		m.recorder.SessionEvent("destroyed")
		if w != nil {
			http.SetCookie(w, m.cookie("", -1))
		}
		if clientID != "" {
			return m.store.Delete(ctx, clientID)
		}
		return nil
	}

	if !s.dirty {
		return nil
	}
	if err := m.store.Save(ctx, s.id, s.values, m.ttl); err != nil {
		m.recorder.SessionEvent("save_error")
		return err
	}
	s.dirty = false

	if s.previous != "" {
		m.recorder.SessionEvent("renewed")
		if err := m.store.Delete(ctx, s.previous); err != nil {
			m.logger.Warn("failed to delete renewed session", zap.Error(err))
		}
		s.previous = ""
	}
	// Refreshing the cookie keeps its lifetime in step with the store TTL.
	if w != nil {
		http.SetCookie(w, m.cookie(s.id, int(m.ttl.Seconds())))
	}
	return nil
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Middleware attaches a session to each request.
// The session is committed before the first byte of the response is written
// so the Set-Cookie header and the stored values are in place before the
// client can issue its next request.
func (m *Manager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := ""
			if c, err := r.Cookie(m.cookieName); err == nil {
				clientID = c.Value
			}

			s := m.Load(r)
			sw := &sessionWriter{ResponseWriter: w, commit: func(w http.ResponseWriter) {
				if err := m.Save(r.Context(), w, s, clientID); err != nil {
					m.logger.Error("session save failed", zap.String("session", s.id), zap.Error(err))
				}
			}}

			next.ServeHTTP(sw, r.WithContext(NewContext(r.Context(), s)))

			if !sw.committed {
				sw.committed = true
				sw.commit(w)
				return
			}
			// Changes made after the response started can still be stored,
			// but the cookie is already gone.
			if s.dirty {
				if err := m.Save(r.Context(), nil, s, clientID); err != nil {
					m.logger.Error("late session save failed", zap.String("session", s.id), zap.Error(err))
				}
			}
		})
	}
}

type sessionWriter struct {
	http.ResponseWriter
	commit    func(http.ResponseWriter)
	committed bool
}

func (sw *sessionWriter) WriteHeader(code int) {
	if !sw.committed {
		sw.committed = true
		sw.commit(sw.ResponseWriter)
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *sessionWriter) Write(b []byte) (int, error) {
	if !sw.committed {
		sw.WriteHeader(http.StatusOK)
	}
	return sw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *sessionWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
