package csrf

import (
	"context"
	"net/http"
	"strings"

	"github.com/wudi/csrfguard/internal/errors"
	"github.com/wudi/csrfguard/internal/middleware"
	"go.uber.org/zap"
)

// SessionFunc returns the session bound to r, or nil when there is none.
// A returned session that also implements Flasher receives redirect errors.
type SessionFunc func(r *http.Request) Session

type guardKey struct{}

// NewContext returns a copy of ctx carrying g.
func NewContext(ctx context.Context, g *Guard) context.Context {
	return context.WithValue(ctx, guardKey{}, g)
}

// FromContext returns the Guard stored by the middleware, or nil.
func FromContext(ctx context.Context) *Guard {
	g, _ := ctx.Value(guardKey{}).(*Guard)
	return g
}

// Middleware verifies unsafe requests before they reach next and makes the
// request's Guard available through FromContext. sessions may be nil for
// cookie protection.
func (p *Protector) Middleware(sessions SessionFunc) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var sess Session
			if sessions != nil {
				sess = sessions(r)
			}
			flash, _ := sess.(Flasher)

			req := NewHTTPRequest(r, p.trustProxy)
			resp := NewHTTPResponse(w, r, flash)

			g, err := p.Guard(req, resp, sess)
			if err != nil {
				p.logger.Error("CSRF guard unavailable", zap.Error(err))
				errors.ErrInternalServer.WithRequestID(middleware.GetRequestID(r)).WriteJSON(w)
				return
			}

			if err := g.Verify(); err != nil {
				p.reject(w, r, resp)
				return
			}

			// Issue the token up front so cookies land before the body is written.
			g.Token()
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), g)))
		})
	}
}

func (p *Protector) reject(w http.ResponseWriter, r *http.Request, resp Response) {
	if p.redirect && !wantsJSON(r) {
		resp.RedirectWithError(errors.ErrDisallowedAction.Message)
		return
	}
	apiErr := errors.ErrDisallowedAction
	if id := middleware.GetRequestID(r); id != "" {
		apiErr = apiErr.WithRequestID(id)
	}
	apiErr.WriteJSON(w)
}

// wantsJSON reports whether the client is a script that cannot follow a
// redirect back to a form.
func wantsJSON(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/json")
}
