package server

import (
	"bytes"
	"context"
	"encoding/json"
	"html/template"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/tidwall/gjson"
	"github.com/wudi/csrfguard/internal/csrf"
	"github.com/wudi/csrfguard/internal/errors"
	"github.com/wudi/csrfguard/internal/middleware"
	"github.com/wudi/csrfguard/internal/session"
)

var formPage = template.Must(template.New("form").Parse(`<!DOCTYPE html>
<html>
<head>
<title>csrfguard</title>
{{.Meta}}
</head>
<body>
{{with .Error}}<p class="error">{{.}}</p>{{end}}
{{with .User}}<p>Signed in as {{.}}</p>{{end}}
<form method="post" action="/submit">
{{.Field}}
<input type="text" name="message">
<button type="submit">Send</button>
</form>
<form method="post" action="/login">
{{.Field}}
<input type="text" name="username">
<button type="submit">Sign in</button>
</form>
</body>
</html>
`))

type formData struct {
	Meta  template.HTML
	Field template.HTML
	Error string
	User  string
}

// appRouter serves the application endpoints behind session and CSRF handling.
func (s *Server) appRouter() http.Handler {
	r := httprouter.New()
	r.GET("/", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		http.Redirect(w, req, "/form", http.StatusFound)
	})
	r.GET("/form", s.handleForm)
	r.POST("/submit", s.handleSubmit)
	r.POST("/login", s.handleLogin)
	r.POST("/logout", s.handleLogout)
	r.POST("/api/echo", s.handleSubmit)
	r.POST("/hooks/:name", s.handleHook)

	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		errors.ErrNotFound.WithRequestID(middleware.GetRequestID(req)).WriteJSON(w)
	})
	r.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		errors.ErrMethodNotAllowed.WithRequestID(middleware.GetRequestID(req)).WriteJSON(w)
	})
	return r
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var data formData
	if g := csrf.FromContext(r.Context()); g != nil {
		data.Meta = g.MetaTag()
		data.Field = g.FormField()
	}
	if sess := session.FromRequest(r); sess != nil {
		data.Error, _ = sess.Flash("error")
		data.User, _ = sess.Get("user")
	}

	var buf bytes.Buffer
	if err := formPage.Execute(&buf, data); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

// submittedFields returns the request's body fields. The CSRF token has
// already been removed by verification.
func submittedFields(r *http.Request) (map[string]string, error) {
	fields := make(map[string]string)
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if csrf.IsJSONMediaType(mt) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if !gjson.ValidBytes(body) {
			return nil, errors.ErrBadRequest.WithDetails("invalid JSON body")
		}
		gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
			fields[key.String()] = value.String()
			return true
		})
		return fields, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, errors.ErrBadRequest.WithDetails("invalid form body")
	}
	for k, vs := range r.PostForm {
		if len(vs) > 0 {
			fields[k] = vs[0]
		}
	}
	return fields, nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fields, err := submittedFields(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := map[string]any{"status": "accepted", "fields": fields}
	if g := csrf.FromContext(r.Context()); g != nil {
		resp["csrf_token"] = g.Token()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLogin binds a user to the session. The session ID and the CSRF
// token are both replaced so neither survives the privilege change.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fields, err := submittedFields(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := fields["username"]
	if user == "" {
		writeError(w, r, errors.ErrBadRequest.WithDetails("username is required"))
		return
	}

	sess := session.FromRequest(r)
	sess.Set("user", user)
	sess.RenewID()

	resp := map[string]any{"user": user}
	if g := csrf.FromContext(r.Context()); g != nil {
		g.Regenerate()
		resp["csrf_token"] = g.Token()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	session.FromRequest(r).Destroy()
	w.WriteHeader(http.StatusNoContent)
}

// handleHook accepts machine-to-machine callbacks, which are usually
// routed through a path with CSRF disabled.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	io.Copy(io.Discard, io.LimitReader(r.Body, 1<<20))
	writeJSON(w, http.StatusAccepted, map[string]string{"hook": ps.ByName("name"), "status": "queued"})
}

func (s *Server) handleCSRFStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"routes": s.routes.Load().protectors.Stats(),
	})
}

// pinger is implemented by stores with a remote backend.
type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	status := map[string]string{"status": "ok", "session_store": "ok"}
	code := http.StatusOK
	if p, ok := s.store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			status["status"] = "degraded"
			status["session_store"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := errors.IsAPIError(err)
	if !ok {
		apiErr = errors.ErrInternalServer.WithCause(err)
	}
	apiErr.WithRequestID(middleware.GetRequestID(r)).WriteJSON(w)
}
