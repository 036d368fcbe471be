package csrf

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// maxJSONBody bounds how much of a JSON body is buffered to look for the token.
const maxJSONBody = 1 << 20

// maxMultipartMemory matches net/http's default for ParseMultipartForm.
const maxMultipartMemory = 32 << 20

// HTTPRequest adapts *http.Request to Request.
type HTTPRequest struct {
	r          *http.Request
	trustProxy bool

	jsonLoaded bool
	jsonBody   []byte // nil when the body is not a JSON document
}

// NewHTTPRequest wraps r. With trustProxy, X-Forwarded-Proto counts toward IsSecure.
func NewHTTPRequest(r *http.Request, trustProxy bool) *HTTPRequest {
	return &HTTPRequest{r: r, trustProxy: trustProxy}
}

func (h *HTTPRequest) Method() string { return h.r.Method }

func (h *HTTPRequest) mediaType() string {
	mt, _, _ := mime.ParseMediaType(h.r.Header.Get("Content-Type"))
	return mt
}

// Field looks in form values first, then in a top-level JSON body field.
func (h *HTTPRequest) Field(name string) (string, bool) {
	switch mt := h.mediaType(); {
	case mt == "application/x-www-form-urlencoded":
		if err := h.r.ParseForm(); err == nil {
			if vs, ok := h.r.PostForm[name]; ok && len(vs) > 0 {
				return vs[0], true
			}
		}
	case mt == "multipart/form-data":
		if err := h.r.ParseMultipartForm(maxMultipartMemory); err == nil {
			if vs, ok := h.r.PostForm[name]; ok && len(vs) > 0 {
				return vs[0], true
			}
		}
	case IsJSONMediaType(mt):
		body := h.loadJSON()
		if body == nil {
			return "", false
		}
		res := gjson.GetBytes(body, escapePath(name))
		if res.Type == gjson.String {
			return res.Str, true
		}
	}
	return "", false
}

// IsJSONMediaType reports whether mt is application/json or a +json suffix type.
func IsJSONMediaType(mt string) bool {
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// loadJSON buffers the body once and puts it back for downstream readers.
func (h *HTTPRequest) loadJSON() []byte {
	if h.jsonLoaded {
		return h.jsonBody
	}
	h.jsonLoaded = true
	if h.r.Body == nil || h.r.Body == http.NoBody {
		return nil
	}

	buf, err := io.ReadAll(io.LimitReader(h.r.Body, maxJSONBody+1))
	if err != nil {
		h.r.Body = io.NopCloser(bytes.NewReader(buf))
		return nil
	}
	if len(buf) > maxJSONBody {
		// Too large to inspect; hand the stream on unchanged.
		h.r.Body = readCloser{io.MultiReader(bytes.NewReader(buf), h.r.Body), h.r.Body}
		return nil
	}
	h.r.Body.Close()
	h.setBody(buf)
	if !gjson.ValidBytes(buf) {
		return nil
	}
	h.jsonBody = buf
	return buf
}

func (h *HTTPRequest) setBody(buf []byte) {
	h.r.Body = io.NopCloser(bytes.NewReader(buf))
	h.r.ContentLength = int64(len(buf))
	h.r.Header.Set("Content-Length", strconv.Itoa(len(buf)))
	h.r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
}

func (h *HTTPRequest) Header(name string) (string, bool) {
	v := h.r.Header.Get(name)
	return v, v != ""
}

func (h *HTTPRequest) Cookie(name string) (string, bool) {
	c, err := h.r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// RemoveField drops name from the parsed form or rewrites the JSON body without it.
// Query string parameters of the same name are kept in r.Form.
func (h *HTTPRequest) RemoveField(name string) {
	r := h.r
	if r.PostForm != nil {
		if _, ok := r.PostForm[name]; ok {
			r.PostForm.Del(name)
			if r.MultipartForm != nil {
				delete(r.MultipartForm.Value, name)
			}
			if r.Form != nil {
				if q := queryValues(r)[name]; len(q) > 0 {
					r.Form[name] = q
				} else {
					r.Form.Del(name)
				}
			}
		}
	}
	if h.jsonBody != nil {
		path := escapePath(name)
		if !gjson.GetBytes(h.jsonBody, path).Exists() {
			return
		}
		out, err := sjson.DeleteBytes(h.jsonBody, path)
		if err != nil {
			return
		}
		h.jsonBody = out
		h.setBody(out)
	}
}

func queryValues(r *http.Request) url.Values {
	if r.URL == nil {
		return nil
	}
	return r.URL.Query()
}

func (h *HTTPRequest) IsSecure() bool {
	if h.r.TLS != nil {
		return true
	}
	return h.trustProxy && strings.EqualFold(h.r.Header.Get("X-Forwarded-Proto"), "https")
}

// escapePath makes a field name safe to use as a gjson/sjson path component.
func escapePath(name string) string {
	if !strings.ContainsAny(name, `.*?|#@\!=<>%`) {
		return name
	}
	var b strings.Builder
	for _, c := range name {
		if strings.ContainsRune(`.*?|#@\!=<>%`, c) {
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

type readCloser struct {
	io.Reader
	io.Closer
}

// Flasher stores a one-shot message for the next request.
type Flasher interface {
	SetFlash(key, value string)
}

// HTTPResponse adapts http.ResponseWriter to Response.
type HTTPResponse struct {
	w     http.ResponseWriter
	r     *http.Request
	flash Flasher
}

// NewHTTPResponse wraps w. flash may be nil, in which case redirects carry no message.
func NewHTTPResponse(w http.ResponseWriter, r *http.Request, flash Flasher) *HTTPResponse {
	return &HTTPResponse{w: w, r: r, flash: flash}
}

// SetCookie adds a Set-Cookie header; it is sent with the response headers.
func (h *HTTPResponse) SetCookie(c *http.Cookie) {
	http.SetCookie(h.w, c)
}

// RedirectWithError sends the client back to the referring page of the same
// host (or "/") and leaves message in the flash "error" slot.
func (h *HTTPResponse) RedirectWithError(message string) {
	if h.flash != nil {
		h.flash.SetFlash("error", message)
	}
	http.Redirect(h.w, h.r, backURL(h.r), http.StatusSeeOther)
}

func backURL(r *http.Request) string {
	ref := r.Header.Get("Referer")
	if ref == "" {
		return "/"
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Host != "" && u.Host != r.Host) {
		return "/"
	}
	if u.Path == "" {
		u.Path = "/"
	}
	back := u.EscapedPath()
	if u.RawQuery != "" {
		back += "?" + u.RawQuery
	}
	return back
}
