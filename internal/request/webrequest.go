// Package request holds the per-request state every pipeline stage reads
// and writes: the parsed web request and the mutable Context that owns the
// current title, article, principal and output buffer.
package request

import (
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// WebRequest is a read-mostly view of the HTTP request parameters. Query
// values and posted form values are merged; posted values win.
type WebRequest struct {
	r      *http.Request
	values url.Values
	server string
}

// New parses r. server is the configured public server, used to rebuild
// the full request URL; it may be protocol-relative.
func New(r *http.Request, server string) *WebRequest {
	values := url.Values{}
	for k, vs := range r.URL.Query() {
		values[k] = append([]string(nil), vs...)
	}
	if r.Method == http.MethodPost {
		// A malformed body leaves only the query values.
		if err := r.ParseForm(); err == nil {
			for k, vs := range r.PostForm {
				values[k] = append([]string(nil), vs...)
			}
		}
	}
	return &WebRequest{r: r, values: values, server: strings.TrimSuffix(server, "/")}
}

// HTTPRequest returns the underlying request.
func (w *WebRequest) HTTPRequest() *http.Request { return w.r }

// Val returns the first value of name, or def when absent.
func (w *WebRequest) Val(name, def string) string {
	vs, ok := w.values[name]
	if !ok || len(vs) == 0 {
		return def
	}
	return vs[0]
}

// Int returns name as an integer; absent or unparseable values are 0.
func (w *WebRequest) Int(name string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(w.Val(name, "")), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Check reports whether name was given at all, whatever its value.
func (w *WebRequest) Check(name string) bool {
	_, ok := w.values[name]
	return ok
}

// Bool is false for absent, empty and "0" values.
func (w *WebRequest) Bool(name string) bool {
	v := w.Val(name, "")
	return v != "" && v != "0"
}

// WasPosted reports whether the request is a POST.
func (w *WebRequest) WasPosted() bool { return w.r.Method == http.MethodPost }

// Values returns a copy of the merged parameters.
func (w *WebRequest) Values() url.Values {
	out := make(url.Values, len(w.values))
	for k, vs := range w.values {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// ValueNames lists parameter names, sorted, leaving out except.
func (w *WebRequest) ValueNames(except ...string) []string {
	names := make([]string, 0, len(w.values))
	for k := range w.values {
		if !slices.Contains(except, k) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// SetVal overrides a parameter; path-info routing uses it for the title.
func (w *WebRequest) SetVal(name, value string) {
	w.values[name] = []string{value}
}

// RequestURL is the path and query exactly as the client sent them.
func (w *WebRequest) RequestURL() string {
	if w.r.RequestURI != "" && !strings.Contains(w.r.RequestURI, "://") {
		return w.r.RequestURI
	}
	return w.r.URL.RequestURI()
}

// FullRequestURL is the server plus RequestURL, with the current protocol
// filled in for a protocol-relative server.
func (w *WebRequest) FullRequestURL() string {
	server := w.server
	if strings.HasPrefix(server, "//") {
		server = w.Protocol() + ":" + server
	}
	return server + w.RequestURL()
}

// Protocol is "https" for TLS or TLS-terminated requests, else "http".
func (w *WebRequest) Protocol() string {
	if w.r.TLS != nil || strings.EqualFold(w.r.Header.Get("X-Forwarded-Proto"), "https") {
		return "https"
	}
	return "http"
}

// Cookie returns the named cookie value, or "" when unset.
func (w *WebRequest) Cookie(name string) string {
	c, err := w.r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// Header returns a request header.
func (w *WebRequest) Header(name string) string { return w.r.Header.Get(name) }
