// Package output buffers everything a request wants to send (status,
// headers, cookies, cache policy, redirect, page body) and turns it into a
// single HTTP response exactly once.
package output

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// Page is the per-request output buffer.
type Page struct {
	status    int
	header    http.Header
	cookies   []*http.Cookie
	vary      []string
	cdn       bool
	cdnMaxAge int
	cdnLimit  int

	redirectURL  string
	redirectCode int

	title     string
	subtitles []template.HTML
	body      bytes.Buffer
	printable bool
	bodyOnly  bool
	robots    string

	disabled    bool
	contentType string
	raw         []byte

	rendered []byte
}

// Options configures a new Page.
type Options struct {
	// CDN enables s-maxage on cacheable responses.
	CDN bool
}

// NewPage returns an empty 200 page.
func NewPage(opts Options) *Page {
	return &Page{
		status:   http.StatusOK,
		header:   make(http.Header),
		cdn:      opts.CDN,
		cdnLimit: -1,
	}
}

func (p *Page) SetStatus(code int) { p.status = code }

func (p *Page) Status() int {
	if p.redirectURL != "" {
		return p.redirectCode
	}
	return p.status
}

// Header holds extra response headers.
func (p *Page) Header() http.Header { return p.header }

func (p *Page) AddCookie(c *http.Cookie) { p.cookies = append(p.cookies, c) }

func (p *Page) Cookies() []*http.Cookie { return p.cookies }

// AddVary adds a request header the response varies on.
func (p *Page) AddVary(name string) {
	if !slices.Contains(p.vary, name) {
		p.vary = append(p.vary, name)
	}
}

func (p *Page) Vary() []string { return p.vary }

// SetCDNMaxAge sets how long edge caches may keep the response.
func (p *Page) SetCDNMaxAge(seconds int) { p.cdnMaxAge = seconds }

// LowerCDNMaxAge caps the edge TTL regardless of later SetCDNMaxAge calls.
func (p *Page) LowerCDNMaxAge(seconds int) {
	if p.cdnLimit < 0 || seconds < p.cdnLimit {
		p.cdnLimit = seconds
	}
}

// CDNMaxAge is the effective edge TTL.
func (p *Page) CDNMaxAge() int {
	if p.cdnLimit >= 0 && p.cdnLimit < p.cdnMaxAge {
		return p.cdnLimit
	}
	return p.cdnMaxAge
}

// Redirect turns the response into a redirect. A zero code means 302.
func (p *Page) Redirect(url string, code int) {
	if code == 0 {
		code = http.StatusFound
	}
	p.redirectURL = url
	p.redirectCode = code
}

func (p *Page) RedirectURL() string { return p.redirectURL }

func (p *Page) IsRedirect() bool { return p.redirectURL != "" }

func (p *Page) SetPageTitle(title string) { p.title = title }

func (p *Page) PageTitle() string { return p.title }

// AddSubtitle appends trusted HTML below the heading.
func (p *Page) AddSubtitle(html template.HTML) { p.subtitles = append(p.subtitles, html) }

// AddHTML appends trusted HTML to the body.
func (p *Page) AddHTML(html string) { p.body.WriteString(html) }

// AddParagraph appends escaped text as a paragraph.
func (p *Page) AddParagraph(text string) {
	p.body.WriteString("<p>")
	p.body.WriteString(template.HTMLEscapeString(text))
	p.body.WriteString("</p>\n")
}

// Body returns the buffered body HTML.
func (p *Page) Body() string { return p.body.String() }

// ClearBody drops buffered body HTML and subtitles.
func (p *Page) ClearBody() {
	p.body.Reset()
	p.subtitles = nil
}

func (p *Page) SetPrintable(v bool) { p.printable = v }

func (p *Page) Printable() bool { return p.printable }

// SetBodyOnly renders the body without skin chrome.
func (p *Page) SetBodyOnly(v bool) { p.bodyOnly = v }

func (p *Page) SetRobots(policy string) { p.robots = policy }

// Disable bypasses the skin; the response body is whatever SetRaw holds.
func (p *Page) Disable() { p.disabled = true }

func (p *Page) Disabled() bool { return p.disabled }

// SetRaw sets the body sent when the page is disabled.
func (p *Page) SetRaw(contentType string, body []byte) {
	p.contentType = contentType
	p.raw = body
}

// ShowErrorPage replaces the content with a themed error message.
func (p *Page) ShowErrorPage(titleKey, textKey string, params ...string) {
	p.ClearBody()
	p.SetRobots("noindex,nofollow")
	p.SetPageTitle(Msg(titleKey))
	p.AddParagraph(Msg(textKey, params...))
}

// ShowPermissionsErrorPage lists denial reasons. Reasons are message keys.
func (p *Page) ShowPermissionsErrorPage(reasons []string, action string) {
	p.ClearBody()
	p.SetStatus(http.StatusForbidden)
	p.SetRobots("noindex,nofollow")
	p.SetPageTitle(Msg("permissionserrors"))
	p.AddParagraph(Msg("permissionserrorstext", action))
	p.body.WriteString("<ul class=\"permissions-errors\">\n")
	for _, r := range reasons {
		fmt.Fprintf(&p.body, "<li>%s</li>\n", template.HTMLEscapeString(Msg(r)))
	}
	p.body.WriteString("</ul>\n")
}

// Render produces the response body once; later calls return the same bytes.
func (p *Page) Render(s *Skin) ([]byte, error) {
	if p.rendered != nil {
		return p.rendered, nil
	}
	var out []byte
	switch {
	case p.redirectURL != "":
		out = []byte{}
	case p.disabled:
		out = p.raw
		if out == nil {
			out = []byte{}
		}
	case p.bodyOnly:
		out = slices.Clone(p.body.Bytes())
	default:
		b, err := s.render(p)
		if err != nil {
			return nil, fmt.Errorf("render page: %w", err)
		}
		out = b
	}
	p.rendered = out
	return out, nil
}

// CacheControl is the Cache-Control value for the response.
func (p *Page) CacheControl() string {
	if p.cdn && p.CDNMaxAge() > 0 && len(p.cookies) == 0 {
		return "s-maxage=" + strconv.Itoa(p.CDNMaxAge()) + ", must-revalidate, max-age=0"
	}
	return "private, must-revalidate, max-age=0"
}

// Send renders and writes the full response to w.
func (p *Page) Send(w http.ResponseWriter, s *Skin) error {
	body, err := p.Render(s)
	if err != nil {
		return err
	}
	h := w.Header()
	for k, vs := range p.header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	for _, c := range p.cookies {
		http.SetCookie(w, c)
	}
	if len(p.vary) > 0 {
		h.Set("Vary", strings.Join(p.vary, ", "))
	}
	h.Set("Cache-Control", p.CacheControl())
	if p.redirectURL != "" {
		h.Set("Location", p.redirectURL)
	}
	if h.Get("Content-Type") == "" {
		ct := "text/html; charset=utf-8"
		if p.disabled && p.contentType != "" {
			ct = p.contentType
		}
		h.Set("Content-Type", ct)
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(p.Status())
	_, err = w.Write(body)
	return err
}

// WriteDiagnostic writes a raw plain-text error, bypassing the skin.
func WriteDiagnostic(w http.ResponseWriter, status int, msg string) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "private, must-revalidate, max-age=0")
	h.Set("Content-Length", strconv.Itoa(len(msg)))
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
