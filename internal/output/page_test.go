package output

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheControl(t *testing.T) {
	p := NewPage(Options{CDN: true})
	assert.Equal(t, "private, must-revalidate, max-age=0", p.CacheControl())

	p.SetCDNMaxAge(1200)
	assert.Equal(t, "s-maxage=1200, must-revalidate, max-age=0", p.CacheControl())

	p.LowerCDNMaxAge(30)
	p.SetCDNMaxAge(600)
	assert.Equal(t, 30, p.CDNMaxAge())

	p.AddCookie(&http.Cookie{Name: "UseDC", Value: "master"})
	assert.Equal(t, "private, must-revalidate, max-age=0", p.CacheControl())

	off := NewPage(Options{})
	off.SetCDNMaxAge(1200)
	assert.Equal(t, "private, must-revalidate, max-age=0", off.CacheControl())
}

func TestRedirectDefaultsTo302(t *testing.T) {
	p := NewPage(Options{})
	p.Redirect("/wiki/Foo", 0)
	assert.Equal(t, http.StatusFound, p.Status())

	p.Redirect("/wiki/Bar", http.StatusMovedPermanently)
	assert.Equal(t, http.StatusMovedPermanently, p.Status())
	assert.Equal(t, "/wiki/Bar", p.RedirectURL())
}

func TestSendRedirect(t *testing.T) {
	p := NewPage(Options{CDN: true})
	p.Redirect("http://w/wiki/Foo_Bar", http.StatusMovedPermanently)
	p.SetCDNMaxAge(1200)
	p.AddVary("X-Forwarded-Proto")

	rec := httptest.NewRecorder()
	require.NoError(t, p.Send(rec, NewSkin("", "/")))

	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "http://w/wiki/Foo_Bar", rec.Header().Get("Location"))
	assert.Equal(t, "s-maxage=1200, must-revalidate, max-age=0", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "X-Forwarded-Proto", rec.Header().Get("Vary"))
	assert.Empty(t, rec.Body.String())
}

func TestRenderIsMemoised(t *testing.T) {
	p := NewPage(Options{})
	p.SetPageTitle("Foo")
	p.AddParagraph("a < b")

	skin := NewSkin("Test Wiki", "/wiki/Main_Page")
	first, err := p.Render(skin)
	require.NoError(t, err)
	assert.Contains(t, string(first), "<h1 id=\"firstHeading\">Foo</h1>")
	assert.Contains(t, string(first), "<p>a &lt; b</p>")

	p.AddParagraph("late")
	second, err := p.Render(skin)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDisabledPageSendsRaw(t *testing.T) {
	p := NewPage(Options{})
	p.Disable()
	p.SetRaw("text/x-wiki; charset=utf-8", []byte("''hello''"))

	rec := httptest.NewRecorder()
	require.NoError(t, p.Send(rec, NewSkin("", "/")))
	assert.Equal(t, "''hello''", rec.Body.String())
	assert.Equal(t, "text/x-wiki; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "9", rec.Header().Get("Content-Length"))
}

func TestPermissionsErrorPage(t *testing.T) {
	p := NewPage(Options{})
	p.AddParagraph("secret body")
	p.ShowPermissionsErrorPage([]string{"badaccess-group0"}, "read")

	assert.Equal(t, http.StatusForbidden, p.Status())
	assert.Equal(t, "Permission error", p.PageTitle())
	assert.NotContains(t, p.Body(), "secret body")
	assert.Contains(t, p.Body(), "not allowed")
}

func TestMsg(t *testing.T) {
	assert.Equal(t, "(Redirected from Foo)", Msg("redirectedfrom", "Foo"))
	assert.Equal(t, "⧼no-such-key⧽", Msg("no-such-key"))
}

func TestWriteDiagnostic(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteDiagnostic(rec, http.StatusInternalServerError, "boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom", rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
}
