package action

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/wikifront/internal/auth"
	"github.com/tjfontaine/wikifront/internal/config"
	"github.com/tjfontaine/wikifront/internal/deferred"
	"github.com/tjfontaine/wikifront/internal/hooks"
	"github.com/tjfontaine/wikifront/internal/jobs"
	"github.com/tjfontaine/wikifront/internal/output"
	"github.com/tjfontaine/wikifront/internal/page"
	"github.com/tjfontaine/wikifront/internal/permission"
	"github.com/tjfontaine/wikifront/internal/request"
	"github.com/tjfontaine/wikifront/internal/storage"
	"github.com/tjfontaine/wikifront/internal/storage/memory"
	"github.com/tjfontaine/wikifront/internal/title"
	"github.com/tjfontaine/wikifront/internal/wikierr"
)

const server = "http://wiki.example.org"

var member = &auth.User{Name: "Alice"}

type harness struct {
	codec    *title.Codec
	store    *memory.Store
	registry *Registry
	hooks    *hooks.Registry
	disp     *Dispatcher
	loader   *page.Loader
}

func newHarness(t *testing.T, opts DispatcherOptions, disabled ...string) *harness {
	t.Helper()
	ctx := context.Background()
	codec := title.NewCodec(title.Options{Server: server, CapitalLinks: true})
	store := memory.New()
	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	foo := &storage.Page{DBKey: "Foo"}
	_, err = sess.Pages().Save(ctx, foo, "first", "create", "Alice")
	require.NoError(t, err)
	_, err = sess.Pages().Save(ctx, foo, "Hello [[Bar]]", "link <bar>", "")
	require.NoError(t, err)
	_, err = sess.Pages().Save(ctx, &storage.Page{Namespace: int(title.NSUser), DBKey: "A/common.css", Model: page.ModelCSS}, "body{}", "", "")
	require.NoError(t, err)
	require.NoError(t, sess.CommitAll(ctx, storage.CommitOptions{}))

	policy, err := permission.NewPolicy(codec, config.PermissionsConfig{
		Rights: map[string][]string{
			"*":    {"read"},
			"user": {"read", "edit", "purge"},
		},
	})
	require.NoError(t, err)

	loader := page.NewLoader(codec)
	registry := NewRegistry(disabled...)
	RegisterDefaults(registry, &Env{
		Codec:  codec,
		Loader: loader,
		Links:  jobs.NewLinkRefresher(codec),
		Now:    func() time.Time { return time.Unix(1700000000, 0) },
	})
	hr := hooks.NewRegistry()
	return &harness{
		codec:    codec,
		store:    store,
		registry: registry,
		hooks:    hr,
		disp:     NewDispatcher(codec, registry, policy, hr, opts),
		loader:   loader,
	}
}

func (h *harness) context(t *testing.T, method, target string, form url.Values, u *auth.User) *request.Context {
	t.Helper()
	var r *http.Request
	if form != nil {
		r = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	sess, err := h.store.Begin(context.Background())
	require.NoError(t, err)
	return request.NewContext(request.New(r, server), u, output.NewPage(output.Options{CDN: true}), sess, deferred.NewQueue(nil))
}

func (h *harness) perform(t *testing.T, rc *request.Context, ns title.Namespace, key string) error {
	t.Helper()
	tt := h.codec.MakeTitle(ns, key)
	rc.SetTitle(tt)
	a, err := h.loader.Load(context.Background(), rc.Session(), tt)
	require.NoError(t, err)
	return h.disp.Perform(context.Background(), rc, a, tt)
}

func TestResolve(t *testing.T) {
	h := newHarness(t, DispatcherOptions{}, "info")
	tests := []struct {
		target string
		key    string
		ns     title.Namespace
		want   Name
	}{
		{"/wiki/Foo", "Foo", title.NSMain, View},
		{"/index.php?title=Foo&action=historysubmit", "Foo", title.NSMain, View},
		{"/index.php?title=Foo&action=editredlink", "Foo", title.NSMain, Edit},
		{"/index.php?title=Foo&action=info", "Foo", title.NSMain, NoSuchAction},
		{"/index.php?title=Foo&action=frobnicate", "Foo", title.NSMain, NoSuchAction},
		{"/index.php?title=Foo&action=history", "Foo", title.NSMain, History},
		{"/index.php?title=Special:Search&action=edit", "Search", title.NSSpecial, View},
		{"/index.php?title=Media:X.png&action=raw", "X.png", title.NSMedia, View},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rc := h.context(t, http.MethodGet, tt.target, nil, nil)
			rc.SetTitle(h.codec.MakeTitle(tt.ns, tt.key))
			assert.Equal(t, tt.want, h.registry.Resolve(rc))
		})
	}
}

func TestResolveIsCached(t *testing.T) {
	h := newHarness(t, DispatcherOptions{})
	rc := h.context(t, http.MethodGet, "/index.php?title=Foo&action=history", nil, nil)
	rc.SetTitle(h.codec.MakeTitle(title.NSMain, "Foo"))
	require.Equal(t, History, h.registry.Resolve(rc))

	rc.Request.SetVal("action", "raw")
	assert.Equal(t, History, h.registry.Resolve(rc))
}

func TestValidate(t *testing.T) {
	empty := NewRegistry()
	err := empty.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `action "view" has no handler`)

	h := newHarness(t, DispatcherOptions{})
	assert.NoError(t, h.registry.Validate())

	h.registry.Register(&namedHandler{name: NoSuchAction})
	assert.ErrorContains(t, h.registry.Validate(), "reserved")
}

type namedHandler struct {
	name  Name
	calls int
}

func (n *namedHandler) Name() Name       { return n.name }
func (n *namedHandler) Right() string    { return "" }
func (n *namedHandler) DoesWrites() bool { return false }
func (n *namedHandler) Show(ctx context.Context, rc *request.Context, a *page.Article) error {
	n.calls++
	return nil
}

func TestPerformView(t *testing.T) {
	h := newHarness(t, DispatcherOptions{})
	rc := h.context(t, http.MethodGet, "/wiki/Foo", nil, nil)
	require.NoError(t, h.perform(t, rc, title.NSMain, "Foo"))

	out := rc.Output()
	assert.Equal(t, http.StatusOK, out.Status())
	assert.Equal(t, "Foo", out.PageTitle())
	assert.Contains(t, out.Body(), `<a href="/wiki/Bar" title="Bar">Bar</a>`)
	assert.Equal(t, 1, rc.Deferred().Len(deferred.PostSend))

	require.NoError(t, rc.Deferred().Run(context.Background(), deferred.PostSend, nil))
	require.NoError(t, rc.Session().CommitAll(context.Background(), storage.CommitOptions{}))
	check, _ := h.store.Begin(context.Background())
	pg, err := check.Pages().ByTitle(context.Background(), 0, "Foo")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pg.Views)
}

func TestPerformViewOldRevisionAndMissing(t *testing.T) {
	h := newHarness(t, DispatcherOptions{})

	rc := h.context(t, http.MethodGet, "/index.php?title=Foo&oldid=1", nil, nil)
	require.NoError(t, h.perform(t, rc, title.NSMain, "Foo"))
	assert.Contains(t, rc.Output().Body(), "first")
	assert.Zero(t, rc.Deferred().Len(deferred.PostSend), "old revisions do not count views")

	rc = h.context(t, http.MethodGet, "/index.php?title=Foo&oldid=3", nil, nil)
	require.NoError(t, h.perform(t, rc, title.NSMain, "Foo"))
	assert.Equal(t, http.StatusNotFound, rc.Output().Status())

	rc = h.context(t, http.MethodGet, "/wiki/Nope", nil, nil)
	require.NoError(t, h.perform(t, rc, title.NSMain, "Nope"))
	assert.Equal(t, http.StatusNotFound, rc.Output().Status())
	assert.Contains(t, rc.Output().Body(), output.Msg("noarticletext"))
}

func TestPerformRenderIsBodyOnly(t *testing.T) {
	h := newHarness(t, DispatcherOptions{})
	rc := h.context(t, http.MethodGet, "/index.php?title=Foo&action=render", nil, nil)
	require.NoError(t, h.perform(t, rc, title.NSMain, "Foo"))
	body, err := rc.Output().Render(output.NewSkin("Wiki", "/wiki/Main_Page"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "<p>"), string(body))
}

func TestPerformRaw(t *testing.T) {
	h := newHarness(t, DispatcherOptions{})
	rc := h.context(t, http.MethodGet, "/index.php?title=User:A/common.css&action=raw", nil, nil)
	require.NoError(t, h.perform(t, rc, title.NSUser, "A/common.css"))

	w := httptest.NewRecorder()
	require.NoError(t, rc.Output().Send(w, nil))
	assert.Equal(t, "text/css; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "body{}", w.Body.String())
}

func TestPerformHistoryAndInfo(t *testing.T) {
	h := newHarness(t, DispatcherOptions{})
	rc := h.context(t, http.MethodGet, "/index.php?title=Foo&action=history", nil, nil)
	require.NoError(t, h.perform(t, rc, title.NSMain, "Foo"))
	body := rc.Output().Body()
	assert.Equal(t, 2, strings.Count(body, "<li>"))
	assert.Less(t, strings.Index(body, "oldid=2"), strings.Index(body, "oldid=1"), "newest first")
	assert.Contains(t, body, "(link &lt;bar&gt;)")

	rc = h.context(t, http.MethodGet, "/index.php?title=Foo&action=info", nil, nil)
	require.NoError(t, h.perform(t, rc, title.NSMain, "Foo"))
	assert.Contains(t, rc.Output().Body(), "<td>wikitext</td>")
	assert.Contains(t, rc.Output().PageTitle(), "Foo")
}

func TestPerformUnknownAction(t *testing.T) {
	h := newHarness(t, DispatcherOptions{})
	rc := h.context(t, http.MethodGet, "/index.php?title=Foo&action=frobnicate", nil, nil)
	require.NoError(t, h.perform(t, rc, title.NSMain, "Foo"))
	assert.Equal(t, http.StatusNotFound, rc.Output().Status())
	assert.Equal(t, output.Msg("nosuchaction"), rc.Output().PageTitle())

	var seen hooks.UnknownActionInput
	h.hooks.UnknownAction.Add(hooks.Func("ext", func(ctx context.Context, in hooks.UnknownActionInput) (hooks.Decision, error) {
		seen = in
		return hooks.Decision{Outcome: hooks.Veto}, nil
	}), 0)
	rc = h.context(t, http.MethodGet, "/index.php?title=Foo&action=frobnicate", nil, nil)
	require.NoError(t, h.perform(t, rc, title.NSMain, "Foo"))
	assert.Equal(t, http.StatusOK, rc.Output().Status())
	assert.Equal(t, hooks.UnknownActionInput{Title: "Foo", Action: "frobnicate"}, seen)
}

func TestPerformActionHookStops(t *testing.T) {
	h := newHarness(t, DispatcherOptions{})
	h.hooks.MediaWikiPerformAction.Add(hooks.Func("takeover", func(ctx context.Context, in hooks.PerformActionInput) (hooks.Decision, error) {
		return hooks.Decision{Outcome: hooks.Veto}, nil
	}), 0)
	rc := h.context(t, http.MethodGet, "/wiki/Foo", nil, nil)
	require.NoError(t, h.perform(t, rc, title.NSMain, "Foo"))
	assert.Empty(t, rc.Output().Body())
}

func TestPerformCDNCaching(t *testing.T) {
	h := newHarness(t, DispatcherOptions{CDN: true, CDNMaxAge: 18000})

	rc := h.context(t, http.MethodGet, "/wiki/Foo", nil, nil)
	require.NoError(t, h.perform(t, rc, title.NSMain, "Foo"))
	assert.Equal(t, 18000, rc.Output().CDNMaxAge())

	rc = h.context(t, http.MethodGet, "/index.php?title=Foo&action=history", nil, nil)
	require.NoError(t, h.perform(t, rc, title.NSMain, "Foo"))
	assert.Equal(t, 18000, rc.Output().CDNMaxAge())

	rc = h.context(t, http.MethodGet, "/index.php?title=Foo&action=info", nil, nil)
	require.NoError(t, h.perform(t, rc, title.NSMain, "Foo"))
	assert.Zero(t, rc.Output().CDNMaxAge())
}

func TestPerformEditChecksRights(t *testing.T) {
	h := newHarness(t, DispatcherOptions{})
	rc := h.context(t, http.MethodGet, "/index.php?title=Foo&action=edit", nil, nil)
	err := h.perform(t, rc, title.NSMain, "Foo")
	var pe *wikierr.PermissionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "edit", pe.Action)

	rc = h.context(t, http.MethodGet, "/index.php?title=Foo&action=edit", nil, member)
	require.NoError(t, h.perform(t, rc, title.NSMain, "Foo"))
	assert.Contains(t, rc.Output().Body(), "Hello [[Bar]]")
	assert.Contains(t, rc.Output().Body(), `action="/index.php?title=Foo&amp;action=submit"`)
}

func TestPerformSubmit(t *testing.T) {
	h := newHarness(t, DispatcherOptions{})
	ctx := context.Background()
	rc := h.context(t, http.MethodPost, "/index.php?title=New_page&action=submit",
		url.Values{"wpTextbox1": {"#REDIRECT [[Foo]]"}, "wpSummary": {"make redirect"}}, member)
	require.NoError(t, h.perform(t, rc, title.NSMain, "New_page"))

	out := rc.Output()
	assert.Equal(t, http.StatusSeeOther, out.Status())
	assert.Equal(t, server+"/wiki/New_page", out.RedirectURL())
	assert.Equal(t, 1, rc.LazyJobs().Len())
	assert.True(t, rc.Session().HasRecentWrites())

	require.NoError(t, rc.Session().CommitAll(ctx, storage.CommitOptions{}))
	check, _ := h.store.Begin(ctx)
	pg, err := check.Pages().ByTitle(ctx, 0, "New_page")
	require.NoError(t, err)
	assert.True(t, pg.IsRedirect)
	assert.Equal(t, "Foo", pg.RedirectTarget)
}

func TestPerformSubmitReadOnly(t *testing.T) {
	h := newHarness(t, DispatcherOptions{ReadOnly: "maintenance"})
	rc := h.context(t, http.MethodPost, "/index.php?title=Foo&action=submit", url.Values{"wpTextbox1": {"x"}}, member)
	err := h.perform(t, rc, title.NSMain, "Foo")
	var ro *wikierr.ReadOnlyError
	require.ErrorAs(t, err, &ro)
	assert.False(t, rc.Session().HasRecentWrites())
}

func TestPerformPurge(t *testing.T) {
	h := newHarness(t, DispatcherOptions{})
	ctx := context.Background()

	rc := h.context(t, http.MethodGet, "/index.php?title=Foo&action=purge", nil, member)
	require.NoError(t, h.perform(t, rc, title.NSMain, "Foo"))
	assert.Contains(t, rc.Output().Body(), `method="post"`)
	assert.False(t, rc.Session().HasRecentWrites())

	rc = h.context(t, http.MethodPost, "/index.php?title=Foo&action=purge", url.Values{}, member)
	require.NoError(t, h.perform(t, rc, title.NSMain, "Foo"))
	assert.Equal(t, server+"/wiki/Foo", rc.Output().RedirectURL())
	require.Equal(t, 1, rc.Deferred().Len(deferred.PostSend))

	require.NoError(t, rc.Deferred().Run(ctx, deferred.PostSend, nil))
	require.NoError(t, rc.Session().CommitAll(ctx, storage.CommitOptions{}))
	check, _ := h.store.Begin(ctx)
	pg, err := check.Pages().ByTitle(ctx, 0, "Foo")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0), pg.Touched)
	links, err := check.Pages().Links(ctx, pg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bar"}, links)
}
