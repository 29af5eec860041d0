package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tjfontaine/wikifront/internal/access"
	"github.com/tjfontaine/wikifront/internal/action"
	"github.com/tjfontaine/wikifront/internal/article"
	"github.com/tjfontaine/wikifront/internal/auth"
	"github.com/tjfontaine/wikifront/internal/config"
	"github.com/tjfontaine/wikifront/internal/deferred"
	"github.com/tjfontaine/wikifront/internal/hooks"
	"github.com/tjfontaine/wikifront/internal/jobs"
	"github.com/tjfontaine/wikifront/internal/output"
	"github.com/tjfontaine/wikifront/internal/page"
	"github.com/tjfontaine/wikifront/internal/permission"
	"github.com/tjfontaine/wikifront/internal/redirect"
	"github.com/tjfontaine/wikifront/internal/request"
	"github.com/tjfontaine/wikifront/internal/resolve"
	"github.com/tjfontaine/wikifront/internal/server"
	"github.com/tjfontaine/wikifront/internal/special"
	"github.com/tjfontaine/wikifront/internal/storage"
	"github.com/tjfontaine/wikifront/internal/storage/memory"
	"github.com/tjfontaine/wikifront/internal/storage/sqlite"
	"github.com/tjfontaine/wikifront/internal/title"
)

const testServer = "http://wiki.example.org"

var member = &auth.User{Name: "Alice"}

type harness struct {
	codec  *title.Codec
	store  *memory.Store
	hooks  *hooks.Registry
	runner *jobs.Runner
	stages Stages
	coord  *Coordinator
}

type harnessConfig struct {
	server  string
	opts    Options
	trigger *jobs.TriggerConfig
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	ctx := context.Background()
	if cfg.server == "" {
		cfg.server = testServer
	}
	codec := title.NewCodec(title.Options{
		Server:       cfg.server,
		CapitalLinks: true,
		Interwiki: map[string]title.Interwiki{
			"meta": {URL: "http://meta.example.org/wiki/$1", Local: true},
			"ext":  {URL: "http://ext.example.org/$1"},
		},
	})

	store := memory.New()
	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	// Revision 1 is Foo, 2 to 41 are Filler and 42 is Bar.
	_, err = sess.Pages().Save(ctx, &storage.Page{DBKey: "Foo"}, "Hello [[Bar]]", "", "Alice")
	require.NoError(t, err)
	filler := &storage.Page{DBKey: "Filler"}
	for i := range 40 {
		_, err = sess.Pages().Save(ctx, filler, "filler "+strconv.Itoa(i), "", "")
		require.NoError(t, err)
	}
	rev, err := sess.Pages().Save(ctx, &storage.Page{DBKey: "Bar"}, "Text of bar", "", "")
	require.NoError(t, err)
	require.Equal(t, int64(42), rev.ID)
	_, err = sess.Pages().Save(ctx, &storage.Page{DBKey: "Hidden"}, "secret text", "", "")
	require.NoError(t, err)
	require.NoError(t, sess.CommitAll(ctx, storage.CommitOptions{}))

	policy, err := permission.NewPolicy(codec, config.PermissionsConfig{
		Rights: map[string][]string{
			"*":    {"read"},
			"user": {"read", "edit", "purge"},
		},
		Protected: []config.ProtectedConfig{{Title: "Hidden", Right: "read", Group: "sysop"}},
	})
	require.NoError(t, err)

	links := jobs.NewLinkRefresher(codec)
	runner := jobs.NewRunner(store, 3, nil)
	runner.Register(jobs.TypeRefreshLinks, links)

	hr := hooks.NewRegistry()
	specials := special.NewRegistry()
	special.RegisterDefaults(specials, special.Env{Codec: codec, Runner: runner, SecretKey: "s3cret", Hooks: hr, Software: "wikifront"})

	loader := page.NewLoader(codec)
	actions := action.NewRegistry()
	action.RegisterDefaults(actions, &action.Env{
		Codec:  codec,
		Loader: loader,
		Links:  links,
		Now:    func() time.Time { return time.Unix(1700000000, 0) },
	})

	stages := Stages{
		Codec:       codec,
		Store:       store,
		Hooks:       hr,
		Resolver:    resolve.NewResolver(codec, nil),
		Normalizer:  redirect.NewNormalizer(codec, hr.TestCanonicalRedirect, specials, redirect.Options{MaxAge: 18000}),
		Gate:        access.NewGate(codec, policy),
		Initializer: article.NewInitializer(loader, hr.InitializeArticleMaybeRedirect, false),
		Dispatcher:  action.NewDispatcher(codec, actions, policy, hr, action.DispatcherOptions{CDN: true, CDNMaxAge: 18000}),
		Special:     specials,
	}
	if cfg.trigger != nil {
		stages.Trigger = jobs.NewTrigger(*cfg.trigger, codec, runner, nil, nil)
	}
	return &harness{
		codec:  codec,
		store:  store,
		hooks:  hr,
		runner: runner,
		stages: stages,
		coord:  New(stages, cfg.opts, nil),
	}
}

// do runs one request through the coordinator and returns the response and
// the request context it used.
func (h *harness) do(t *testing.T, r *http.Request) (*httptest.ResponseRecorder, *request.Context) {
	t.Helper()
	rc, err := h.coord.newContext(r)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	h.coord.Run(r.Context(), w, rc)
	h.coord.Wait()
	return w, rc
}

func (h *harness) get(t *testing.T, target string, u *auth.User) (*httptest.ResponseRecorder, *request.Context) {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if u != nil {
		r = r.WithContext(auth.WithUser(r.Context(), u))
	}
	return h.do(t, r)
}

func (h *harness) post(t *testing.T, target string, form url.Values, u *auth.User) (*httptest.ResponseRecorder, *request.Context) {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if u != nil {
		r = r.WithContext(auth.WithUser(r.Context(), u))
	}
	return h.do(t, r)
}

func currentKey(rc *request.Context) string {
	t, _ := rc.Title()
	return t.PrefixedDBKey()
}

var fullLifecycle = []request.Phase{
	request.PhaseInit,
	request.PhaseRouting,
	request.PhaseDispatching,
	request.PhasePreCommit,
	request.PhaseOutput,
	request.PhasePostResponse,
	request.PhaseTerminal,
}

func TestViewThroughArticlePath(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	w, rc := h.get(t, "/wiki/Foo", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `<a href="/wiki/Bar" title="Bar">Bar</a>`)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, strconv.Itoa(w.Body.Len()), w.Header().Get("Content-Length"))
	if diff := cmp.Diff(fullLifecycle, rc.Phases()); diff != "" {
		t.Errorf("phases mismatch (-want +got):\n%s", diff)
	}
	act, _ := rc.Action()
	assert.Equal(t, "view", act)
}

func TestServeHTTPUsesPrincipal(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	r := httptest.NewRequest(http.MethodGet, "/index.php?title=Foo&action=edit", nil)
	r = r.WithContext(auth.WithUser(r.Context(), member))
	w := httptest.NewRecorder()
	h.coord.ServeHTTP(w, r)
	h.coord.Wait()

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `name="wpTextbox1"`)
}

func TestSearchParameterRoutesToSearch(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	w, rc := h.get(t, "/index.php?search=Foo", nil)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, testServer+"/wiki/Foo", w.Header().Get("Location"))
	assert.Equal(t, "Special:Search", currentKey(rc))
}

func TestCanonicalRedirect(t *testing.T) {
	h := newHarness(t, harnessConfig{opts: Options{CDN: true}})
	w, rc := h.get(t, "/index.php?title=Foo%20Bar", nil)

	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, testServer+"/wiki/Foo_Bar", w.Header().Get("Location"))
	assert.Equal(t, "s-maxage=18000, must-revalidate, max-age=0", w.Header().Get("Cache-Control"))
	assert.NotContains(t, rc.Phases(), request.PhaseDispatching)
	assert.Contains(t, rc.Phases(), request.PhasePreCommit)
}

func TestRevisionIDWinsOverTitle(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	w, rc := h.get(t, "/index.php?title=Baz&oldid=42", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Bar", currentKey(rc))
	assert.Contains(t, w.Body.String(), "Text of bar")
}

func TestReadDenialHidesTitle(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	for _, u := range []*auth.User{nil, member} {
		w, rc := h.get(t, "/index.php?title=Hidden", u)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.NotContains(t, w.Body.String(), "Hidden")
		assert.NotContains(t, w.Body.String(), "secret text")
		assert.Contains(t, w.Body.String(), output.Msg("permissionserrors"))
		assert.Equal(t, "Special:Badtitle", currentKey(rc))
	}
}

func TestBadTitleRunsPreCommitOnce(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	w, rc := h.get(t, "/index.php?title=%3CFoo%3E", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), output.Msg("badtitle"))
	want := []request.Phase{
		request.PhaseInit,
		request.PhaseRouting,
		request.PhasePreCommit,
		request.PhaseOutput,
		request.PhasePostResponse,
		request.PhaseTerminal,
	}
	if diff := cmp.Diff(want, rc.Phases()); diff != "" {
		t.Errorf("phases mismatch (-want +got):\n%s", diff)
	}
}

func TestDirectBadtitleRequest(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	w, _ := h.get(t, "/wiki/Special:Badtitle", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInterwikiTitles(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	w, _ := h.get(t, "/index.php?title=meta:Some_page", nil)
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "http://meta.example.org/wiki/Some_page", w.Header().Get("Location"))

	w, _ = h.get(t, "/index.php?title=meta:Some_page&rdfrom=Old", nil)
	assert.Equal(t, "http://meta.example.org/wiki/Some_page?rdfrom=Old", w.Header().Get("Location"))

	w, rc := h.get(t, "/index.php?title=ext:Elsewhere", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Special:Badtitle", currentKey(rc))
}

func TestRedirectLoopIsDiagnosed(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	// Without path routing the title parameter is missing, so the
	// canonical URL equals the request URL.
	r := httptest.NewRequest(http.MethodGet, "/wiki/Main_Page", nil)
	sess, err := h.store.Begin(r.Context())
	require.NoError(t, err)
	rc := request.NewContext(request.New(r, testServer), nil, output.NewPage(output.Options{}), sess, deferred.NewQueue(nil))
	w := httptest.NewRecorder()
	h.coord.Run(r.Context(), w, rc)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "Redirect loop detected!")
	assert.NotContains(t, rc.Phases(), request.PhasePreCommit)
	assert.Equal(t, request.PhaseTerminal, rc.Phase())
}

func TestMaxLag(t *testing.T) {
	tests := []struct {
		maxlag     string
		status     int
		retryAfter string
	}{
		{"7", http.StatusServiceUnavailable, "7"},
		{"1", http.StatusServiceUnavailable, "5"},
		{"20", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.maxlag, func(t *testing.T) {
			h := newHarness(t, harnessConfig{})
			h.store.SetLag(10 * time.Second)
			w, _ := h.get(t, "/index.php?title=Foo&maxlag="+tt.maxlag, nil)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.retryAfter, w.Header().Get("Retry-After"))
			if tt.status == http.StatusServiceUnavailable {
				assert.Equal(t, "10", w.Header().Get("X-Database-Lag"))
				assert.Equal(t, "Waiting for a database server: 10 seconds lagged\n", w.Body.String())
			}
		})
	}
}

func TestLaggedReplicaCapsCaching(t *testing.T) {
	h := newHarness(t, harnessConfig{opts: Options{CDN: true, MaxAgeLagged: 30}})
	h.store.SetLag(10 * time.Second)
	w, _ := h.get(t, "/wiki/Foo", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("X-Database-Lagged"))
	assert.Equal(t, "s-maxage=30, must-revalidate, max-age=0", w.Header().Get("Cache-Control"))
}

func TestHTTPSUpgrade(t *testing.T) {
	secure := &auth.User{Name: "Bob", ForceHTTPS: true}

	t.Run("principal requires https", func(t *testing.T) {
		h := newHarness(t, harnessConfig{server: "//wiki.example.org"})
		w, _ := h.get(t, "/wiki/Foo", secure)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://wiki.example.org/wiki/Foo", w.Header().Get("Location"))
		assert.Equal(t, "X-Forwarded-Proto", w.Header().Get("Vary"))
	})

	t.Run("cookie requires https", func(t *testing.T) {
		h := newHarness(t, harnessConfig{server: "//wiki.example.org"})
		r := httptest.NewRequest(http.MethodGet, "/wiki/Foo", nil)
		r.AddCookie(&http.Cookie{Name: "forceHTTPS", Value: "1"})
		w, _ := h.do(t, r)
		assert.Equal(t, http.StatusFound, w.Code)
	})

	t.Run("already secure", func(t *testing.T) {
		h := newHarness(t, harnessConfig{server: "//wiki.example.org"})
		r := httptest.NewRequest(http.MethodGet, "/wiki/Foo", nil)
		r.Header.Set("X-Forwarded-Proto", "https")
		r = r.WithContext(auth.WithUser(r.Context(), secure))
		w, _ := h.do(t, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("http-only server", func(t *testing.T) {
		h := newHarness(t, harnessConfig{})
		w, _ := h.get(t, "/wiki/Foo", secure)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("hook vetoes", func(t *testing.T) {
		h := newHarness(t, harnessConfig{server: "//wiki.example.org"})
		var seen hooks.HTTPSRedirectInput
		h.hooks.BeforeHTTPSRedirect.Add(hooks.Func("keep-http", func(ctx context.Context, in hooks.HTTPSRedirectInput) (hooks.Decision, error) {
			seen = in
			return hooks.Decision{Outcome: hooks.Veto}, nil
		}), 0)
		w, _ := h.get(t, "/wiki/Foo", secure)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, hooks.HTTPSRedirectInput{Title: "Foo", URL: "https://wiki.example.org/wiki/Foo"}, seen)
	})
}

func TestPrintable(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	w, _ := h.get(t, "/index.php?title=Foo&printable=yes", nil)
	assert.Contains(t, w.Body.String(), "print.css")
	assert.NotContains(t, w.Body.String(), `id="site-header"`)
}

func TestWriteSetsStickyCookies(t *testing.T) {
	h := newHarness(t, harnessConfig{opts: Options{CDN: true, StickTTL: 10 * time.Second}})
	w, _ := h.post(t, "/index.php?title=Foo&action=purge", url.Values{}, member)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	cookies := map[string]string{}
	for _, c := range w.Result().Cookies() {
		cookies[c.Name] = c.Value
		assert.Equal(t, 10, c.MaxAge)
	}
	assert.Equal(t, map[string]string{"UseDC": "master", "UseCDNCache": "false"}, cookies)
	assert.True(t, strings.HasPrefix(w.Header().Get("Cache-Control"), "private"))

	// The purge's link refresh ran after the response.
	sess, err := h.store.Begin(context.Background())
	require.NoError(t, err)
	pg, err := sess.Pages().ByTitle(context.Background(), 0, "Foo")
	require.NoError(t, err)
	links, err := sess.Pages().Links(context.Background(), pg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bar"}, links)
}

func TestReadOnlyRequestSetsNoCookies(t *testing.T) {
	h := newHarness(t, harnessConfig{opts: Options{StickTTL: 10 * time.Second}})
	w, _ := h.get(t, "/wiki/Foo", nil)
	assert.Empty(t, w.Result().Cookies())
}

func TestDeferredPostResponseRunsJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, harnessConfig{
		opts:    Options{DeferPostResponse: true},
		trigger: &jobs.TriggerConfig{Rate: 1},
	})
	var results []jobs.Result
	h.stages.Trigger.OnResult(func(r jobs.Result) { results = append(results, r) })

	w, rc := h.post(t, "/index.php?title=New_page&action=submit",
		url.Values{"wpTextbox1": {"See [[Foo]]"}, "wpSummary": {"new"}}, member)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, request.PhaseTerminal, rc.Phase())
	assert.Equal(t, []jobs.Result{jobs.ResultRanSync}, results)
	assert.Zero(t, h.store.JobCount())

	sess, err := h.store.Begin(context.Background())
	require.NoError(t, err)
	pg, err := sess.Pages().ByTitle(context.Background(), 0, "New_page")
	require.NoError(t, err)
	links, err := sess.Pages().Links(context.Background(), pg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Foo"}, links)
}

func TestPanicIsContained(t *testing.T) {
	h := newHarness(t, harnessConfig{trigger: &jobs.TriggerConfig{Rate: 1}})
	var triggered bool
	h.stages.Trigger.OnResult(func(jobs.Result) { triggered = true })
	h.hooks.BeforeInitialize.Add(hooks.Func("explode", func(ctx context.Context, in hooks.BeforeInitializeInput) (hooks.Decision, error) {
		panic("boom")
	}), 0)

	w, rc := h.get(t, "/wiki/Foo", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, output.Msg("internalerror"), w.Body.String())
	assert.NotContains(t, rc.Phases(), request.PhaseOutput)
	assert.Equal(t, request.PhaseTerminal, rc.Phase())
	assert.False(t, triggered, "fast mode skips the job trigger")
}

func TestBeforeInitializeVetoDenies(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.hooks.BeforeInitialize.Add(hooks.Func("deny", func(ctx context.Context, in hooks.BeforeInitializeInput) (hooks.Decision, error) {
		return hooks.Decision{Outcome: hooks.Veto}, nil
	}), 0)

	w, rc := h.get(t, "/wiki/Foo", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Special:Badtitle", currentKey(rc))
}

type shutdownPanics struct {
	storage.Session
}

func (shutdownPanics) Shutdown(context.Context) error { panic("shutdown failed") }

func TestPostResponsePanicIsContained(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	r := httptest.NewRequest(http.MethodGet, "/wiki/Foo", nil)
	sess, err := h.store.Begin(r.Context())
	require.NoError(t, err)
	req := request.New(r, testServer)
	req.SetVal("title", "Foo")
	rc := request.NewContext(req, nil, output.NewPage(output.Options{}), shutdownPanics{sess}, deferred.NewQueue(nil))

	w := httptest.NewRecorder()
	require.NotPanics(t, func() { h.coord.Run(r.Context(), w, rc) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, request.PhaseTerminal, rc.Phase())
}

// infoStub replaces the info action so a test can act mid-dispatch.
type infoStub struct {
	show func(ctx context.Context, rc *request.Context) error
}

func (infoStub) Name() action.Name { return action.Info }
func (infoStub) Right() string { return "" }
func (infoStub) DoesWrites() bool { return false }
func (s infoStub) Show(ctx context.Context, rc *request.Context, a *page.Article) error {
	return s.show(ctx, rc)
}

func TestClientDisconnectAfterRoutingStillCommits(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := sqlite.New(ctx, dir+"/wiki.db", dir+"/jobs.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	seed, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = seed.Pages().Save(ctx, &storage.Page{DBKey: "Foo"}, "Hello", "", "")
	require.NoError(t, err)
	require.NoError(t, seed.CommitAll(ctx, storage.CommitOptions{}))
	require.NoError(t, seed.Shutdown(ctx))

	h := newHarness(t, harnessConfig{})
	h.stages.Store = store
	coord := New(h.stages, Options{}, nil)

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	h.stages.Dispatcher.Registry().Register(infoStub{show: func(ctx context.Context, rc *request.Context) error {
		if _, err := rc.Session().Pages().Save(ctx, &storage.Page{DBKey: "Written"}, "kept", "", ""); err != nil {
			return err
		}
		cancel()
		rc.Output().AddParagraph("saved")
		return nil
	}})

	r := httptest.NewRequest(http.MethodGet, "/index.php?title=Foo&action=info", nil).WithContext(reqCtx)
	w := httptest.NewRecorder()
	coord.ServeHTTP(w, r)
	coord.Wait()

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	check, err := store.Begin(ctx)
	require.NoError(t, err)
	defer check.Shutdown(ctx)
	pg, err := check.Pages().ByTitle(ctx, 0, "Written")
	require.NoError(t, err, "write lost after the client went away")
	assert.Equal(t, "Written", pg.DBKey)
}

func TestPreSendFailureIsLogged(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.stages.Dispatcher.Registry().Register(infoStub{show: func(ctx context.Context, rc *request.Context) error {
		rc.Deferred().Add(deferred.PreSend, deferred.Func(func(context.Context) error {
			return errors.New("counter update failed")
		}))
		rc.Output().AddParagraph("info")
		return nil
	}})

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	handler := server.LoggingMiddleware(logger)(h.coord)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/index.php?title=Foo&action=info", nil))
	h.coord.Wait()

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, logs.String(), `"error":"counter update failed"`)
}
