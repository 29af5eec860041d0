// Package lifecycle drives a request through routing, dispatch, commit,
// output and the work done after the response has been sent.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/wikifront/internal/access"
	"github.com/tjfontaine/wikifront/internal/action"
	"github.com/tjfontaine/wikifront/internal/article"
	"github.com/tjfontaine/wikifront/internal/auth"
	"github.com/tjfontaine/wikifront/internal/deferred"
	"github.com/tjfontaine/wikifront/internal/hooks"
	"github.com/tjfontaine/wikifront/internal/jobs"
	"github.com/tjfontaine/wikifront/internal/output"
	"github.com/tjfontaine/wikifront/internal/redirect"
	"github.com/tjfontaine/wikifront/internal/request"
	"github.com/tjfontaine/wikifront/internal/resolve"
	"github.com/tjfontaine/wikifront/internal/server"
	"github.com/tjfontaine/wikifront/internal/special"
	"github.com/tjfontaine/wikifront/internal/storage"
	"github.com/tjfontaine/wikifront/internal/telemetry"
	"github.com/tjfontaine/wikifront/internal/title"
	"github.com/tjfontaine/wikifront/internal/wikierr"
)

// Mode selects how much post-response work runs.
type Mode string

const (
	// ModeNormal runs everything, including the job trigger.
	ModeNormal Mode = "normal"
	// ModeFast skips the job trigger; used after a panic.
	ModeFast Mode = "fast"
)

// Request outcomes, used for the outcome log field and metric label.
const (
	OutcomeOK        = "ok"
	OutcomeRedirect  = "redirect"
	OutcomeErrorPage = "error_page"
	OutcomeException = "exception"
	OutcomeLagged    = "lagged"
)

// Stages are the collaborators a Coordinator drives. Trigger may be nil.
type Stages struct {
	Codec       *title.Codec
	Store       storage.Factory
	Hooks       *hooks.Registry
	Resolver    *resolve.Resolver
	Normalizer  *redirect.Normalizer
	Gate        *access.Gate
	Initializer *article.Initializer
	Dispatcher  *action.Dispatcher
	Special     *special.Registry
	Trigger     *jobs.Trigger
	Skin        *output.Skin
}

// Options tunes the coordinator.
type Options struct {
	// CDN enables shared-cache headers on cacheable responses.
	CDN bool
	// ForceHTTPS upgrades every plain-HTTP request.
	ForceHTTPS bool
	// MaxAgeLagged caps the edge cache lifetime when a lagged replica was read.
	MaxAgeLagged int
	// StickTTL is the lifetime of the cookies that pin a writer to the primary.
	StickTTL time.Duration
	// MaxWriteDuration bounds the pre-output commit.
	MaxWriteDuration time.Duration
	// DeferPostResponse runs post-response work after the handler returns.
	DeferPostResponse bool
}

// Coordinator is the single entry point for wiki page requests.
type Coordinator struct {
	stages Stages
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer

	wg sync.WaitGroup
}

// New returns a coordinator over stages.
func New(stages Stages, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if stages.Hooks == nil {
		stages.Hooks = hooks.NewRegistry()
	}
	if stages.Skin == nil {
		stages.Skin = output.NewSkin("", stages.Codec.LocalURL(stages.Codec.MainPage(), ""))
	}
	return &Coordinator{
		stages: stages,
		opts:   opts,
		logger: logger,
		tracer: telemetry.Tracer(),
	}
}

// Wait blocks until in-flight post-response work has finished.
func (c *Coordinator) Wait() { c.wg.Wait() }

// run is the per-request bookkeeping of the coordinator.
type run struct {
	ctx context.Context
	rc  *request.Context
	w   http.ResponseWriter

	span       trace.Span
	phaseSpan  trace.Span
	phaseStart time.Time

	outcome string
	sent    bool
}

// ServeHTTP opens a store session, binds the request context and runs it.
func (c *Coordinator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc, err := c.newContext(r)
	if err != nil {
		c.logger.Error("failed to open store session", slog.String("error", err.Error()))
		server.AddError(ctx, err)
		telemetry.RequestsTotal.WithLabelValues(OutcomeException).Inc()
		output.WriteDiagnostic(w, http.StatusServiceUnavailable, output.Msg("internalerror"))
		return
	}
	c.Run(ctx, w, rc)
}

func (c *Coordinator) newContext(r *http.Request) (*request.Context, error) {
	sess, err := c.stages.Store.Begin(r.Context())
	if err != nil {
		return nil, err
	}
	req := request.New(r, c.stages.Codec.Server())
	if key, ok := c.pathTitle(r); ok {
		req.SetVal("title", key)
	}
	out := output.NewPage(output.Options{CDN: c.opts.CDN})
	return request.NewContext(req, auth.UserFromContext(r.Context()), out, sess, deferred.NewQueue(c.logger)), nil
}

// pathTitle extracts the title from an article-path URL such as /wiki/Foo.
func (c *Coordinator) pathTitle(r *http.Request) (string, bool) {
	prefix, _, ok := strings.Cut(c.stages.Codec.Options().ArticlePath, "$1")
	if !ok || prefix == "" || !strings.HasPrefix(r.URL.Path, prefix) {
		return "", false
	}
	return strings.TrimPrefix(r.URL.Path, prefix), true
}

// Run takes rc from Init to Terminal. Post-response work may still be
// running when Run returns; see Wait.
func (c *Coordinator) Run(ctx context.Context, w http.ResponseWriter, rc *request.Context) {
	ctx, span := c.tracer.Start(ctx, "wikifront.request")
	r := &run{ctx: ctx, rc: rc, w: w, span: span, phaseStart: time.Now(), outcome: OutcomeOK}

	mode := ModeNormal
	func() {
		defer func() {
			if v := recover(); v != nil {
				mode = ModeFast
				c.handleException(r, fmt.Errorf("panic: %v", v))
			}
		}()
		if c.checkMaxLag(r) {
			return
		}
		c.main(r)
	}()

	c.record(r)
	c.postResponse(r, mode)
}

func (c *Coordinator) enter(r *run, p request.Phase) {
	now := time.Now()
	telemetry.PhaseDuration.WithLabelValues(r.rc.Phase().String()).Observe(now.Sub(r.phaseStart).Seconds())
	r.phaseStart = now
	r.rc.Enter(p)

	if r.phaseSpan != nil {
		r.phaseSpan.End()
		r.phaseSpan = nil
	}
	if p != request.PhaseTerminal {
		_, r.phaseSpan = c.tracer.Start(r.ctx, "wikifront."+p.String())
	}
}

// checkMaxLag answers 503 when the client asked for a lag ceiling the
// replicas exceed. It reports whether it did.
func (c *Coordinator) checkMaxLag(r *run) bool {
	req := r.rc.Request
	if !req.Check("maxlag") {
		return false
	}
	maxLag := req.Int("maxlag")
	lag, err := r.rc.Session().MaxLag(r.ctx)
	if err != nil {
		c.logger.Warn("replica lag check failed", slog.String("error", err.Error()))
		return false
	}
	if lag.Seconds() <= float64(maxLag) {
		return false
	}

	seconds := int64(lag.Seconds())
	out := r.rc.Output()
	out.Disable()
	out.SetStatus(http.StatusServiceUnavailable)
	out.Header().Set("Retry-After", strconv.FormatInt(max(maxLag, 5), 10))
	out.Header().Set("X-Database-Lag", strconv.FormatInt(seconds, 10))
	out.SetRaw("text/plain; charset=utf-8", fmt.Appendf(nil, "Waiting for a database server: %d seconds lagged\n", seconds))
	r.outcome = OutcomeLagged
	c.output(r)
	return true
}

func (c *Coordinator) main(r *run) {
	rc := r.rc
	c.enter(r, request.PhaseRouting)

	var reason string
	res, err := c.stages.Resolver.Resolve(r.ctx, rc.Request, rc.Session())
	var malformed *title.MalformedError
	switch {
	case errors.As(err, &malformed):
		reason = malformed.Reason
		rc.SetTitle(c.stages.Codec.BadTitle())
	case err != nil:
		c.handleException(r, fmt.Errorf("resolve title: %w", err))
		return
	default:
		rc.SetTitle(res.Title)
		rc.SetVariantText(res.VariantText)
	}
	act := string(c.stages.Dispatcher.Registry().Resolve(rc))

	// Past routing a client disconnect or server timeout no longer cancels
	// the request; dispatch and commit run to completion.
	r.ctx = context.WithoutCancel(r.ctx)

	if !c.upgradeHTTPS(r) {
		if err := c.performRequest(r, reason, act); err != nil {
			ep, ok := wikierr.AsErrorPage(err)
			if !ok {
				c.handleException(r, err)
				return
			}
			var denied *wikierr.PermissionError
			if errors.As(err, &denied) {
				telemetry.PermissionDenialsTotal.WithLabelValues(denied.Action).Inc()
			}
			c.logger.Debug("error page", slog.String("error", err.Error()))
			server.AddError(r.ctx, err)
			ep.Report(rc.Output())
			r.outcome = OutcomeErrorPage
		}
	}

	if err := c.preOutputCommit(r); err != nil {
		c.handleException(r, err)
		return
	}
	c.output(r)
}

// upgradeHTTPS redirects plain-HTTP requests of principals that require
// HTTPS, unless a BeforeHttpsRedirect hook vetoes it.
func (c *Coordinator) upgradeHTTPS(r *run) bool {
	rc := r.rc
	req := rc.Request
	if req.Protocol() != "http" {
		return false
	}
	if !c.opts.ForceHTTPS && !rc.User().ForceHTTPS && req.Cookie("forceHTTPS") == "" {
		return false
	}
	if !strings.HasPrefix(c.stages.Codec.Expand(req.RequestURL(), "https"), "https://") {
		return false
	}

	target := "https://" + strings.TrimPrefix(req.FullRequestURL(), "http://")
	t, _ := rc.Title()
	d, err := c.stages.Hooks.BeforeHTTPSRedirect.Run(r.ctx, hooks.HTTPSRedirectInput{Title: t.PrefixedDBKey(), URL: target})
	switch {
	case err != nil:
		c.logger.Warn("hook failed", slog.String("point", string(hooks.BeforeHTTPSRedirect)), slog.String("error", err.Error()))
	case d.Vetoed():
		return false
	case d.Overridden() && d.Value != "":
		target = d.Value
	}

	if req.WasPosted() {
		c.logger.Warn("upgrading a POST to HTTPS, the body will be lost", slog.String("url", target))
	}
	out := rc.Output()
	out.Redirect(target, http.StatusFound)
	out.AddVary("X-Forwarded-Proto")
	telemetry.RedirectsTotal.WithLabelValues("https").Inc()
	return true
}

func (c *Coordinator) performRequest(r *run, reason, act string) error {
	ctx := r.ctx
	rc := r.rc
	req := rc.Request
	out := rc.Output()
	codec := c.stages.Codec

	if req.Val("printable", "") == "yes" {
		out.SetPrintable(true)
	}

	t, _ := rc.Title()
	d, err := c.stages.Hooks.BeforeInitialize.Run(ctx, hooks.BeforeInitializeInput{
		Title:  t.PrefixedDBKey(),
		Action: act,
		User:   rc.User().Name,
	})
	switch {
	case err != nil:
		c.logger.Warn("hook failed", slog.String("point", string(hooks.BeforeInitialize)), slog.String("error", err.Error()))
	case d.Vetoed():
		rc.SetTitle(codec.BadTitle())
		return &wikierr.PermissionError{Action: "read", Errors: []string{"badaccess-group0"}}
	case d.Overridden():
		nt, err := codec.Parse(d.Value)
		if err != nil {
			rc.SetTitle(codec.BadTitle())
			return &wikierr.BadTitleError{}
		}
		rc.SetTitle(nt)
	}

	t, _ = rc.Title()
	if (t.DBKey() == "" && !t.IsExternal()) || codec.IsBadTitle(t) {
		rc.SetTitle(codec.BadTitle())
		return &wikierr.BadTitleError{Reason: reason}
	}

	if err := c.stages.Gate.Check(ctx, rc); err != nil {
		return err
	}

	t, _ = rc.Title()
	if t.IsExternal() {
		return c.interwikiRedirect(r, t)
	}

	dec, err := c.stages.Normalizer.Normalize(ctx, rc)
	if err != nil {
		return err
	}
	switch dec.Kind {
	case redirect.Redirect:
		out.Redirect(dec.URL, dec.Code)
		out.SetCDNMaxAge(dec.CDNMaxAge)
		telemetry.RedirectsTotal.WithLabelValues("canonical").Inc()
		return nil
	case redirect.Fatal:
		return dec.Err
	}

	c.enter(r, request.PhaseDispatching)
	if t.IsSpecialPage() {
		return c.stages.Special.Execute(ctx, rc, t)
	}

	res, err := c.stages.Initializer.Initialize(ctx, rc, act)
	if err != nil {
		return err
	}
	switch {
	case res.URL != "":
		out.Redirect(res.URL, 0)
		telemetry.RedirectsTotal.WithLabelValues("article").Inc()
		return nil
	case res.Article != nil:
		return c.stages.Dispatcher.Perform(ctx, rc, res.Article, t)
	default:
		return &wikierr.InternalStateError{Msg: "initializer returned neither an article nor a URL"}
	}
}

// interwikiRedirect sends interwiki titles to the foreign wiki. Only wikis
// marked local are followed, and never back to this server.
func (c *Coordinator) interwikiRedirect(r *run, t title.Title) error {
	codec := c.stages.Codec
	req := r.rc.Request

	var query string
	if rdfrom := req.Val("rdfrom", ""); rdfrom != "" {
		query = title.EncodeQuery(url.Values{"rdfrom": {rdfrom}})
	} else {
		values := req.Values()
		values.Del("title")
		query = title.EncodeQuery(values)
	}
	target := codec.FullURL(t, query)
	iw, _ := codec.InterwikiFor(t.Interwiki())
	if !strings.HasPrefix(target, codec.Server()) && iw.Local {
		r.rc.Output().Redirect(target, http.StatusMovedPermanently)
		telemetry.RedirectsTotal.WithLabelValues("interwiki").Inc()
		return nil
	}
	r.rc.SetTitle(codec.BadTitle())
	return &wikierr.BadTitleError{}
}

// preOutputCommit makes the request's writes durable before any byte of
// the response leaves, so a client following a redirect sees them.
func (c *Coordinator) preOutputCommit(r *run) error {
	c.enter(r, request.PhasePreCommit)
	rc := r.rc
	sess := rc.Session()

	// The response still goes out when a pre-send update fails.
	if err := rc.Deferred().Run(r.ctx, deferred.PreSend, sess.Jobs().Push); err != nil {
		server.AddError(r.ctx, err)
	}

	if err := sess.CommitAll(r.ctx, storage.CommitOptions{MaxWriteDuration: c.opts.MaxWriteDuration}); err != nil {
		return fmt.Errorf("commit before output: %w", err)
	}

	out := rc.Output()
	if sess.HasRecentWrites() && c.opts.StickTTL > 0 {
		ttl := int(c.opts.StickTTL.Seconds())
		expires := time.Now().Add(c.opts.StickTTL)
		out.AddCookie(&http.Cookie{Name: "UseDC", Value: "master", Path: "/", MaxAge: ttl, Expires: expires})
		out.AddCookie(&http.Cookie{Name: "UseCDNCache", Value: "false", Path: "/", MaxAge: ttl, Expires: expires})
	}
	if sess.UsedLaggedReplica() {
		out.LowerCDNMaxAge(c.opts.MaxAgeLagged)
		out.Header().Set("X-Database-Lagged", "true")
	}
	return nil
}

func (c *Coordinator) output(r *run) {
	c.enter(r, request.PhaseOutput)
	out := r.rc.Output()
	if _, err := out.Render(c.stages.Skin); err != nil {
		c.handleException(r, err)
		return
	}
	r.sent = true
	if err := out.Send(r.w, c.stages.Skin); err != nil {
		c.logger.Warn("failed to write response", slog.String("error", err.Error()))
		return
	}
	if f, ok := r.w.(http.Flusher); ok {
		f.Flush()
	}
}

// handleException is the single handler for errors that are not error
// pages. Uncommitted work is rolled back and a raw diagnostic written.
func (c *Coordinator) handleException(r *run, err error) {
	requestID := server.GetRequestID(r.ctx)
	c.logger.Error("request failed",
		slog.String("request_id", requestID),
		slog.String("error", err.Error()))
	server.AddError(r.ctx, err)
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	r.outcome = OutcomeException

	if rbErr := r.rc.Session().Rollback(context.WithoutCancel(r.ctx)); rbErr != nil {
		c.logger.Error("rollback failed", slog.String("error", rbErr.Error()))
	}
	if r.sent {
		return
	}
	r.sent = true

	status, msg := http.StatusInternalServerError, output.Msg("internalerror")
	if d, ok := wikierr.AsDiagnosable(err); ok {
		status, msg = d.StatusCode(), d.Diagnostic()
	} else if requestID != "" {
		msg = "[" + requestID + "] " + msg
	}
	output.WriteDiagnostic(r.w, status, msg)
}

// record publishes the request's title, action and outcome.
func (c *Coordinator) record(r *run) {
	rc := r.rc
	if r.outcome == OutcomeOK && rc.Output().IsRedirect() {
		r.outcome = OutcomeRedirect
	}
	var key string
	if t, ok := rc.Title(); ok {
		key = t.PrefixedDBKey()
	}
	act, _ := rc.Action()

	server.AddLogField(r.ctx, "title", key)
	server.AddLogField(r.ctx, "action", act)
	server.AddLogField(r.ctx, "outcome", r.outcome)
	r.span.SetAttributes(
		attribute.String("wiki.title", key),
		attribute.String("wiki.action", act),
		attribute.String("wiki.outcome", r.outcome),
	)
	telemetry.RequestsTotal.WithLabelValues(r.outcome).Inc()
}

// postResponse runs restInPeace detached from the client. With deferral
// enabled and a flushable writer it runs after Run returns.
func (c *Coordinator) postResponse(r *run, mode Mode) {
	c.enter(r, request.PhasePostResponse)
	ctx := context.WithoutCancel(r.ctx)
	finish := func() {
		c.restInPeace(ctx, r, mode)
		c.enter(r, request.PhaseTerminal)
		r.span.End()
	}

	if _, ok := r.w.(http.Flusher); ok && c.opts.DeferPostResponse {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			finish()
		}()
		return
	}
	finish()
}

func (c *Coordinator) restInPeace(ctx context.Context, r *run, mode Mode) {
	rc := r.rc
	sess := rc.Session()
	defer c.contain("shutdown", func() error { return sess.Shutdown(ctx) })

	c.contain("commit", func() error { return sess.CommitAll(ctx, storage.CommitOptions{}) })
	c.contain("deferred updates", func() error {
		return rc.Deferred().Run(ctx, deferred.PostSend, sess.Jobs().Push)
	})
	c.contain("lazy jobs", func() error { return rc.LazyJobs().Flush(ctx, sess.Jobs()) })
	c.contain("commit", func() error { return sess.CommitAll(ctx, storage.CommitOptions{}) })

	if mode == ModeNormal && c.stages.Trigger != nil {
		c.contain("job trigger", func() error {
			t, _ := rc.Title()
			res := c.stages.Trigger.Trigger(ctx, t, sess.Jobs())
			telemetry.JobTriggersTotal.WithLabelValues(string(res)).Inc()
			return nil
		})
	}
	c.contain("commit", func() error { return sess.CommitAll(ctx, storage.CommitOptions{}) })
}

// contain runs one post-response step, logging its error or panic.
func (c *Coordinator) contain(step string, fn func() error) {
	defer func() {
		if v := recover(); v != nil {
			c.postResponseFailure(step, fmt.Errorf("panic: %v", v))
		}
	}()
	if err := fn(); err != nil {
		c.postResponseFailure(step, err)
	}
}

func (c *Coordinator) postResponseFailure(step string, err error) {
	c.logger.Error("post-response step failed",
		slog.String("step", step),
		slog.String("error", err.Error()))
	telemetry.PostResponseFailuresTotal.Inc()
}
