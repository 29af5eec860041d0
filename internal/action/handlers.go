package action

import (
	"context"
	"errors"
	"fmt"
	"html"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tjfontaine/wikifront/internal/deferred"
	"github.com/tjfontaine/wikifront/internal/jobs"
	"github.com/tjfontaine/wikifront/internal/output"
	"github.com/tjfontaine/wikifront/internal/page"
	"github.com/tjfontaine/wikifront/internal/request"
	"github.com/tjfontaine/wikifront/internal/storage"
	"github.com/tjfontaine/wikifront/internal/title"
)

// Env is what the built-in handlers share.
type Env struct {
	Codec  *title.Codec
	Loader *page.Loader
	Links  *jobs.LinkRefresher
	Logger *slog.Logger
	Now    func() time.Time
}

// RegisterDefaults installs the built-in handlers.
func RegisterDefaults(r *Registry, env *Env) {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	r.Register(&viewAction{env: env})
	r.Register(&viewAction{env: env, bodyOnly: true})
	r.Register(&rawAction{env: env})
	r.Register(&historyAction{env: env})
	r.Register(&editAction{env: env})
	r.Register(&submitAction{editAction{env: env}})
	r.Register(&infoAction{env: env})
	r.Register(&purgeAction{env: env})
}

type viewAction struct {
	env      *Env
	bodyOnly bool
}

func (v *viewAction) Name() Name {
	if v.bodyOnly {
		return Render
	}
	return View
}

func (v *viewAction) Right() string    { return "" }
func (v *viewAction) DoesWrites() bool { return false }

func (v *viewAction) Show(ctx context.Context, rc *request.Context, a *page.Article) error {
	out := rc.Output()
	out.SetBodyOnly(v.bodyOnly)
	out.SetPageTitle(a.Title.PrefixedText())

	if from, ok := a.RedirectedFrom(); ok {
		link := v.link(from, "redirect=no")
		out.AddSubtitle(template.HTML(output.Msg("redirectedfrom", link)))
	}

	if !a.Exists() {
		out.SetStatus(http.StatusNotFound)
		out.SetRobots("noindex,nofollow")
		out.AddParagraph(output.Msg("noarticletext"))
		return nil
	}

	rev, err := v.env.Loader.Revision(ctx, rc.Session(), a, rc.Request.Int("oldid"))
	if errors.Is(err, storage.ErrNotFound) {
		out.SetStatus(http.StatusNotFound)
		out.AddParagraph(output.Msg("missing-revision", rc.Request.Val("oldid", "")))
		return nil
	}
	if err != nil {
		return err
	}

	if a.IsRedirect() {
		out.AddSubtitle(template.HTML(html.EscapeString(output.Msg("redirectpagesub"))))
		if target, err := v.env.Codec.Parse(a.Page.RedirectTarget); err == nil {
			out.AddHTML(`<ul class="redirectText"><li>` + v.link(target, "") + "</li></ul>\n")
		}
	}
	out.AddHTML(renderContent(v.env.Codec, a.Model(), rev.Text))

	if rev.ID == a.Page.Latest {
		sess, id := rc.Session(), a.ID()
		rc.Deferred().Add(deferred.PostSend, deferred.Func(func(ctx context.Context) error {
			return sess.Pages().IncrementViews(ctx, id)
		}))
	}
	return nil
}

func (v *viewAction) link(t title.Title, query string) string {
	return `<a href="` + html.EscapeString(v.env.Codec.LocalURL(t, query)) + `">` +
		html.EscapeString(t.PrefixedText()) + `</a>`
}

func renderContent(codec *title.Codec, model, text string) string {
	if model == page.ModelWikitext {
		return page.Render(codec, text)
	}
	return `<pre class="mw-code">` + html.EscapeString(text) + "</pre>\n"
}

var rawContentTypes = map[string]string{
	page.ModelWikitext:   "text/x-wiki; charset=utf-8",
	page.ModelCSS:        "text/css; charset=utf-8",
	page.ModelJavaScript: "text/javascript; charset=utf-8",
	page.ModelJSON:       "application/json; charset=utf-8",
	page.ModelText:       "text/plain; charset=utf-8",
}

type rawAction struct{ env *Env }

func (*rawAction) Name() Name       { return Raw }
func (*rawAction) Right() string    { return "" }
func (*rawAction) DoesWrites() bool { return false }

func (r *rawAction) Show(ctx context.Context, rc *request.Context, a *page.Article) error {
	out := rc.Output()
	out.Disable()
	ct, ok := rawContentTypes[a.Model()]
	if !ok {
		ct = rawContentTypes[page.ModelText]
	}
	if !a.Exists() {
		out.SetStatus(http.StatusNotFound)
		out.SetRaw(ct, nil)
		return nil
	}
	rev, err := r.env.Loader.Revision(ctx, rc.Session(), a, rc.Request.Int("oldid"))
	if errors.Is(err, storage.ErrNotFound) {
		out.SetStatus(http.StatusNotFound)
		out.SetRaw(ct, nil)
		return nil
	}
	if err != nil {
		return err
	}
	out.SetRaw(ct, []byte(rev.Text))
	return nil
}

type historyAction struct{ env *Env }

func (*historyAction) Name() Name       { return History }
func (*historyAction) Right() string    { return "" }
func (*historyAction) DoesWrites() bool { return false }

const historyLimit = 50

func (h *historyAction) Show(ctx context.Context, rc *request.Context, a *page.Article) error {
	out := rc.Output()
	out.SetPageTitle(output.Msg("history-title", a.Title.PrefixedText()))
	out.SetRobots("noindex,nofollow")
	if !a.Exists() {
		out.SetStatus(http.StatusNotFound)
		out.AddParagraph(output.Msg("nohistory"))
		return nil
	}

	revs, err := rc.Session().Revisions().History(ctx, a.ID(), historyLimit)
	if err != nil {
		return fmt.Errorf("history of %s: %w", a.Title.PrefixedDBKey(), err)
	}
	out.AddHTML("<ul id=\"pagehistory\">\n")
	for _, rev := range revs {
		href := h.env.Codec.LocalURL(a.Title, "oldid="+strconv.FormatInt(rev.ID, 10))
		user := rev.User
		if user == "" {
			user = output.Msg("anonymous")
		}
		line := fmt.Sprintf(`<li><a href="%s">%s</a> %s`,
			html.EscapeString(href),
			rev.Timestamp.UTC().Format("15:04, 2 January 2006"),
			html.EscapeString(user))
		if rev.Comment != "" {
			line += ` <span class="comment">(` + html.EscapeString(rev.Comment) + `)</span>`
		}
		out.AddHTML(line + "</li>\n")
	}
	out.AddHTML("</ul>\n")
	return nil
}

type infoAction struct{ env *Env }

func (*infoAction) Name() Name       { return Info }
func (*infoAction) Right() string    { return "" }
func (*infoAction) DoesWrites() bool { return false }

func (i *infoAction) Show(ctx context.Context, rc *request.Context, a *page.Article) error {
	out := rc.Output()
	out.SetPageTitle(output.Msg("info-title", a.Title.PrefixedText()))
	out.SetRobots("noindex,nofollow")

	rows := [][2]string{
		{output.Msg("pageinfo-title"), a.Title.PrefixedText()},
		{output.Msg("pageinfo-model"), a.Model()},
	}
	if a.Exists() {
		links, err := rc.Session().Pages().Links(ctx, a.ID())
		if err != nil {
			return fmt.Errorf("links of %s: %w", a.Title.PrefixedDBKey(), err)
		}
		pg := a.Page
		rows = append(rows,
			[2]string{output.Msg("pageinfo-id"), strconv.FormatInt(pg.ID, 10)},
			[2]string{output.Msg("pageinfo-length"), strconv.Itoa(pg.Len)},
			[2]string{output.Msg("pageinfo-latest"), strconv.FormatInt(pg.Latest, 10)},
			[2]string{output.Msg("pageinfo-touched"), pg.Touched.UTC().Format(time.RFC3339)},
			[2]string{output.Msg("pageinfo-views"), strconv.FormatInt(pg.Views, 10)},
			[2]string{output.Msg("pageinfo-links"), strconv.Itoa(len(links))},
		)
		if pg.IsRedirect {
			rows = append(rows, [2]string{output.Msg("pageinfo-redirectto"), pg.RedirectTarget})
		}
	} else {
		out.SetStatus(http.StatusNotFound)
	}

	out.AddHTML("<table class=\"wikitable mw-page-info\">\n")
	for _, row := range rows {
		out.AddHTML("<tr><th>" + html.EscapeString(row[0]) + "</th><td>" + html.EscapeString(row[1]) + "</td></tr>\n")
	}
	out.AddHTML("</table>\n")
	return nil
}
