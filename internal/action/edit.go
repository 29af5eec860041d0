package action

import (
	"context"
	"errors"
	"html"
	"net/http"

	"github.com/tjfontaine/wikifront/internal/jobs"
	"github.com/tjfontaine/wikifront/internal/output"
	"github.com/tjfontaine/wikifront/internal/page"
	"github.com/tjfontaine/wikifront/internal/request"
	"github.com/tjfontaine/wikifront/internal/storage"
	"github.com/tjfontaine/wikifront/internal/wikierr"
)

type editAction struct{ env *Env }

func (*editAction) Name() Name       { return Edit }
func (*editAction) Right() string    { return "edit" }
func (*editAction) DoesWrites() bool { return true }

func (e *editAction) Show(ctx context.Context, rc *request.Context, a *page.Article) error {
	return e.form(ctx, rc, a, "")
}

// form renders the edit box. text replaces the stored text when non-empty.
func (e *editAction) form(ctx context.Context, rc *request.Context, a *page.Article, text string) error {
	out := rc.Output()
	out.SetRobots("noindex,nofollow")
	if a.Exists() {
		out.SetPageTitle(output.Msg("editing", a.Title.PrefixedText()))
		if text == "" {
			rev, err := e.env.Loader.Revision(ctx, rc.Session(), a, 0)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			if rev != nil {
				text = rev.Text
			}
		}
	} else {
		out.SetPageTitle(output.Msg("creating", a.Title.PrefixedText()))
	}

	action := e.env.Codec.LocalURL(a.Title, "action=submit")
	out.AddHTML(`<form id="editform" method="post" action="` + html.EscapeString(action) + `">` + "\n" +
		`<textarea name="wpTextbox1" rows="25" cols="80">` + html.EscapeString(text) + "</textarea>\n" +
		`<input type="text" name="wpSummary" placeholder="` + html.EscapeString(output.Msg("summary")) + `">` + "\n" +
		`<input type="submit" value="` + html.EscapeString(output.Msg("savearticle")) + `">` + "\n" +
		"</form>\n")
	return nil
}

// submitAction saves a posted edit; a GET shows the form.
type submitAction struct{ editAction }

func (*submitAction) Name() Name { return Submit }

func (s *submitAction) Show(ctx context.Context, rc *request.Context, a *page.Article) error {
	req := rc.Request
	if !req.WasPosted() {
		return s.form(ctx, rc, a, "")
	}
	text := req.Val("wpTextbox1", "")
	if text == "" {
		return &wikierr.ErrorPageError{TitleKey: "edit-empty", TextKey: "edit-empty-text", Code: http.StatusBadRequest}
	}

	pg := &storage.Page{
		Namespace: int(a.Title.Namespace()),
		DBKey:     a.Title.DBKey(),
		Model:     a.Model(),
	}
	if a.Exists() {
		cp := *a.Page
		pg = &cp
	}
	pg.IsRedirect, pg.RedirectTarget = false, ""
	if pg.Model == page.ModelWikitext {
		if target, ok := page.ParseRedirect(text); ok {
			pg.IsRedirect, pg.RedirectTarget = true, target
		}
	}

	rev, err := rc.Session().Pages().Save(ctx, pg, text, req.Val("wpSummary", ""), rc.User().Name)
	if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
		rc.Output().SetStatus(http.StatusConflict)
		rc.Output().ShowErrorPage("editconflict", "editconflicttext")
		return s.form(ctx, rc, a, text)
	}
	if err != nil {
		return err
	}
	a.Page = pg

	rc.LazyJobs().Push(jobs.RefreshLinksJob(a.Title, rev.ID))
	rc.Output().Redirect(s.env.Codec.FullURL(a.Title, ""), http.StatusSeeOther)
	return nil
}
