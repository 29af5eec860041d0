package action

import (
	"context"
	"errors"
	"html"
	"net/http"

	"github.com/tjfontaine/wikifront/internal/deferred"
	"github.com/tjfontaine/wikifront/internal/jobs"
	"github.com/tjfontaine/wikifront/internal/output"
	"github.com/tjfontaine/wikifront/internal/page"
	"github.com/tjfontaine/wikifront/internal/request"
	"github.com/tjfontaine/wikifront/internal/storage"
)

// purgeAction touches the page and rebuilds its links after the response.
// A GET only asks for confirmation.
type purgeAction struct{ env *Env }

func (*purgeAction) Name() Name       { return Purge }
func (*purgeAction) Right() string    { return "purge" }
func (*purgeAction) DoesWrites() bool { return true }

func (p *purgeAction) Show(ctx context.Context, rc *request.Context, a *page.Article) error {
	out := rc.Output()
	if !rc.Request.WasPosted() {
		out.SetPageTitle(output.Msg("confirm-purge-title"))
		out.SetRobots("noindex,nofollow")
		out.AddParagraph(output.Msg("confirm-purge-top"))
		action := p.env.Codec.LocalURL(a.Title, "action=purge")
		out.AddHTML(`<form method="post" action="` + html.EscapeString(action) + `">` +
			`<input type="submit" value="` + html.EscapeString(output.Msg("confirm_purge_button")) + `"></form>` + "\n")
		return nil
	}

	if a.Exists() {
		err := rc.Session().Pages().Touch(ctx, a.ID(), p.env.Now())
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		rc.Deferred().Add(deferred.PostSend, &jobs.LinksUpdate{
			Refresher: p.env.Links,
			Session:   rc.Session(),
			Title:     a.Title,
		})
	}
	out.Redirect(p.env.Codec.FullURL(a.Title, ""), http.StatusSeeOther)
	return nil
}
