// Package article loads the article behind a routed title and follows the
// redirect stored on it when the request allows.
package article

import (
	"context"

	"github.com/tjfontaine/wikifront/internal/hooks"
	"github.com/tjfontaine/wikifront/internal/page"
	"github.com/tjfontaine/wikifront/internal/request"
	"github.com/tjfontaine/wikifront/internal/wikierr"
)

// Result is either the article to dispatch or a URL to redirect to.
type Result struct {
	Article *page.Article
	URL     string
}

// Initializer loads articles and follows content redirects one hop.
type Initializer struct {
	loader *page.Loader
	hooks  *hooks.Chain[hooks.MaybeRedirectInput]
	// disableHardRedirects keeps URL targets from sending the client away.
	disableHardRedirects bool
}

func NewInitializer(loader *page.Loader, chain *hooks.Chain[hooks.MaybeRedirectInput], disableHardRedirects bool) *Initializer {
	return &Initializer{loader: loader, hooks: chain, disableHardRedirects: disableHardRedirects}
}

// Initialize loads the context title for action. When a redirect is
// followed to an existing page, the context title and article are rebound
// to the target and the article remembers where it came from.
func (i *Initializer) Initialize(ctx context.Context, rc *request.Context, action string) (Result, error) {
	t, ok := rc.Title()
	if !ok {
		return Result{}, &wikierr.InternalStateError{Msg: "article initialised without a title"}
	}
	a, err := i.loader.Load(ctx, rc.Session(), t)
	if err != nil {
		return Result{}, err
	}
	rc.SetArticle(a)
	if !a.SupportsRedirects() {
		return Result{Article: a}, nil
	}

	req := rc.Request
	if (action != "view" && action != "render") ||
		req.Val("oldid", "") != "" || req.Val("diff", "") != "" ||
		req.Val("redirect", "") == "no" || a.HasPlainFile() {
		return Result{Article: a}, nil
	}

	var own string
	if a.IsRedirect() {
		own = a.Page.RedirectTarget
	}
	d, err := i.hooks.Run(ctx, hooks.MaybeRedirectInput{
		Title:  t.PrefixedDBKey(),
		Action: action,
		Target: own,
	})
	if err != nil {
		return Result{}, err
	}
	if d.Vetoed() {
		return Result{Article: a}, nil
	}
	raw := own
	if d.Overridden() {
		raw = d.Value
	}
	if raw == "" {
		return Result{Article: a}, nil
	}

	target, ok := i.loader.Follow(a, raw)
	if !ok {
		return Result{Article: a}, nil
	}
	if target.IsURL() {
		if !i.disableHardRedirects {
			return Result{URL: target.URL}, nil
		}
		return Result{Article: a}, nil
	}

	ra, err := i.loader.Load(ctx, rc.Session(), target.Title)
	if err != nil {
		return Result{}, err
	}
	if ra.Exists() || a.HasForeignFile() {
		ra.SetRedirectedFrom(t)
		rc.SetTitle(target.Title)
		rc.SetArticle(ra)
		return Result{Article: ra}, nil
	}
	return Result{Article: a}, nil
}
