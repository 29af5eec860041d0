package special

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"runtime"
	"strconv"
	"strings"

	"github.com/tjfontaine/wikifront/internal/hooks"
	"github.com/tjfontaine/wikifront/internal/output"
	"github.com/tjfontaine/wikifront/internal/request"
	"github.com/tjfontaine/wikifront/internal/storage"
	"github.com/tjfontaine/wikifront/internal/title"
	"github.com/tjfontaine/wikifront/internal/wikierr"
)

const (
	searchLimit   = 20
	allPagesLimit = 100
)

func link(codec *title.Codec, t title.Title, query string) string {
	return `<a href="` + html.EscapeString(codec.LocalURL(t, query)) + `" title="` +
		html.EscapeString(t.PrefixedText()) + `">` + html.EscapeString(t.PrefixedText()) + `</a>`
}

// msgWithLink escapes message key and puts the anchor HTML in place of $1.
func msgWithLink(key, anchor string) string {
	return strings.Replace(html.EscapeString(output.Msg(key, "\x00")), "\x00", anchor, 1)
}

// Search does a prefix search over page titles. With go set, or without
// fulltext, an exact existing match redirects to the page.
type Search struct {
	Codec *title.Codec
}

func (*Search) Name() string { return "Search" }

func (s *Search) Execute(ctx context.Context, rc *request.Context, sub string) error {
	out := rc.Output()
	req := rc.Request
	term := strings.TrimSpace(req.Val("search", strings.ReplaceAll(sub, "_", " ")))
	self := s.Codec.SpecialTitle(s.Name(), "")

	out.SetRobots("noindex,nofollow")
	if term == "" {
		out.SetPageTitle(output.Msg("search"))
		out.AddHTML(`<form method="get" action="` + html.EscapeString(s.Codec.Options().ScriptPath) + `">` +
			`<input type="hidden" name="title" value="` + html.EscapeString(self.PrefixedDBKey()) + `">` +
			`<input type="search" name="search">` +
			`<input type="submit" name="go" value="` + html.EscapeString(output.Msg("search")) + `"></form>` + "\n")
		return nil
	}
	out.SetPageTitle(output.Msg("searchresults-title", term))

	t, err := s.Codec.Parse(term)
	if err != nil || !t.CanExist() {
		out.AddParagraph(output.Msg("search-nonefound"))
		return nil
	}

	exact, err := rc.Session().Pages().ByTitle(ctx, int(t.Namespace()), t.DBKey())
	switch {
	case err == nil:
		if req.Check("go") || !req.Check("fulltext") {
			out.Redirect(s.Codec.FullURL(t, ""), http.StatusFound)
			return nil
		}
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("search %s: %w", t.PrefixedDBKey(), err)
	}

	if exact != nil {
		out.AddHTML("<p>" + msgWithLink("search-exists", link(s.Codec, t, "")) + "</p>\n")
	} else {
		out.AddHTML("<p>" + msgWithLink("search-create", link(s.Codec, t, "action=edit")) + "</p>\n")
	}

	hits, err := rc.Session().Pages().Search(ctx, int(t.Namespace()), t.DBKey(), searchLimit)
	if err != nil {
		return fmt.Errorf("search %s: %w", t.PrefixedDBKey(), err)
	}
	if len(hits) == 0 {
		out.AddParagraph(output.Msg("search-nonefound"))
		return nil
	}
	out.AddHTML("<ul class=\"mw-search-results\">\n")
	for _, pg := range hits {
		out.AddHTML("<li>" + link(s.Codec, s.Codec.MakeTitle(title.Namespace(pg.Namespace), pg.DBKey), "") + "</li>\n")
	}
	out.AddHTML("</ul>\n")
	return nil
}

// AllPages lists pages of one namespace in key order, starting at from.
type AllPages struct {
	Codec *title.Codec
}

func (*AllPages) Name() string { return "AllPages" }

func (p *AllPages) Execute(ctx context.Context, rc *request.Context, sub string) error {
	out := rc.Output()
	req := rc.Request
	out.SetPageTitle(output.Msg("allpages"))

	ns := title.Namespace(req.Int("namespace"))
	from := req.Val("from", sub)
	if from != "" {
		// The start point is a title in ns; an unparseable one lists from the top.
		if t, err := p.Codec.ParseIn(from, ns); err == nil {
			from = t.DBKey()
		} else {
			from = ""
		}
	}

	pages, err := rc.Session().Pages().List(ctx, int(ns), from, allPagesLimit)
	if err != nil {
		return fmt.Errorf("list namespace %d: %w", ns, err)
	}
	if len(pages) == 0 {
		out.AddParagraph(output.Msg("allpages-none"))
		return nil
	}
	out.AddHTML("<ul class=\"mw-allpages-chunk\">\n")
	for _, pg := range pages {
		t := p.Codec.MakeTitle(title.Namespace(pg.Namespace), pg.DBKey)
		cls := ""
		if pg.IsRedirect {
			cls = ` class="allpagesredirect"`
		}
		out.AddHTML("<li" + cls + ">" + link(p.Codec, t, "") + "</li>\n")
	}
	out.AddHTML("</ul>\n")
	return nil
}

// Version shows the software version, the special pages and the number of
// hooks bound to each extension point.
type Version struct {
	Software string
	Pages    *Registry
	Hooks    *hooks.Registry
}

func (*Version) Name() string { return "Version" }

func (v *Version) Execute(ctx context.Context, rc *request.Context, sub string) error {
	out := rc.Output()
	out.SetPageTitle(output.Msg("version"))

	out.AddHTML("<h2>" + html.EscapeString(output.Msg("version-software")) + "</h2>\n<table class=\"wikitable\">\n")
	out.AddHTML("<tr><td>" + html.EscapeString(v.Software) + "</td><td>" + html.EscapeString(runtime.Version()) + "</td></tr>\n")
	out.AddHTML("</table>\n")

	if v.Pages != nil {
		out.AddHTML("<h2>" + html.EscapeString(output.Msg("version-specialpages")) + "</h2>\n<ul>\n")
		for _, name := range v.Pages.Names() {
			out.AddHTML("<li>" + html.EscapeString(name) + "</li>\n")
		}
		out.AddHTML("</ul>\n")
	}

	if v.Hooks != nil {
		out.AddHTML("<h2>" + html.EscapeString(output.Msg("version-hooks")) + "</h2>\n<table class=\"wikitable\">\n")
		counts := []struct {
			point hooks.Point
			n     int
		}{
			{hooks.BeforeInitialize, v.Hooks.BeforeInitialize.Len()},
			{hooks.TestCanonicalRedirect, v.Hooks.TestCanonicalRedirect.Len()},
			{hooks.InitializeArticleMaybeRedirect, v.Hooks.InitializeArticleMaybeRedirect.Len()},
			{hooks.MediaWikiPerformAction, v.Hooks.MediaWikiPerformAction.Len()},
			{hooks.UnknownAction, v.Hooks.UnknownAction.Len()},
			{hooks.BeforeHTTPSRedirect, v.Hooks.BeforeHTTPSRedirect.Len()},
		}
		for _, c := range counts {
			out.AddHTML("<tr><td>" + html.EscapeString(string(c.point)) + "</td><td>" + strconv.Itoa(c.n) + "</td></tr>\n")
		}
		out.AddHTML("</table>\n")
	}
	return nil
}

// Badtitle stands in for titles that cannot be shown. Reaching it directly
// is itself a bad title.
type Badtitle struct{}

func (*Badtitle) Name() string { return "Badtitle" }

func (*Badtitle) Execute(ctx context.Context, rc *request.Context, sub string) error {
	return &wikierr.BadTitleError{}
}
