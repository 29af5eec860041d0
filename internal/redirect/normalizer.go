// Package redirect sends plain page views to the one canonical URL of their
// title.
package redirect

import (
	"context"
	"net/http"

	"github.com/tjfontaine/wikifront/internal/hooks"
	"github.com/tjfontaine/wikifront/internal/request"
	"github.com/tjfontaine/wikifront/internal/title"
	"github.com/tjfontaine/wikifront/internal/wikierr"
)

// Kind is the shape of a Decision.
type Kind int

const (
	NoRedirect Kind = iota
	Redirect
	Fatal
)

func (k Kind) String() string {
	switch k {
	case NoRedirect:
		return "no-redirect"
	case Redirect:
		return "redirect"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Decision is the normalizer's verdict on a request.
type Decision struct {
	Kind Kind
	URL  string
	Code int
	// CDNMaxAge is how long edge caches may keep the redirect.
	CDNMaxAge int
	Err       error
}

// Aliaser maps special page aliases to canonical names.
type Aliaser interface {
	ResolveAlias(dbKey string) (name, sub string, ok bool)
}

// Options configures a Normalizer.
type Options struct {
	// MaxAge is the edge cache lifetime of canonical redirects.
	MaxAge      int
	UsePathInfo bool
}

// Normalizer decides whether a view must move to its canonical URL.
type Normalizer struct {
	codec   *title.Codec
	hooks   *hooks.Chain[hooks.CanonicalRedirectInput]
	aliases Aliaser
	opts    Options
}

func NewNormalizer(codec *title.Codec, chain *hooks.Chain[hooks.CanonicalRedirectInput], aliases Aliaser, opts Options) *Normalizer {
	return &Normalizer{codec: codec, hooks: chain, aliases: aliases, opts: opts}
}

// Normalize inspects the request and its current title. Only plain GET
// views without extra parameters are considered.
func (n *Normalizer) Normalize(ctx context.Context, rc *request.Context) (Decision, error) {
	req := rc.Request
	t, ok := rc.Title()
	if !ok {
		return Decision{Kind: NoRedirect}, nil
	}
	if req.Val("action", "view") != "view" || req.WasPosted() || len(req.ValueNames("action", "title")) > 0 {
		return Decision{Kind: NoRedirect}, nil
	}

	d, err := n.hooks.Run(ctx, hooks.CanonicalRedirectInput{
		Title:      t.PrefixedDBKey(),
		RequestURL: req.FullRequestURL(),
	})
	if err != nil {
		return Decision{}, err
	}
	if d.Vetoed() {
		return Decision{Kind: NoRedirect}, nil
	}

	if t.IsSpecialPage() && n.aliases != nil {
		if name, sub, ok := n.aliases.ResolveAlias(t.DBKey()); ok {
			t = n.codec.SpecialTitle(name, sub)
		}
	}

	target := n.codec.Expand(n.codec.FullURL(t, ""), req.Protocol())
	if target != req.FullRequestURL() {
		return Decision{
			Kind:      Redirect,
			URL:       target,
			Code:      http.StatusMovedPermanently,
			CDNMaxAge: n.opts.MaxAge,
		}, nil
	}

	if !req.Check("title") || req.Val("title", "") != t.PrefixedDBKey() {
		return Decision{
			Kind: Fatal,
			Err:  &wikierr.RedirectLoopError{PathInfo: n.opts.UsePathInfo},
		}, nil
	}
	return Decision{Kind: NoRedirect}, nil
}
