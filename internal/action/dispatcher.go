package action

import (
	"context"
	"net/http"
	"slices"

	"github.com/tjfontaine/wikifront/internal/hooks"
	"github.com/tjfontaine/wikifront/internal/page"
	"github.com/tjfontaine/wikifront/internal/permission"
	"github.com/tjfontaine/wikifront/internal/request"
	"github.com/tjfontaine/wikifront/internal/title"
	"github.com/tjfontaine/wikifront/internal/wikierr"
)

// DispatcherOptions is the cache and write policy of dispatch.
type DispatcherOptions struct {
	CDN       bool
	CDNMaxAge int
	// ReadOnly is the lock reason; empty means writable.
	ReadOnly string
}

// Dispatcher runs the handler for the resolved action.
type Dispatcher struct {
	codec    *title.Codec
	registry *Registry
	engine   permission.Engine
	hooks    *hooks.Registry
	opts     DispatcherOptions
}

func NewDispatcher(codec *title.Codec, registry *Registry, engine permission.Engine, hr *hooks.Registry, opts DispatcherOptions) *Dispatcher {
	return &Dispatcher{codec: codec, registry: registry, engine: engine, hooks: hr, opts: opts}
}

// Registry returns the action table in use.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Perform dispatches a. requestTitle is the title as requested, before any
// redirect was followed; edge caching keys on it.
func (d *Dispatcher) Perform(ctx context.Context, rc *request.Context, a *page.Article, requestTitle title.Title) error {
	name := d.registry.Resolve(rc)
	out := rc.Output()

	decision, err := d.hooks.MediaWikiPerformAction.Run(ctx, hooks.PerformActionInput{
		Title:        a.Title.PrefixedDBKey(),
		RequestTitle: requestTitle.PrefixedDBKey(),
		Action:       string(name),
		User:         rc.User().Name,
	})
	if err != nil {
		return err
	}
	if decision.Vetoed() {
		return nil
	}

	h, ok := d.registry.Handler(name)
	if !ok {
		decision, err := d.hooks.UnknownAction.Run(ctx, hooks.UnknownActionInput{
			Title:  a.Title.PrefixedDBKey(),
			Action: rc.Request.Val("action", string(View)),
		})
		if err != nil {
			return err
		}
		if !decision.Vetoed() {
			out.ShowErrorPage("nosuchaction", "nosuchactiontext")
			out.SetStatus(http.StatusNotFound)
		}
		return nil
	}

	if d.opts.CDN && slices.Contains(d.codec.CDNURLs(requestTitle), d.codec.ExpandInternal(rc.Request.RequestURL())) {
		out.SetCDNMaxAge(d.opts.CDNMaxAge)
	}

	if err := d.checkCanExecute(ctx, rc, h, a); err != nil {
		return err
	}
	return h.Show(ctx, rc, a)
}

func (d *Dispatcher) checkCanExecute(ctx context.Context, rc *request.Context, h Handler, a *page.Article) error {
	if right := h.Right(); right != "" {
		if errs := d.engine.Check(ctx, right, a.Title, rc.User()); len(errs) > 0 {
			return &wikierr.PermissionError{Action: string(h.Name()), Errors: errs}
		}
	}
	if h.DoesWrites() && d.opts.ReadOnly != "" {
		return &wikierr.ReadOnlyError{Reason: d.opts.ReadOnly}
	}
	return nil
}
