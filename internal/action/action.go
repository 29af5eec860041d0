// Package action maps a request's action parameter to a handler and runs
// it against the loaded article.
package action

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/tjfontaine/wikifront/internal/page"
	"github.com/tjfontaine/wikifront/internal/request"
)

// Name is a resolved action.
type Name string

const (
	View    Name = "view"
	Render  Name = "render"
	Raw     Name = "raw"
	History Name = "history"
	Edit    Name = "edit"
	Submit  Name = "submit"
	Info    Name = "info"
	Purge   Name = "purge"

	// NoSuchAction is the sentinel for anything without a handler.
	NoSuchAction Name = "nosuchaction"
)

// Known lists every action that must have a handler.
var Known = []Name{View, Render, Raw, History, Edit, Submit, Info, Purge}

// Handler runs one action.
type Handler interface {
	Name() Name
	// Right is the permission needed besides read; empty means none.
	Right() string
	// DoesWrites marks actions refused while the wiki is read-only.
	DoesWrites() bool
	Show(ctx context.Context, rc *request.Context, a *page.Article) error
}

// Registry is the action table. It is filled at startup and read-only
// afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Name]Handler
	disabled []Name
}

// NewRegistry returns an empty table. Disabled names resolve to
// NoSuchAction even when registered.
func NewRegistry(disabled ...string) *Registry {
	r := &Registry{handlers: make(map[Name]Handler)}
	for _, d := range disabled {
		r.disabled = append(r.disabled, Name(d))
	}
	return r
}

// Register installs h under its name, replacing any previous handler.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

// Handler returns the handler for n.
func (r *Registry) Handler(n Name) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[n]
	return h, ok
}

// Validate fails when a known action has no handler.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, n := range Known {
		if _, ok := r.handlers[n]; !ok {
			errs = append(errs, fmt.Errorf("action %q has no handler", n))
		}
	}
	if _, ok := r.handlers[NoSuchAction]; ok {
		errs = append(errs, fmt.Errorf("action %q is reserved", NoSuchAction))
	}
	return errors.Join(errs...)
}

// Resolve derives the action of the request once and caches it on rc.
// Titles that cannot have pages, such as special pages, always view.
func (r *Registry) Resolve(rc *request.Context) Name {
	if name, ok := rc.Action(); ok {
		return Name(name)
	}
	n := r.resolve(rc)
	rc.SetAction(string(n))
	return n
}

func (r *Registry) resolve(rc *request.Context) Name {
	n := Name(rc.Request.Val("action", string(View)))
	if slices.Contains(r.disabled, n) {
		n = NoSuchAction
	}
	switch n {
	case "historysubmit":
		n = View
	case "editredlink":
		n = Edit
	}

	if t, ok := rc.Title(); !ok || !t.CanExist() {
		return View
	}
	if _, ok := r.Handler(n); !ok {
		return NoSuchAction
	}
	return n
}
