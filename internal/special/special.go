// Package special serves the pages of the Special namespace. Pages are
// registered under a canonical name plus any number of aliases; lookups
// ignore case.
package special

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/tjfontaine/wikifront/internal/hooks"
	"github.com/tjfontaine/wikifront/internal/jobs"
	"github.com/tjfontaine/wikifront/internal/request"
	"github.com/tjfontaine/wikifront/internal/title"
)

// Page is one special page.
type Page interface {
	// Name is the canonical name, as it appears after "Special:".
	Name() string
	// Execute renders the page. sub is the text after the first slash.
	Execute(ctx context.Context, rc *request.Context, sub string) error
}

// Registry maps special page names and aliases to pages. It is filled at
// startup and read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	pages   map[string]Page
	aliases map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		pages:   make(map[string]Page),
		aliases: make(map[string]string),
	}
}

// Register installs p and its aliases, replacing earlier entries.
func (r *Registry) Register(p Page, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages[strings.ToLower(p.Name())] = p
	for _, a := range aliases {
		r.aliases[strings.ToLower(strings.ReplaceAll(a, " ", "_"))] = p.Name()
	}
}

// ResolveAlias maps the key of a Special: title to the canonical page name
// and subpage.
func (r *Registry) ResolveAlias(dbKey string) (name, sub string, ok bool) {
	alias, sub, _ := strings.Cut(dbKey, "/")
	key := strings.ToLower(alias)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if canonical, found := r.aliases[key]; found {
		return canonical, sub, true
	}
	if p, found := r.pages[key]; found {
		return p.Name(), sub, true
	}
	return "", "", false
}

// Names lists canonical page names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pages))
	for _, p := range r.pages {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}

// Execute runs the page t names. Unknown names get a 404 error page.
func (r *Registry) Execute(ctx context.Context, rc *request.Context, t title.Title) error {
	if !t.IsSpecialPage() {
		return fmt.Errorf("special: %s is not a special page", t.PrefixedDBKey())
	}
	name, sub, ok := r.ResolveAlias(t.DBKey())
	if !ok {
		out := rc.Output()
		out.ShowErrorPage("nosuchspecialpage", "nospecialpagetext")
		out.SetStatus(http.StatusNotFound)
		return nil
	}

	r.mu.RLock()
	p := r.pages[strings.ToLower(name)]
	r.mu.RUnlock()
	return p.Execute(ctx, rc, sub)
}

// Env is what the built-in pages share.
type Env struct {
	Codec     *title.Codec
	Runner    *jobs.Runner
	SecretKey string
	ReadOnly  bool
	Hooks     *hooks.Registry
	Software  string
	Logger    *slog.Logger
}

// RegisterDefaults installs the built-in pages.
func RegisterDefaults(r *Registry, env Env) {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	r.Register(&Search{Codec: env.Codec})
	r.Register(&AllPages{Codec: env.Codec})
	r.Register(&Version{Software: env.Software, Pages: r, Hooks: env.Hooks}, "About")
	r.Register(&Badtitle{})
	r.Register(&RunJobs{
		Runner:    env.Runner,
		SecretKey: env.SecretKey,
		ReadOnly:  env.ReadOnly,
		Logger:    env.Logger,
	})
}
