// Package permission decides whether a principal may perform an action on
// a title. Denials are reported as message keys; they never carry the
// title itself.
package permission

import (
	"context"
	"fmt"
	"regexp"
	"slices"

	"github.com/tjfontaine/wikifront/internal/auth"
	"github.com/tjfontaine/wikifront/internal/config"
	"github.com/tjfontaine/wikifront/internal/title"
)

// Message keys returned on denial.
const (
	ErrNoRight   = "badaccess-group0"
	ErrProtected = "protectedpagetext"
)

// Engine evaluates permissions. An empty result means allowed.
type Engine interface {
	CheckRead(ctx context.Context, t title.Title, u *auth.User) []string
	Check(ctx context.Context, right string, t title.Title, u *auth.User) []string
}

type protection struct {
	title     title.Title
	hasTitle  bool
	namespace title.Namespace
	right     string
	group     string
}

func (p protection) covers(t title.Title, right string) bool {
	if p.right != "" && p.right != right {
		return false
	}
	if p.hasTitle {
		return p.title.Equals(t)
	}
	return t.Kind() == title.KindInternal && t.Namespace() == p.namespace
}

// Policy is the configured Engine: group rights, a read whitelist and
// protected titles or namespaces.
type Policy struct {
	rights      map[string][]string
	whitelist   map[string]bool
	whitelistRe []*regexp.Regexp
	protections []protection
}

var _ Engine = (*Policy)(nil)

// NewPolicy compiles cfg. Whitelist and protected titles are parsed with codec.
func NewPolicy(codec *title.Codec, cfg config.PermissionsConfig) (*Policy, error) {
	p := &Policy{
		rights:    make(map[string][]string, len(cfg.Rights)),
		whitelist: make(map[string]bool, len(cfg.ReadWhitelist)),
	}
	for group, rights := range cfg.Rights {
		p.rights[group] = slices.Clone(rights)
	}
	for _, text := range cfg.ReadWhitelist {
		t, err := codec.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("read_whitelist %q: %w", text, err)
		}
		p.whitelist[t.PrefixedDBKey()] = true
	}
	for _, expr := range cfg.ReadWhitelistRegex {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("read_whitelist_regex %q: %w", expr, err)
		}
		p.whitelistRe = append(p.whitelistRe, re)
	}
	for i, pc := range cfg.Protected {
		if pc.Group == "" {
			return nil, fmt.Errorf("protected[%d]: group is required", i)
		}
		pr := protection{right: pc.Right, group: pc.Group}
		switch {
		case pc.Title != "":
			t, err := codec.Parse(pc.Title)
			if err != nil {
				return nil, fmt.Errorf("protected[%d] title %q: %w", i, pc.Title, err)
			}
			pr.title = t
			pr.hasTitle = true
		case pc.Namespace != nil:
			pr.namespace = title.Namespace(*pc.Namespace)
		default:
			return nil, fmt.Errorf("protected[%d]: title or namespace is required", i)
		}
		p.protections = append(p.protections, pr)
	}
	return p, nil
}

// HasRight reports whether any of u's groups grants right.
func (p *Policy) HasRight(u *auth.User, right string) bool {
	for _, g := range u.EffectiveGroups() {
		if slices.Contains(p.rights[g], right) {
			return true
		}
	}
	return false
}

// CheckRead allows whitelisted titles to everyone, else requires the read
// right and respects read protection.
func (p *Policy) CheckRead(ctx context.Context, t title.Title, u *auth.User) []string {
	if !p.HasRight(u, "read") {
		if p.whitelisted(t) {
			return nil
		}
		return []string{ErrNoRight}
	}
	return p.protectionErrors(t, "read", u)
}

// Check evaluates any right other than read.
func (p *Policy) Check(ctx context.Context, right string, t title.Title, u *auth.User) []string {
	if right == "read" {
		return p.CheckRead(ctx, t, u)
	}
	var errs []string
	if !p.HasRight(u, right) {
		errs = append(errs, ErrNoRight)
	}
	return append(errs, p.protectionErrors(t, right, u)...)
}

func (p *Policy) whitelisted(t title.Title) bool {
	if p.whitelist[t.PrefixedDBKey()] {
		return true
	}
	text := t.PrefixedText()
	for _, re := range p.whitelistRe {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (p *Policy) protectionErrors(t title.Title, right string, u *auth.User) []string {
	for _, pr := range p.protections {
		if pr.covers(t, right) && !u.InGroup(pr.group) {
			return []string{ErrProtected}
		}
	}
	return nil
}
