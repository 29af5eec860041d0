// Package page loads pages and their files and follows the redirects stored
// on them.
package page

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tjfontaine/wikifront/internal/storage"
	"github.com/tjfontaine/wikifront/internal/title"
)

// Content models.
const (
	ModelWikitext   = "wikitext"
	ModelCSS        = "css"
	ModelJavaScript = "javascript"
	ModelJSON       = "json"
	ModelText       = "text"
)

// Article is a title bound to its stored page, which may not exist.
type Article struct {
	Title title.Title
	// Page is nil when the page does not exist.
	Page *storage.Page
	// File is the file description behind a File: page, if any.
	File *storage.File

	redirectedFrom *title.Title
}

func (a *Article) Exists() bool { return a.Page != nil }

// ID is the page id, or 0 for a missing page.
func (a *Article) ID() int64 {
	if a.Page == nil {
		return 0
	}
	return a.Page.ID
}

// Model is the stored content model, or the default for the title.
func (a *Article) Model() string {
	if a.Page != nil && a.Page.Model != "" {
		return a.Page.Model
	}
	return DefaultModel(a.Title)
}

// SupportsRedirects reports whether the content model has redirect pages.
func (a *Article) SupportsRedirects() bool {
	return a.Model() == ModelWikitext
}

func (a *Article) IsRedirect() bool {
	return a.Page != nil && a.Page.IsRedirect
}

// HasPlainFile reports an existing file that is not itself a redirect.
func (a *Article) HasPlainFile() bool {
	return a.File != nil && a.File.RedirectTarget == ""
}

// HasForeignFile reports a file served from a shared foreign repository.
func (a *Article) HasForeignFile() bool {
	return a.File != nil && !a.File.Local
}

// SetRedirectedFrom records the title whose redirect led here.
func (a *Article) SetRedirectedFrom(t title.Title) { a.redirectedFrom = &t }

// RedirectedFrom returns the title a redirect was followed from.
func (a *Article) RedirectedFrom() (title.Title, bool) {
	if a.redirectedFrom == nil {
		return title.Title{}, false
	}
	return *a.redirectedFrom, true
}

// DefaultModel guesses the model of a page that has no stored model.
func DefaultModel(t title.Title) string {
	if t.Namespace() != title.NSUser && t.Namespace() != title.NSProject {
		return ModelWikitext
	}
	key := t.DBKey()
	switch {
	case strings.HasSuffix(key, ".css"):
		return ModelCSS
	case strings.HasSuffix(key, ".js"):
		return ModelJavaScript
	case strings.HasSuffix(key, ".json"):
		return ModelJSON
	}
	return ModelWikitext
}

// Target is where a redirect leads: a title to load or a URL to send the
// client to.
type Target struct {
	Title title.Title
	URL   string
}

func (t Target) IsURL() bool { return t.URL != "" }

// invalidRedirectTargets are special pages a redirect may never lead to.
var invalidRedirectTargets = []string{"Userlogout", "Filepath", "Badtitle", "RunJobs"}

// Loader reads articles from a storage session.
type Loader struct {
	codec *title.Codec
}

func NewLoader(codec *title.Codec) *Loader {
	return &Loader{codec: codec}
}

// Load binds t to its stored page. Titles that cannot exist load as missing.
func (l *Loader) Load(ctx context.Context, sess storage.Session, t title.Title) (*Article, error) {
	a := &Article{Title: t}
	if !t.CanExist() {
		return a, nil
	}

	pg, err := sess.Pages().ByTitle(ctx, int(t.Namespace()), t.DBKey())
	switch {
	case err == nil:
		a.Page = pg
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("load %s: %w", t.PrefixedDBKey(), err)
	}

	if t.Namespace() == title.NSFile {
		f, err := sess.Files().Find(ctx, t.DBKey())
		switch {
		case err == nil:
			a.File = f
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("load file %s: %w", t.DBKey(), err)
		}
	}
	return a, nil
}

// Revision returns revision id of a, or its latest revision when id is 0.
// A revision belonging to another page is reported as not found.
func (l *Loader) Revision(ctx context.Context, sess storage.Session, a *Article, id int64) (*storage.Revision, error) {
	if !a.Exists() {
		return nil, fmt.Errorf("%s: %w", a.Title.PrefixedDBKey(), storage.ErrNotFound)
	}
	if id == 0 {
		id = a.Page.Latest
	}
	rev, err := sess.Revisions().ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rev.PageID != a.Page.ID {
		return nil, fmt.Errorf("revision %d of %s: %w", id, a.Title.PrefixedDBKey(), storage.ErrNotFound)
	}
	return rev, nil
}

// Follow resolves a raw redirect target seen on a. Interwiki and special
// page targets become URLs; unusable targets report false.
func (l *Loader) Follow(a *Article, raw string) (Target, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, false
	}
	if isAbsoluteURL(raw) {
		return Target{URL: raw}, true
	}

	rt, err := l.codec.Parse(raw)
	if err != nil {
		return Target{}, false
	}
	switch {
	case rt.IsExternal():
		iw, ok := l.codec.InterwikiFor(rt.Interwiki())
		if !ok || !iw.Local {
			return Target{}, false
		}
		source := l.codec.FullURL(a.Title, "redirect=no")
		return Target{URL: l.codec.FullURL(rt, "rdfrom="+title.URLEncode(source))}, true
	case rt.IsSpecialPage():
		for _, name := range invalidRedirectTargets {
			if rt.IsSpecial(name) {
				return Target{}, false
			}
		}
		return Target{URL: l.codec.FullURL(rt, "")}, true
	}
	return Target{Title: rt}, true
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "//")
}
