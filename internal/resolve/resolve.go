// Package resolve turns raw request parameters into the title a request is
// about.
package resolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/tjfontaine/wikifront/internal/request"
	"github.com/tjfontaine/wikifront/internal/storage"
	"github.com/tjfontaine/wikifront/internal/title"
	"github.com/tjfontaine/wikifront/internal/variant"
)

// Result is a resolved title. VariantText is set when variant resolution
// rewrote the requested title text.
type Result struct {
	Title       title.Title
	VariantText string
}

// Resolver applies the title precedence rules: search flag, page id,
// title text, then revision id, then the main page.
type Resolver struct {
	codec    *title.Codec
	variants *variant.Converter
}

func NewResolver(codec *title.Codec, variants *variant.Converter) *Resolver {
	return &Resolver{codec: codec, variants: variants}
}

// Resolve returns a *title.MalformedError when nothing usable is named.
// Other errors come from the store.
func (r *Resolver) Resolve(ctx context.Context, req *request.WebRequest, sess storage.Session) (Result, error) {
	var (
		res      Result
		found    bool
		parseErr *title.MalformedError
	)
	text := req.Val("title", "")
	action := req.Val("action", "")

	switch {
	case req.Check("search"):
		res.Title, found = r.codec.SpecialTitle("Search", ""), true
	case req.Int("curid") != 0:
		t, ok, err := r.byPageID(ctx, sess, req.Int("curid"))
		if err != nil {
			return Result{}, err
		}
		res.Title, found = t, ok
	default:
		t, err := r.codec.Parse(text)
		if err != nil {
			errors.As(err, &parseErr)
			break
		}
		if t.Namespace() == title.NSMedia && t.Kind() == title.KindInternal {
			t = r.codec.MakeTitle(title.NSFile, t.DBKey())
		}
		res.Title, found = t, true
		if r.variants.HasVariants() && t.CanExist() {
			if err := r.tryVariants(ctx, sess, text, &res); err != nil {
				return Result{}, err
			}
		}
	}

	if !found || !res.Title.IsSpecialPage() {
		oldid := req.Int("oldid")
		if oldid == 0 {
			oldid = req.Int("diff")
		}
		if oldid != 0 {
			t, ok, err := r.byRevision(ctx, sess, oldid)
			if err != nil {
				return Result{}, err
			}
			if ok {
				res.Title, found = t, true
			}
		}
	}

	if !found && text == "" && !req.Check("curid") && action != "delete" {
		res.Title, found = r.codec.MainPage(), true
	}

	if !found || (res.Title.DBKey() == "" && !res.Title.IsExternal()) {
		if parseErr != nil {
			return Result{}, parseErr
		}
		return Result{}, &title.MalformedError{Reason: "badtitletext", Text: text}
	}
	return res, nil
}

func (r *Resolver) tryVariants(ctx context.Context, sess storage.Session, text string, res *Result) error {
	exists, err := r.exists(ctx, sess, res.Title)
	if err != nil || exists {
		return err
	}
	var lookupErr error
	vt, converted, ok := r.variants.FindVariantLink(text, res.Title, func(t title.Title) bool {
		ok, err := r.exists(ctx, sess, t)
		if err != nil && lookupErr == nil {
			lookupErr = err
		}
		return ok
	})
	if lookupErr != nil {
		return lookupErr
	}
	if ok {
		res.Title = vt
		res.VariantText = converted
	}
	return nil
}

func (r *Resolver) exists(ctx context.Context, sess storage.Session, t title.Title) (bool, error) {
	if !t.CanExist() {
		return false, nil
	}
	_, err := sess.Pages().ByTitle(ctx, int(t.Namespace()), t.DBKey())
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up %s: %w", t.PrefixedDBKey(), err)
	}
	return true, nil
}

func (r *Resolver) byPageID(ctx context.Context, sess storage.Session, id int64) (title.Title, bool, error) {
	pg, err := sess.Pages().ByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return title.Title{}, false, nil
	}
	if err != nil {
		return title.Title{}, false, fmt.Errorf("look up page %d: %w", id, err)
	}
	return r.codec.MakeTitle(title.Namespace(pg.Namespace), pg.DBKey), true, nil
}

func (r *Resolver) byRevision(ctx context.Context, sess storage.Session, id int64) (title.Title, bool, error) {
	rev, err := sess.Revisions().ByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return title.Title{}, false, nil
	}
	if err != nil {
		return title.Title{}, false, fmt.Errorf("look up revision %d: %w", id, err)
	}
	return r.byPageID(ctx, sess, rev.PageID)
}
