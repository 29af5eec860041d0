package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/tjfontaine/wikifront/internal/page"
	"github.com/tjfontaine/wikifront/internal/storage"
	"github.com/tjfontaine/wikifront/internal/title"
)

// Job types.
const (
	TypeRefreshLinks = "refreshLinks"
	TypeNull         = "null"
)

// Null does nothing; it exists to exercise the queue.
var Null = ExecutorFunc(func(ctx context.Context, sess storage.Session, job *storage.Job) error {
	return nil
})

// LinkRefresher rebuilds the stored outgoing links of a page from its
// latest revision.
type LinkRefresher struct {
	codec  *title.Codec
	loader *page.Loader
}

func NewLinkRefresher(codec *title.Codec) *LinkRefresher {
	return &LinkRefresher{codec: codec, loader: page.NewLoader(codec)}
}

// RefreshLinksJob describes a refresh of t's links.
func RefreshLinksJob(t title.Title, revID int64) *storage.Job {
	return &storage.Job{
		Type:      TypeRefreshLinks,
		Namespace: int(t.Namespace()),
		DBKey:     t.DBKey(),
		Params:    map[string]string{"rev": strconv.FormatInt(revID, 10)},
	}
}

// Run implements Executor for refreshLinks jobs.
func (r *LinkRefresher) Run(ctx context.Context, sess storage.Session, job *storage.Job) error {
	return r.Refresh(ctx, sess, r.codec.MakeTitle(title.Namespace(job.Namespace), job.DBKey))
}

// Refresh stores the links of t's latest text. A page deleted since the job
// was queued is skipped.
func (r *LinkRefresher) Refresh(ctx context.Context, sess storage.Session, t title.Title) error {
	a, err := r.loader.Load(ctx, sess, t)
	if err != nil {
		return err
	}
	if !a.Exists() {
		return nil
	}
	rev, err := r.loader.Revision(ctx, sess, a, 0)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var targets []string
	for _, raw := range page.ParseLinks(rev.Text) {
		lt, err := r.codec.Parse(raw)
		if err != nil || lt.IsExternal() || lt.IsSpecialPage() {
			continue
		}
		targets = append(targets, lt.PrefixedDBKey())
	}
	if err := sess.Pages().SetLinks(ctx, a.ID(), targets); err != nil {
		return fmt.Errorf("set links of %s: %w", t.PrefixedDBKey(), err)
	}
	return nil
}

// LinksUpdate refreshes links after the response, falling back to a
// refreshLinks job when it fails.
type LinksUpdate struct {
	Refresher *LinkRefresher
	Session   storage.Session
	Title     title.Title
}

func (u *LinksUpdate) Do(ctx context.Context) error {
	return u.Refresher.Refresh(ctx, u.Session, u.Title)
}

func (u *LinksUpdate) AsJob() *storage.Job {
	return RefreshLinksJob(u.Title, 0)
}
