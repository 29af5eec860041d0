// Package memory is an in-process storage backend. Sessions stage writes on
// a private copy and CommitAll replays them onto the shared state under one
// lock, so a commit is all-or-nothing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tjfontaine/wikifront/internal/storage"
)

// DefaultLagThreshold is the replica lag above which reads count as lagged.
const DefaultLagThreshold = 6 * time.Second

type titleKey struct {
	ns  int
	key string
}

type state struct {
	pages     map[int64]*storage.Page
	titles    map[titleKey]int64
	revisions map[int64]*storage.Revision
	links     map[int64][]string
	files     map[string]*storage.File
	jobs      map[int64]*storage.Job
}

func newState() *state {
	return &state{
		pages:     make(map[int64]*storage.Page),
		titles:    make(map[titleKey]int64),
		revisions: make(map[int64]*storage.Revision),
		links:     make(map[int64][]string),
		files:     make(map[string]*storage.File),
		jobs:      make(map[int64]*storage.Job),
	}
}

func (st *state) clone() *state {
	c := newState()
	for id, p := range st.pages {
		cp := *p
		c.pages[id] = &cp
	}
	for k, id := range st.titles {
		c.titles[k] = id
	}
	for id, r := range st.revisions {
		cr := *r
		c.revisions[id] = &cr
	}
	for id, l := range st.links {
		c.links[id] = append([]string(nil), l...)
	}
	for name, f := range st.files {
		cf := *f
		c.files[name] = &cf
	}
	for id, j := range st.jobs {
		c.jobs[id] = copyJob(j)
	}
	return c
}

func copyJob(j *storage.Job) *storage.Job {
	cj := *j
	if j.Params != nil {
		cj.Params = make(map[string]string, len(j.Params))
		for k, v := range j.Params {
			cj.Params[k] = v
		}
	}
	return &cj
}

// Store is an in-memory implementation of storage.Factory
type Store struct {
	mu      sync.RWMutex
	live    *state
	claimed map[int64]bool

	nextPage atomic.Int64
	nextRev  atomic.Int64
	nextJob  atomic.Int64

	lag          atomic.Int64
	lagThreshold time.Duration
	now          func() time.Time
}

var _ storage.Factory = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		live:         newState(),
		claimed:      make(map[int64]bool),
		lagThreshold: DefaultLagThreshold,
		now:          time.Now,
	}
}

// SetLag simulates replica lag for every session.
func (s *Store) SetLag(d time.Duration) { s.lag.Store(int64(d)) }

// SetClock replaces the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// JobCount returns the number of committed jobs, claimed or not.
func (s *Store) JobCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live.jobs)
}

func (s *Store) Begin(ctx context.Context) (storage.Session, error) {
	return &session{store: s}, nil
}

func (s *Store) Close() error { return nil }

type op func(*state) error

type session struct {
	store *Store

	view      *state
	ops       []op
	writeTime time.Duration
	wrote     bool
	read      bool
	closed    bool

	claimed []int64
	settled []int64
}

var _ storage.Session = (*session)(nil)

func (s *session) Pages() storage.PageStore         { return pages{s} }
func (s *session) Revisions() storage.RevisionStore { return revisions{s} }
func (s *session) Files() storage.FileStore         { return files{s} }
func (s *session) Jobs() storage.JobQueue           { return jobs{s} }

func (s *session) withRead(fn func(*state) error) error {
	if s.closed {
		return storage.ErrSessionClosed
	}
	s.read = true
	if s.view != nil {
		return fn(s.view)
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	return fn(s.store.live)
}

func (s *session) write(o op) error {
	if s.closed {
		return storage.ErrSessionClosed
	}
	start := time.Now()
	if s.view == nil {
		s.store.mu.RLock()
		s.view = s.store.live.clone()
		s.store.mu.RUnlock()
	}
	if err := o(s.view); err != nil {
		return err
	}
	s.ops = append(s.ops, o)
	s.wrote = true
	s.writeTime += time.Since(start)
	return nil
}

func (s *session) CommitAll(ctx context.Context, opts storage.CommitOptions) error {
	if s.closed {
		return storage.ErrSessionClosed
	}
	if len(s.ops) == 0 {
		s.releaseSettled()
		return nil
	}
	if opts.MaxWriteDuration > 0 && s.writeTime > opts.MaxWriteDuration {
		s.discard()
		return fmt.Errorf("commit after %s: %w", s.writeTime, storage.ErrWriteDurationExceeded)
	}

	s.store.mu.Lock()
	next := s.store.live.clone()
	for _, o := range s.ops {
		if err := o(next); err != nil {
			s.store.mu.Unlock()
			s.discard()
			return fmt.Errorf("commit: %w", err)
		}
	}
	s.store.live = next
	for _, id := range s.settled {
		delete(s.store.claimed, id)
	}
	s.store.mu.Unlock()

	s.forgetSettled()
	s.ops = nil
	s.view = nil
	s.writeTime = 0
	return nil
}

func (s *session) releaseSettled() {
	if len(s.settled) == 0 {
		return
	}
	s.store.mu.Lock()
	for _, id := range s.settled {
		delete(s.store.claimed, id)
	}
	s.store.mu.Unlock()
	s.forgetSettled()
}

// forgetSettled drops released jobs from the session's claim list.
func (s *session) forgetSettled() {
	settled := make(map[int64]bool, len(s.settled))
	for _, id := range s.settled {
		settled[id] = true
	}
	kept := s.claimed[:0]
	for _, id := range s.claimed {
		if !settled[id] {
			kept = append(kept, id)
		}
	}
	s.claimed = kept
	s.settled = nil
}

func (s *session) discard() {
	s.ops = nil
	s.view = nil
	s.writeTime = 0
	s.settled = nil
}

func (s *session) Rollback(ctx context.Context) error {
	s.discard()
	if len(s.claimed) > 0 {
		s.store.mu.Lock()
		for _, id := range s.claimed {
			delete(s.store.claimed, id)
		}
		s.store.mu.Unlock()
		s.claimed = nil
	}
	return nil
}

func (s *session) Shutdown(ctx context.Context) error {
	if s.closed {
		return nil
	}
	err := s.Rollback(ctx)
	s.closed = true
	return err
}

func (s *session) HasRecentWrites() bool { return s.wrote }

func (s *session) UsedLaggedReplica() bool {
	return s.read && time.Duration(s.store.lag.Load()) > s.store.lagThreshold
}

func (s *session) MaxLag(ctx context.Context) (time.Duration, error) {
	return time.Duration(s.store.lag.Load()), nil
}

type pages struct{ s *session }

func (p pages) ByID(ctx context.Context, id int64) (*storage.Page, error) {
	var out *storage.Page
	err := p.s.withRead(func(st *state) error {
		pg, ok := st.pages[id]
		if !ok {
			return fmt.Errorf("page %d: %w", id, storage.ErrNotFound)
		}
		cp := *pg
		out = &cp
		return nil
	})
	return out, err
}

func (p pages) ByTitle(ctx context.Context, ns int, dbKey string) (*storage.Page, error) {
	var out *storage.Page
	err := p.s.withRead(func(st *state) error {
		id, ok := st.titles[titleKey{ns, dbKey}]
		if !ok {
			return fmt.Errorf("page %d:%s: %w", ns, dbKey, storage.ErrNotFound)
		}
		cp := *st.pages[id]
		out = &cp
		return nil
	})
	return out, err
}

func (p pages) Save(ctx context.Context, pg *storage.Page, text, comment, user string) (*storage.Revision, error) {
	store := p.s.store
	now := store.now()
	isNew := pg.ID == 0
	pageID := pg.ID
	if isNew {
		pageID = store.nextPage.Add(1)
	}
	revID := store.nextRev.Add(1)

	rec := *pg
	rec.ID = pageID
	rec.Latest = revID
	rec.Len = len(text)
	rec.Touched = now
	if rec.Model == "" {
		rec.Model = "wikitext"
	}
	rev := storage.Revision{
		ID:        revID,
		PageID:    pageID,
		Text:      text,
		Comment:   comment,
		User:      user,
		Timestamp: now,
	}
	key := titleKey{rec.Namespace, rec.DBKey}

	err := p.s.write(func(st *state) error {
		np := rec
		nr := rev
		if isNew {
			if _, taken := st.titles[key]; taken {
				return fmt.Errorf("create page %d:%s: %w", key.ns, key.key, storage.ErrConflict)
			}
			st.titles[key] = pageID
		} else {
			cur, ok := st.pages[pageID]
			if !ok {
				return fmt.Errorf("page %d: %w", pageID, storage.ErrNotFound)
			}
			nr.ParentID = cur.Latest
			np.Views = cur.Views
		}
		st.pages[pageID] = &np
		st.revisions[revID] = &nr
		return nil
	})
	if err != nil {
		return nil, err
	}

	saved := *p.s.view.revisions[revID]
	*pg = *p.s.view.pages[pageID]
	return &saved, nil
}

func (p pages) Touch(ctx context.Context, id int64, at time.Time) error {
	return p.s.write(func(st *state) error {
		pg, ok := st.pages[id]
		if !ok {
			return fmt.Errorf("page %d: %w", id, storage.ErrNotFound)
		}
		pg.Touched = at
		return nil
	})
}

func (p pages) IncrementViews(ctx context.Context, id int64) error {
	return p.s.write(func(st *state) error {
		pg, ok := st.pages[id]
		if !ok {
			return fmt.Errorf("page %d: %w", id, storage.ErrNotFound)
		}
		pg.Views++
		return nil
	})
}

func (p pages) Search(ctx context.Context, ns int, prefix string, limit int) ([]*storage.Page, error) {
	return p.collect(ns, limit, func(pg *storage.Page) bool {
		return strings.HasPrefix(pg.DBKey, prefix)
	})
}

func (p pages) List(ctx context.Context, ns int, from string, limit int) ([]*storage.Page, error) {
	return p.collect(ns, limit, func(pg *storage.Page) bool {
		return pg.DBKey >= from
	})
}

func (p pages) collect(ns, limit int, match func(*storage.Page) bool) ([]*storage.Page, error) {
	var out []*storage.Page
	err := p.s.withRead(func(st *state) error {
		for _, pg := range st.pages {
			if pg.Namespace == ns && match(pg) {
				cp := *pg
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DBKey < out[j].DBKey })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (p pages) SetLinks(ctx context.Context, pageID int64, targets []string) error {
	links := append([]string(nil), targets...)
	return p.s.write(func(st *state) error {
		st.links[pageID] = append([]string(nil), links...)
		return nil
	})
}

func (p pages) Links(ctx context.Context, pageID int64) ([]string, error) {
	var out []string
	err := p.s.withRead(func(st *state) error {
		out = append(out, st.links[pageID]...)
		return nil
	})
	return out, err
}

type revisions struct{ s *session }

func (r revisions) ByID(ctx context.Context, id int64) (*storage.Revision, error) {
	var out *storage.Revision
	err := r.s.withRead(func(st *state) error {
		rev, ok := st.revisions[id]
		if !ok {
			return fmt.Errorf("revision %d: %w", id, storage.ErrNotFound)
		}
		cp := *rev
		out = &cp
		return nil
	})
	return out, err
}

func (r revisions) History(ctx context.Context, pageID int64, limit int) ([]*storage.Revision, error) {
	var out []*storage.Revision
	err := r.s.withRead(func(st *state) error {
		for _, rev := range st.revisions {
			if rev.PageID == pageID {
				cp := *rev
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type files struct{ s *session }

func (f files) Find(ctx context.Context, name string) (*storage.File, error) {
	var out *storage.File
	err := f.s.withRead(func(st *state) error {
		file, ok := st.files[name]
		if !ok {
			return fmt.Errorf("file %s: %w", name, storage.ErrNotFound)
		}
		cp := *file
		out = &cp
		return nil
	})
	return out, err
}

func (f files) Put(ctx context.Context, file *storage.File) error {
	rec := *file
	return f.s.write(func(st *state) error {
		cp := rec
		st.files[rec.Name] = &cp
		return nil
	})
}

type jobs struct{ s *session }

func (q jobs) Push(ctx context.Context, js ...*storage.Job) error {
	if len(js) == 0 {
		return nil
	}
	now := q.s.store.now()
	recs := make([]*storage.Job, len(js))
	for i, j := range js {
		rec := copyJob(j)
		rec.ID = q.s.store.nextJob.Add(1)
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		j.ID = rec.ID
		recs[i] = rec
	}
	return q.s.write(func(st *state) error {
		for _, rec := range recs {
			st.jobs[rec.ID] = copyJob(rec)
		}
		return nil
	})
}

func (q jobs) HasJobs(ctx context.Context, typ string) (bool, error) {
	if q.s.closed {
		return false, storage.ErrSessionClosed
	}
	store := q.s.store
	store.mu.RLock()
	defer store.mu.RUnlock()
	for id, j := range store.live.jobs {
		if !store.claimed[id] && (typ == "" || j.Type == typ) {
			return true, nil
		}
	}
	return false, nil
}

func (q jobs) Pop(ctx context.Context, typ string) (*storage.Job, error) {
	if q.s.closed {
		return nil, storage.ErrSessionClosed
	}
	store := q.s.store
	store.mu.Lock()
	defer store.mu.Unlock()

	var best *storage.Job
	for id, j := range store.live.jobs {
		if store.claimed[id] || (typ != "" && j.Type != typ) {
			continue
		}
		if best == nil || j.ID < best.ID {
			best = j
		}
	}
	if best == nil {
		return nil, fmt.Errorf("job queue: %w", storage.ErrNotFound)
	}
	store.claimed[best.ID] = true
	q.s.claimed = append(q.s.claimed, best.ID)
	return copyJob(best), nil
}

func (q jobs) Ack(ctx context.Context, job *storage.Job) error {
	id := job.ID
	if err := q.s.write(func(st *state) error {
		delete(st.jobs, id)
		return nil
	}); err != nil {
		return err
	}
	q.s.settled = append(q.s.settled, id)
	return nil
}

func (q jobs) Nack(ctx context.Context, job *storage.Job, maxAttempts int) error {
	id := job.ID
	if err := q.s.write(func(st *state) error {
		j, ok := st.jobs[id]
		if !ok {
			return nil
		}
		j.Attempts++
		if maxAttempts > 0 && j.Attempts >= maxAttempts {
			delete(st.jobs, id)
		}
		return nil
	}); err != nil {
		return err
	}
	q.s.settled = append(q.s.settled, id)
	return nil
}
