// Package storage defines the data-store collaborators of the request
// pipeline. A Factory hands out one Session per unit of work; every write
// made through a Session stays pending until CommitAll applies all of them
// across every backing shard, or none.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write collides with committed state.
	ErrConflict = errors.New("conflict")
	// ErrWriteDurationExceeded is returned by CommitAll when the pending
	// writes took longer than CommitOptions.MaxWriteDuration.
	ErrWriteDurationExceeded = errors.New("write duration exceeded")
	// ErrSessionClosed is returned after Shutdown.
	ErrSessionClosed = errors.New("session closed")
)

// Page is a stored page row.
type Page struct {
	ID        int64
	Namespace int
	DBKey     string
	// Model is the content model: wikitext, text, css, javascript, json.
	Model      string
	Latest     int64
	IsRedirect bool
	// RedirectTarget is a prefixed title key, or an absolute URL for hard redirects.
	RedirectTarget string
	Touched        time.Time
	Views          int64
	Len            int
}

// Revision is one saved version of a page.
type Revision struct {
	ID        int64
	PageID    int64
	ParentID  int64
	Text      string
	Comment   string
	User      string
	Timestamp time.Time
}

// File is a media file description.
type File struct {
	Name string
	// Local is false for files served from a shared foreign repository.
	Local bool
	Size  int64
	MIME  string
	// RedirectTarget is set when the file name itself redirects.
	RedirectTarget string
}

// Job is a unit of background work.
type Job struct {
	ID        int64
	Type      string
	Namespace int
	DBKey     string
	Params    map[string]string
	Attempts  int
	CreatedAt time.Time
}

// PageStore reads and writes pages.
type PageStore interface {
	ByID(ctx context.Context, id int64) (*Page, error)
	ByTitle(ctx context.Context, ns int, dbKey string) (*Page, error)
	// Save stores a new revision with text, creating the page when p.ID is 0.
	// p.ID, p.Latest, p.Len and p.Touched are updated in place.
	Save(ctx context.Context, p *Page, text, comment, user string) (*Revision, error)
	Touch(ctx context.Context, id int64, at time.Time) error
	IncrementViews(ctx context.Context, id int64) error
	// Search lists pages in ns whose key starts with prefix.
	Search(ctx context.Context, ns int, prefix string, limit int) ([]*Page, error)
	// List lists pages in ns with key >= from, ordered by key.
	List(ctx context.Context, ns int, from string, limit int) ([]*Page, error)
	SetLinks(ctx context.Context, pageID int64, targets []string) error
	Links(ctx context.Context, pageID int64) ([]string, error)
}

// RevisionStore reads revisions.
type RevisionStore interface {
	ByID(ctx context.Context, id int64) (*Revision, error)
	// History lists revisions of a page, newest first.
	History(ctx context.Context, pageID int64, limit int) ([]*Revision, error)
}

// FileStore reads and registers file descriptions.
type FileStore interface {
	Find(ctx context.Context, name string) (*File, error)
	Put(ctx context.Context, f *File) error
}

// JobQueue is the durable background job queue.
type JobQueue interface {
	Push(ctx context.Context, jobs ...*Job) error
	// HasJobs reports whether unclaimed jobs of typ exist; empty typ means any.
	HasJobs(ctx context.Context, typ string) (bool, error)
	// Pop claims the oldest unclaimed job of typ, or returns ErrNotFound.
	Pop(ctx context.Context, typ string) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	// Nack releases the job for another attempt, dropping it once
	// maxAttempts is reached.
	Nack(ctx context.Context, job *Job, maxAttempts int) error
}

// CommitOptions bounds a commit.
type CommitOptions struct {
	// MaxWriteDuration rejects the commit when pending writes took longer.
	MaxWriteDuration time.Duration
}

// Session is one unit of work over all shards.
type Session interface {
	Pages() PageStore
	Revisions() RevisionStore
	Files() FileStore
	Jobs() JobQueue

	// CommitAll applies every pending write on every shard, or none.
	CommitAll(ctx context.Context, opts CommitOptions) error
	// Rollback discards pending writes and releases claimed jobs.
	Rollback(ctx context.Context) error
	// Shutdown rolls back leftovers and releases the session.
	Shutdown(ctx context.Context) error

	// HasRecentWrites reports whether this session wrote, committed or not.
	HasRecentWrites() bool
	// UsedLaggedReplica reports whether reads came from a stale replica.
	UsedLaggedReplica() bool
	// MaxLag reports the worst replica lag.
	MaxLag(ctx context.Context) (time.Duration, error)
}

// Factory opens sessions against a configured backend.
type Factory interface {
	Begin(ctx context.Context) (Session, error)
	Close() error
}
