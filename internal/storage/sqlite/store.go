// Package sqlite is the SQLite storage backend. Pages, revisions, files and
// links live in the main shard; the job queue lives in its own file, attached
// to the main connection while a session writes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tjfontaine/wikifront/internal/storage"
)

const revisionCacheSize = 4096

// jobsSchemaName is the name the jobs shard is attached under.
const jobsSchemaName = "jobs"

// Store is a SQLite implementation of storage.Factory
type Store struct {
	main *sql.DB
	jobs *sql.DB
	// jobsFile is the jobs shard path without DSN parameters.
	jobsFile string
	stbl sq.StatementBuilderType
	revs *lru.Cache[int64, storage.Revision]
	now  func() time.Time
}

var _ storage.Factory = (*Store)(nil)

// PrepareDSN adds rollback journaling, a busy timeout and immediate
// transactions to a raw DSN unless they are already set. Commits spanning
// attached shards are only atomic with a rollback journal.
func PrepareDSN(uri string) (string, error) {
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}

		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	for _, val := range query["_pragma"] {
		if strings.HasPrefix(val, "journal_mode") {
			foundJournalMode = true
		} else if strings.HasPrefix(val, "busy_timeout") {
			foundBusyTimeout = true
		}
	}

	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(DELETE)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(100)")
	}

	// Writers take the lock when the transaction starts, not on first write.
	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}

	return uri + "?" + query.Encode(), nil
}

// New opens (and creates) both shards.
func New(ctx context.Context, mainPath, jobsPath string) (*Store, error) {
	s := &Store{
		jobsFile: jobsPath,
		stbl:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now:      time.Now,
	}
	if i := strings.Index(jobsPath, "?"); i != -1 {
		s.jobsFile = jobsPath[:i]
	}
	cache, err := lru.New[int64, storage.Revision](revisionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create revision cache: %w", err)
	}
	s.revs = cache

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		db, err := openShard(gctx, mainPath, mainSchema)
		if err != nil {
			return fmt.Errorf("main shard: %w", err)
		}
		s.main = db
		return nil
	})
	g.Go(func() error {
		db, err := openShard(gctx, jobsPath, jobsSchema)
		if err != nil {
			return fmt.Errorf("jobs shard: %w", err)
		}
		s.jobs = db
		return nil
	})
	if err := g.Wait(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func openShard(ctx context.Context, path string, schema []string) (*sql.DB, error) {
	dsn, err := PrepareDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 5 * time.Second
	if err := backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(policy, ctx)); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return db, nil
}

var mainSchema = []string{
	`CREATE TABLE IF NOT EXISTS page (
		page_id INTEGER PRIMARY KEY AUTOINCREMENT,
		page_namespace INTEGER NOT NULL,
		page_title TEXT NOT NULL,
		page_content_model TEXT NOT NULL DEFAULT 'wikitext',
		page_latest INTEGER NOT NULL DEFAULT 0,
		page_is_redirect INTEGER NOT NULL DEFAULT 0,
		page_touched INTEGER NOT NULL,
		page_views INTEGER NOT NULL DEFAULT 0,
		page_len INTEGER NOT NULL DEFAULT 0,
		UNIQUE (page_namespace, page_title)
	)`,
	`CREATE TABLE IF NOT EXISTS redirect (
		rd_from INTEGER PRIMARY KEY,
		rd_target TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS revision (
		rev_id INTEGER PRIMARY KEY AUTOINCREMENT,
		rev_page INTEGER NOT NULL,
		rev_parent INTEGER NOT NULL DEFAULT 0,
		rev_text TEXT NOT NULL,
		rev_comment TEXT NOT NULL DEFAULT '',
		rev_user TEXT NOT NULL DEFAULT '',
		rev_timestamp INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pagelinks (
		pl_from INTEGER NOT NULL,
		pl_target TEXT NOT NULL,
		PRIMARY KEY (pl_from, pl_target)
	)`,
	`CREATE TABLE IF NOT EXISTS file (
		file_name TEXT PRIMARY KEY,
		file_local INTEGER NOT NULL DEFAULT 1,
		file_size INTEGER NOT NULL DEFAULT 0,
		file_mime TEXT NOT NULL DEFAULT '',
		file_redirect TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_revision_page ON revision(rev_page, rev_id)`,
}

var jobsSchema = []string{
	`CREATE TABLE IF NOT EXISTS job (
		job_id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_cmd TEXT NOT NULL,
		job_namespace INTEGER NOT NULL DEFAULT 0,
		job_title TEXT NOT NULL DEFAULT '',
		job_params TEXT NOT NULL DEFAULT '{}',
		job_attempts INTEGER NOT NULL DEFAULT 0,
		job_claimed_at INTEGER,
		job_created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_cmd ON job(job_cmd, job_claimed_at, job_id)`,
}

func (s *Store) Begin(ctx context.Context) (storage.Session, error) {
	return &session{store: s}, nil
}

// Close closes both shards.
func (s *Store) Close() error {
	var errs []error
	if s.main != nil {
		errs = append(errs, s.main.Close())
	}
	if s.jobs != nil {
		errs = append(errs, s.jobs.Close())
	}
	return errors.Join(errs...)
}

// busyRetry retries fn while SQLite reports the database as busy or locked.
func busyRetry(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 2 * time.Second

	const maxRetries = 10
	err := backoff.Retry(func() error {
		err := fn()
		if err != nil && !isBusyError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))
	if err != nil && isBusyError(err) {
		return fmt.Errorf("sqlite busy error after %d retries: %w", maxRetries, err)
	}
	return err
}

var busyErrors = map[int]struct{}{
	sqlite3.SQLITE_BUSY_RECOVERY:      {},
	sqlite3.SQLITE_BUSY_SNAPSHOT:      {},
	sqlite3.SQLITE_BUSY_TIMEOUT:       {},
	sqlite3.SQLITE_BUSY:               {},
	sqlite3.SQLITE_LOCKED_SHAREDCACHE: {},
	sqlite3.SQLITE_LOCKED:             {},
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	_, ok := busyErrors[sqliteErr.Code()]
	return ok
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code&0xff == sqlite3.SQLITE_CONSTRAINT
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, storage.ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
