package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tjfontaine/wikifront/internal/storage"
)

// shard picks the pool a read goes to when no transaction is open.
type shard int

const (
	mainShard shard = iota
	jobsShard
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// session writes through one connection to the main shard with the jobs
// shard attached, so a single transaction covers both. Reads go through the
// open transaction so the session sees its own pending writes.
type session struct {
	store *Store

	conn *sql.Conn
	tx   *sql.Tx

	wrote     bool
	writeTime time.Duration
	closed    bool

	// pending are claims made in the open transaction; held are claims that
	// survived an earlier commit without being settled.
	pending []int64
	held    []int64
	settled map[int64]bool
}

var _ storage.Session = (*session)(nil)

func (s *session) Pages() storage.PageStore         { return pages{s} }
func (s *session) Revisions() storage.RevisionStore { return revisions{s} }
func (s *session) Files() storage.FileStore         { return files{s} }
func (s *session) Jobs() storage.JobQueue           { return jobs{s} }

func (s *session) begin(ctx context.Context) (*sql.Tx, error) {
	if s.closed {
		return nil, storage.ErrSessionClosed
	}
	if s.tx != nil {
		return s.tx, nil
	}

	// The transaction outlives request cancellation; only Commit or
	// Rollback ends it.
	bg := context.WithoutCancel(ctx)
	conn, err := s.store.main.Conn(bg)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.ExecContext(bg, "ATTACH DATABASE ? AS "+jobsSchemaName, s.store.jobsFile); err != nil {
		discard(conn)
		return nil, fmt.Errorf("attach jobs shard: %w", err)
	}

	var tx *sql.Tx
	err = busyRetry(ctx, func() error {
		var err error
		tx, err = conn.BeginTx(bg, nil)
		return err
	})
	if err != nil {
		discard(conn)
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	s.conn = conn
	s.tx = tx
	return tx, nil
}

// release detaches the jobs shard and hands the connection back to the pool.
// A connection that cannot be detached, or that may still hold an open
// transaction, is closed instead.
func (s *session) release(clean bool) {
	conn := s.conn
	s.conn = nil
	s.tx = nil
	if conn == nil {
		return
	}
	if clean {
		if _, err := conn.ExecContext(context.Background(), "DETACH DATABASE "+jobsSchemaName); err == nil {
			_ = conn.Close()
			return
		}
	}
	discard(conn)
}

// discard closes the underlying driver connection, rolling back anything it
// still has open.
func discard(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
}

func (s *session) reader(sh shard) (querier, error) {
	if s.closed {
		return nil, storage.ErrSessionClosed
	}
	if s.tx != nil {
		return s.tx, nil
	}
	if sh == jobsShard {
		return s.store.jobs, nil
	}
	return s.store.main, nil
}

func (s *session) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	start := time.Now()
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.wrote = true
	s.writeTime += time.Since(start)
	return nil
}

// CommitAll commits both shards in one transaction. SQLite makes a commit
// spanning attached databases atomic through a super-journal, so either
// every shard's writes land or none do.
func (s *session) CommitAll(ctx context.Context, opts storage.CommitOptions) error {
	if s.closed {
		return storage.ErrSessionClosed
	}
	if s.tx == nil {
		return nil
	}
	if opts.MaxWriteDuration > 0 && s.writeTime > opts.MaxWriteDuration {
		took := s.writeTime
		s.rollbackTx()
		return fmt.Errorf("commit after %s: %w", took, storage.ErrWriteDurationExceeded)
	}

	if err := s.tx.Commit(); err != nil {
		s.release(false)
		s.pending = nil
		s.settled = nil
		s.writeTime = 0
		return fmt.Errorf("commit: %w", err)
	}
	s.release(true)

	for _, id := range s.pending {
		if !s.settled[id] {
			s.held = append(s.held, id)
		}
	}
	kept := s.held[:0]
	for _, id := range s.held {
		if !s.settled[id] {
			kept = append(kept, id)
		}
	}
	s.held = kept
	s.pending = nil
	s.settled = nil
	s.writeTime = 0
	return nil
}

func (s *session) rollbackTx() {
	if s.tx != nil {
		s.release(s.tx.Rollback() == nil)
	}
	s.pending = nil
	s.settled = nil
	s.writeTime = 0
}

func (s *session) Rollback(ctx context.Context) error {
	s.rollbackTx()
	if len(s.held) == 0 {
		return nil
	}
	query, args, err := s.store.stbl.Update("job").
		Set("job_claimed_at", nil).
		Where(sq.Eq{"job_id": s.held}).
		ToSql()
	if err != nil {
		return err
	}
	s.held = nil
	return busyRetry(ctx, func() error {
		_, err := s.store.jobs.ExecContext(context.WithoutCancel(ctx), query, args...)
		return err
	})
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

// UsedLaggedReplica is always false: both shards are read from the primary.
func (s *session) UsedLaggedReplica() bool { return false }

func (s *session) MaxLag(ctx context.Context) (time.Duration, error) { return 0, nil }

func (s *session) settle(id int64) {
	if s.settled == nil {
		s.settled = make(map[int64]bool)
	}
	s.settled[id] = true
}

func checkAffected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, storage.ErrNotFound)
	}
	return nil
}
