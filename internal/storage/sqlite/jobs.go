package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tjfontaine/wikifront/internal/storage"
)

// claimTTL is how long a claim survives before the job counts as abandoned.
const claimTTL = 10 * time.Minute

var jobColumns = []string{"job_id", "job_cmd", "job_namespace", "job_title", "job_params", "job_attempts", "job_created_at"}

type jobs struct{ s *session }

func (q jobs) unclaimed(typ string) sq.Sqlizer {
	stale := q.s.store.now().Add(-claimTTL).UnixMilli()
	cond := sq.And{sq.Or{sq.Eq{"job_claimed_at": nil}, sq.Lt{"job_claimed_at": stale}}}
	if typ != "" {
		cond = append(cond, sq.Eq{"job_cmd": typ})
	}
	return cond
}

func (q jobs) Push(ctx context.Context, js ...*storage.Job) error {
	if len(js) == 0 {
		return nil
	}
	now := q.s.store.now()
	return q.s.write(ctx, func(tx *sql.Tx) error {
		for _, j := range js {
			params, err := json.Marshal(j.Params)
			if err != nil {
				return fmt.Errorf("encode job params: %w", err)
			}
			created := j.CreatedAt
			if created.IsZero() {
				created = now
			}
			query, args, err := q.s.store.stbl.Insert("job").
				Columns("job_cmd", "job_namespace", "job_title", "job_params", "job_created_at").
				Values(j.Type, j.Namespace, j.DBKey, string(params), created.UnixMilli()).
				ToSql()
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("push job %s: %w", j.Type, err)
			}
			if j.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (q jobs) HasJobs(ctx context.Context, typ string) (bool, error) {
	r, err := q.s.reader(jobsShard)
	if err != nil {
		return false, err
	}
	query, args, err := q.s.store.stbl.Select("1").
		From("job").
		Where(q.unclaimed(typ)).
		Limit(1).
		ToSql()
	if err != nil {
		return false, err
	}
	var one int
	switch err := r.QueryRowContext(ctx, query, args...).Scan(&one); err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, fmt.Errorf("has jobs: %w", err)
	}
}

// Pop claims inside the session transaction, so the claim is undone
// with it on rollback.
func (q jobs) Pop(ctx context.Context, typ string) (*storage.Job, error) {
	tx, err := q.s.begin(ctx)
	if err != nil {
		return nil, err
	}
	stbl := q.s.store.stbl

	query, args, err := stbl.Select(jobColumns...).
		From("job").
		Where(q.unclaimed(typ)).
		OrderBy("job_id").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	var (
		j       storage.Job
		params  string
		created int64
	)
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&j.ID, &j.Type, &j.Namespace, &j.DBKey, &params, &j.Attempts, &created); err != nil {
		return nil, notFound(err, "job queue %q", typ)
	}
	j.CreatedAt = time.UnixMilli(created)
	if err := json.Unmarshal([]byte(params), &j.Params); err != nil {
		return nil, fmt.Errorf("decode job %d params: %w", j.ID, err)
	}

	query, args, err = stbl.Update("job").
		Set("job_claimed_at", q.s.store.now().UnixMilli()).
		Where(sq.Eq{"job_id": j.ID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("claim job %d: %w", j.ID, err)
	}
	q.s.pending = append(q.s.pending, j.ID)
	return &j, nil
}

func (q jobs) Ack(ctx context.Context, job *storage.Job) error {
	query, args, err := q.s.store.stbl.Delete("job").Where(sq.Eq{"job_id": job.ID}).ToSql()
	if err != nil {
		return err
	}
	if err := q.s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	}); err != nil {
		return fmt.Errorf("ack job %d: %w", job.ID, err)
	}
	q.s.settle(job.ID)
	return nil
}

func (q jobs) Nack(ctx context.Context, job *storage.Job, maxAttempts int) error {
	stbl := q.s.store.stbl
	err := q.s.write(ctx, func(tx *sql.Tx) error {
		query, args, err := stbl.Update("job").
			Set("job_attempts", sq.Expr("job_attempts + 1")).
			Set("job_claimed_at", nil).
			Where(sq.Eq{"job_id": job.ID}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		if maxAttempts <= 0 {
			return nil
		}
		query, args, err = stbl.Delete("job").
			Where(sq.Eq{"job_id": job.ID}).
			Where(sq.GtOrEq{"job_attempts": maxAttempts}).
			ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("nack job %d: %w", job.ID, err)
	}
	q.s.settle(job.ID)
	return nil
}
