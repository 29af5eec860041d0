package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tjfontaine/wikifront/internal/storage"
)

var pageColumns = []string{
	"page_id", "page_namespace", "page_title", "page_content_model", "page_latest",
	"page_is_redirect", "page_touched", "page_views", "page_len", "COALESCE(rd_target, '')",
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPage(row scanner) (*storage.Page, error) {
	var (
		pg      storage.Page
		touched int64
	)
	if err := row.Scan(&pg.ID, &pg.Namespace, &pg.DBKey, &pg.Model, &pg.Latest,
		&pg.IsRedirect, &touched, &pg.Views, &pg.Len, &pg.RedirectTarget); err != nil {
		return nil, err
	}
	pg.Touched = time.UnixMilli(touched)
	return &pg, nil
}

type pages struct{ s *session }

func (p pages) selectPages() sq.SelectBuilder {
	return p.s.store.stbl.Select(pageColumns...).
		From("page").
		LeftJoin("redirect ON rd_from = page_id")
}

func (p pages) one(ctx context.Context, b sq.SelectBuilder, what string) (*storage.Page, error) {
	q, err := p.s.reader(mainShard)
	if err != nil {
		return nil, err
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	pg, err := scanPage(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, notFound(err, "page %s", what)
	}
	return pg, nil
}

func (p pages) many(ctx context.Context, b sq.SelectBuilder) ([]*storage.Page, error) {
	q, err := p.s.reader(mainShard)
	if err != nil {
		return nil, err
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var out []*storage.Page
	for rows.Next() {
		pg, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pg)
	}
	return out, rows.Err()
}

func (p pages) ByID(ctx context.Context, id int64) (*storage.Page, error) {
	return p.one(ctx, p.selectPages().Where(sq.Eq{"page_id": id}), fmt.Sprint(id))
}

func (p pages) ByTitle(ctx context.Context, ns int, dbKey string) (*storage.Page, error) {
	return p.one(ctx, p.selectPages().Where(sq.Eq{"page_namespace": ns, "page_title": dbKey}),
		fmt.Sprintf("%d:%s", ns, dbKey))
}

func (p pages) Save(ctx context.Context, pg *storage.Page, text, comment, user string) (*storage.Revision, error) {
	stbl := p.s.store.stbl
	var rev *storage.Revision

	err := p.s.write(ctx, func(tx *sql.Tx) error {
		now := time.UnixMilli(p.s.store.now().UnixMilli())
		rec := *pg
		if rec.Model == "" {
			rec.Model = "wikitext"
		}

		var parent int64
		if rec.ID == 0 {
			query, args, err := stbl.Insert("page").
				Columns("page_namespace", "page_title", "page_content_model", "page_is_redirect", "page_touched", "page_len").
				Values(rec.Namespace, rec.DBKey, rec.Model, rec.IsRedirect, now.UnixMilli(), len(text)).
				ToSql()
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				if isConstraintError(err) {
					return fmt.Errorf("create page %d:%s: %w", rec.Namespace, rec.DBKey, storage.ErrConflict)
				}
				return fmt.Errorf("create page: %w", err)
			}
			if rec.ID, err = res.LastInsertId(); err != nil {
				return err
			}
			rec.Views = 0
		} else {
			query, args, err := stbl.Select("page_latest", "page_views").
				From("page").
				Where(sq.Eq{"page_id": rec.ID}).
				ToSql()
			if err != nil {
				return err
			}
			if err := tx.QueryRowContext(ctx, query, args...).Scan(&parent, &rec.Views); err != nil {
				return notFound(err, "page %d", rec.ID)
			}
		}

		query, args, err := stbl.Insert("revision").
			Columns("rev_page", "rev_parent", "rev_text", "rev_comment", "rev_user", "rev_timestamp").
			Values(rec.ID, parent, text, comment, user, now.UnixMilli()).
			ToSql()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("insert revision: %w", err)
		}
		revID, err := res.LastInsertId()
		if err != nil {
			return err
		}

		query, args, err = stbl.Update("page").
			Set("page_latest", revID).
			Set("page_len", len(text)).
			Set("page_touched", now.UnixMilli()).
			Set("page_is_redirect", rec.IsRedirect).
			Set("page_content_model", rec.Model).
			Where(sq.Eq{"page_id": rec.ID}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update page: %w", err)
		}

		if rec.IsRedirect && rec.RedirectTarget != "" {
			query, args, err = stbl.Replace("redirect").
				Columns("rd_from", "rd_target").
				Values(rec.ID, rec.RedirectTarget).
				ToSql()
		} else {
			query, args, err = stbl.Delete("redirect").Where(sq.Eq{"rd_from": rec.ID}).ToSql()
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update redirect: %w", err)
		}

		rec.Latest = revID
		rec.Len = len(text)
		rec.Touched = now
		*pg = rec
		rev = &storage.Revision{
			ID:        revID,
			PageID:    rec.ID,
			ParentID:  parent,
			Text:      text,
			Comment:   comment,
			User:      user,
			Timestamp: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

func (p pages) update(ctx context.Context, id int64, b sq.UpdateBuilder) error {
	query, args, err := b.Where(sq.Eq{"page_id": id}).ToSql()
	if err != nil {
		return err
	}
	return p.s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		return checkAffected(res, "page", id)
	})
}

func (p pages) Touch(ctx context.Context, id int64, at time.Time) error {
	return p.update(ctx, id, p.s.store.stbl.Update("page").Set("page_touched", at.UnixMilli()))
}

func (p pages) IncrementViews(ctx context.Context, id int64) error {
	return p.update(ctx, id, p.s.store.stbl.Update("page").Set("page_views", sq.Expr("page_views + 1")))
}

func (p pages) Search(ctx context.Context, ns int, prefix string, limit int) ([]*storage.Page, error) {
	b := p.selectPages().
		Where(sq.Eq{"page_namespace": ns}).
		Where(sq.Expr("substr(page_title, 1, length(?)) = ?", prefix, prefix)).
		OrderBy("page_title")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return p.many(ctx, b)
}

func (p pages) List(ctx context.Context, ns int, from string, limit int) ([]*storage.Page, error) {
	b := p.selectPages().
		Where(sq.Eq{"page_namespace": ns}).
		Where(sq.GtOrEq{"page_title": from}).
		OrderBy("page_title")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return p.many(ctx, b)
}

func (p pages) SetLinks(ctx context.Context, pageID int64, targets []string) error {
	stbl := p.s.store.stbl
	return p.s.write(ctx, func(tx *sql.Tx) error {
		query, args, err := stbl.Delete("pagelinks").Where(sq.Eq{"pl_from": pageID}).ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("clear links: %w", err)
		}
		if len(targets) == 0 {
			return nil
		}
		ins := stbl.Insert("pagelinks").Options("OR IGNORE").Columns("pl_from", "pl_target")
		for _, t := range targets {
			ins = ins.Values(pageID, t)
		}
		query, args, err = ins.ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert links: %w", err)
		}
		return nil
	})
}

// Links returns the link targets of a page in key order.
func (p pages) Links(ctx context.Context, pageID int64) ([]string, error) {
	q, err := p.s.reader(mainShard)
	if err != nil {
		return nil, err
	}
	query, args, err := p.s.store.stbl.Select("pl_target").
		From("pagelinks").
		Where(sq.Eq{"pl_from": pageID}).
		OrderBy("pl_target").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type revisions struct{ s *session }

var revisionColumns = []string{"rev_id", "rev_page", "rev_parent", "rev_text", "rev_comment", "rev_user", "rev_timestamp"}

func scanRevision(row scanner) (*storage.Revision, error) {
	var (
		rev storage.Revision
		ts  int64
	)
	if err := row.Scan(&rev.ID, &rev.PageID, &rev.ParentID, &rev.Text, &rev.Comment, &rev.User, &ts); err != nil {
		return nil, err
	}
	rev.Timestamp = time.UnixMilli(ts)
	return &rev, nil
}

// ByID serves committed revisions from the cache; a revision never changes
// once committed.
func (r revisions) ByID(ctx context.Context, id int64) (*storage.Revision, error) {
	if cached, ok := r.s.store.revs.Get(id); ok {
		return &cached, nil
	}
	q, err := r.s.reader(mainShard)
	if err != nil {
		return nil, err
	}
	query, args, err := r.s.store.stbl.Select(revisionColumns...).
		From("revision").
		Where(sq.Eq{"rev_id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rev, err := scanRevision(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, notFound(err, "revision %d", id)
	}
	if r.s.tx == nil {
		r.s.store.revs.Add(id, *rev)
	}
	return rev, nil
}

func (r revisions) History(ctx context.Context, pageID int64, limit int) ([]*storage.Revision, error) {
	q, err := r.s.reader(mainShard)
	if err != nil {
		return nil, err
	}
	b := r.s.store.stbl.Select(revisionColumns...).
		From("revision").
		Where(sq.Eq{"rev_page": pageID}).
		OrderBy("rev_id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var out []*storage.Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

type files struct{ s *session }

func (f files) Find(ctx context.Context, name string) (*storage.File, error) {
	q, err := f.s.reader(mainShard)
	if err != nil {
		return nil, err
	}
	query, args, err := f.s.store.stbl.Select("file_name", "file_local", "file_size", "file_mime", "file_redirect").
		From("file").
		Where(sq.Eq{"file_name": name}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var file storage.File
	if err := q.QueryRowContext(ctx, query, args...).Scan(&file.Name, &file.Local, &file.Size, &file.MIME, &file.RedirectTarget); err != nil {
		return nil, notFound(err, "file %s", name)
	}
	return &file, nil
}

func (f files) Put(ctx context.Context, file *storage.File) error {
	query, args, err := f.s.store.stbl.Replace("file").
		Columns("file_name", "file_local", "file_size", "file_mime", "file_redirect").
		Values(file.Name, file.Local, file.Size, file.MIME, file.RedirectTarget).
		ToSql()
	if err != nil {
		return err
	}
	return f.s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
}
