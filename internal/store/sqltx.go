package store

import (
	"context"
	"time"

	"github.com/ytget/yt-queue/internal/model"
)

// dbtx abstracts the statement API of database/sql and pgx transactions so
// both SQL backends share one Tx implementation.
type dbtx interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	query(ctx context.Context, query string, args ...any) (rows, error)
	queryRow(ctx context.Context, query string, args ...any) row
}

type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

type row interface {
	Scan(dest ...any) error
}

// sqlTx implements Tx on top of a dbtx. Timestamps are stored as unix
// nanoseconds so ordering is exact in both backends.
type sqlTx struct {
	ctx       context.Context
	db        dbtx
	bind      func(string) string
	lockQuery string
}

func (t *sqlTx) q(query string) string {
	if t.bind == nil {
		return query
	}
	return t.bind(query)
}

func (t *sqlTx) GetItem(id string) (*model.QueueItem, error) {
	r := t.db.queryRow(t.ctx, t.q("SELECT "+itemColumns+" FROM queue_items WHERE id = ?"), id)
	item, err := scanItem(r)
	if err != nil {
		return nil, wrap("get item", err)
	}
	return item, nil
}

func (t *sqlTx) PutItem(item *model.QueueItem) error {
	const query = `INSERT INTO queue_items (` + itemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			format_selector = excluded.format_selector,
			output_path = excluded.output_path,
			status = excluded.status,
			progress = excluded.progress,
			position = excluded.position,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at`

	_, err := t.db.exec(t.ctx, t.q(query),
		item.ID, item.URL, item.Title, item.FormatSelector, item.OutputPath,
		string(item.Status), item.Progress, item.Position, item.ErrorMessage,
		item.CreatedAt.UnixNano(), item.UpdatedAt.UnixNano(),
	)
	return wrap("put item", err)
}

func (t *sqlTx) DeleteItem(id string) error {
	n, err := t.db.exec(t.ctx, t.q("DELETE FROM queue_items WHERE id = ?"), id)
	if err != nil {
		return wrap("delete item", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqlTx) ListItems(f ItemFilter) ([]*model.QueueItem, error) {
	where, args := buildItemWhere(f)
	query := "SELECT " + itemColumns + " FROM queue_items" + where +
		" ORDER BY position ASC, created_at ASC, id ASC"
	limit, limitArgs := buildLimit(f.Limit, 0)
	query += limit
	args = append(args, limitArgs...)

	rs, err := t.db.query(t.ctx, t.q(query), args...)
	if err != nil {
		return nil, wrap("list items", err)
	}
	defer rs.Close()

	var items []*model.QueueItem
	for rs.Next() {
		item, err := scanItem(rs)
		if err != nil {
			return nil, wrap("scan item", err)
		}
		items = append(items, item)
	}
	if err := rs.Err(); err != nil {
		return nil, wrap("list items", err)
	}
	return items, nil
}

func (t *sqlTx) MaxPosition() (int, bool, error) {
	var pos *int64
	query := "SELECT MAX(position) FROM queue_items WHERE status IN (" + activeStatusList + ")"
	if err := t.db.queryRow(t.ctx, query).Scan(&pos); err != nil {
		return 0, false, wrap("max position", err)
	}
	if pos == nil {
		return 0, false, nil
	}
	return int(*pos), true, nil
}

func (t *sqlTx) GetHistory(id string) (*model.HistoryEntry, error) {
	r := t.db.queryRow(t.ctx, t.q("SELECT "+historyColumns+" FROM history WHERE id = ?"), id)
	entry, err := scanHistory(r)
	if err != nil {
		return nil, wrap("get history", err)
	}
	return entry, nil
}

func (t *sqlTx) PutHistory(e *model.HistoryEntry) error {
	const query = `INSERT INTO history (` + historyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := t.db.exec(t.ctx, t.q(query),
		e.ID, e.URL, e.URLKey, e.Title, e.FilePath, e.FileSize, e.FormatSelector,
		e.Duration, e.Uploader, e.DownloadedAt.UnixNano(), string(e.Status), e.ErrorMessage,
	)
	return wrap("put history", err)
}

func (t *sqlTx) DeleteHistory(id string) error {
	n, err := t.db.exec(t.ctx, t.q("DELETE FROM history WHERE id = ?"), id)
	if err != nil {
		return wrap("delete history", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqlTx) ListHistory(hq model.HistoryQuery) ([]*model.HistoryEntry, error) {
	where, args := buildHistoryWhere(hq)
	query := "SELECT " + historyColumns + " FROM history" + where +
		" ORDER BY downloaded_at DESC, id DESC"
	limit, limitArgs := buildLimit(hq.Limit, hq.Offset)
	query += limit
	args = append(args, limitArgs...)

	rs, err := t.db.query(t.ctx, t.q(query), args...)
	if err != nil {
		return nil, wrap("list history", err)
	}
	defer rs.Close()

	var entries []*model.HistoryEntry
	for rs.Next() {
		e, err := scanHistory(rs)
		if err != nil {
			return nil, wrap("scan history", err)
		}
		entries = append(entries, e)
	}
	if err := rs.Err(); err != nil {
		return nil, wrap("list history", err)
	}
	return entries, nil
}

func (t *sqlTx) CountHistory(hq model.HistoryQuery) (int, error) {
	where, args := buildHistoryWhere(hq)
	var n int64
	if err := t.db.queryRow(t.ctx, t.q("SELECT COUNT(*) FROM history"+where), args...).Scan(&n); err != nil {
		return 0, wrap("count history", err)
	}
	return int(n), nil
}

func (t *sqlTx) ClearHistory() (int, error) {
	n, err := t.db.exec(t.ctx, "DELETE FROM history")
	if err != nil {
		return 0, wrap("clear history", err)
	}
	return int(n), nil
}

func (t *sqlTx) LockQueue() error {
	if t.lockQuery == "" {
		return nil
	}
	_, err := t.db.exec(t.ctx, t.lockQuery)
	return wrap("lock queue", err)
}

func scanItem(r row) (*model.QueueItem, error) {
	var (
		item             model.QueueItem
		status           string
		created, updated int64
	)
	err := r.Scan(&item.ID, &item.URL, &item.Title, &item.FormatSelector, &item.OutputPath,
		&status, &item.Progress, &item.Position, &item.ErrorMessage, &created, &updated)
	if err != nil {
		return nil, err
	}
	if item.Status, err = model.ParseStatus(status); err != nil {
		return nil, err
	}
	item.CreatedAt = time.Unix(0, created)
	item.UpdatedAt = time.Unix(0, updated)
	return &item, nil
}

func scanHistory(r row) (*model.HistoryEntry, error) {
	var (
		e          model.HistoryEntry
		status     string
		downloaded int64
	)
	err := r.Scan(&e.ID, &e.URL, &e.URLKey, &e.Title, &e.FilePath, &e.FileSize, &e.FormatSelector,
		&e.Duration, &e.Uploader, &downloaded, &status, &e.ErrorMessage)
	if err != nil {
		return nil, err
	}
	if e.Status, err = model.ParseStatus(status); err != nil {
		return nil, err
	}
	e.DownloadedAt = time.Unix(0, downloaded)
	return &e, nil
}
