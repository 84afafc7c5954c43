package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"

	"github.com/ytget/yt-queue/internal/model"
	"github.com/ytget/yt-queue/internal/platform"
)

var (
	bucketQueue   = []byte("queue")
	bucketHistory = []byte("history")
)

// Bolt keeps records as JSON values in an embedded bbolt file.
// bbolt allows one writer at a time, so Update units never interleave.
type Bolt struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// OpenBolt opens (or creates) the bbolt file at path.
func OpenBolt(path string, logger *slog.Logger) (*Bolt, error) {
	if err := platform.CreateDirectoryIfNotExists(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketQueue, bucketHistory} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Bolt store opened", slog.String("path", path))
	return &Bolt{db: db, logger: logger}, nil
}

func (b *Bolt) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var fnErr error
	err := b.db.Update(func(tx *bbolt.Tx) error {
		fnErr = fn(&boltTx{tx: tx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return wrap("commit", err)
}

func (b *Bolt) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var fnErr error
	err := b.db.View(func(tx *bbolt.Tx) error {
		fnErr = fn(&boltTx{tx: tx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return wrap("view", err)
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

// boltHistory carries the url key, which is hidden from JSON in the model.
type boltHistory struct {
	model.HistoryEntry
	URLKey string `json:"url_key"`
}

type boltTx struct {
	tx *bbolt.Tx
}

func (t *boltTx) bucket(name []byte) (*bbolt.Bucket, error) {
	b := t.tx.Bucket(name)
	if b == nil {
		return nil, &Error{Op: "bucket " + string(name), Err: bolterrors.ErrBucketNotFound}
	}
	return b, nil
}

func (t *boltTx) GetItem(id string) (*model.QueueItem, error) {
	b, err := t.bucket(bucketQueue)
	if err != nil {
		return nil, err
	}
	data := b.Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}
	var item model.QueueItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, wrap("decode item", err)
	}
	return &item, nil
}

func (t *boltTx) PutItem(item *model.QueueItem) error {
	b, err := t.bucket(bucketQueue)
	if err != nil {
		return err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return wrap("encode item", err)
	}
	return wrap("put item", b.Put([]byte(item.ID), data))
}

func (t *boltTx) DeleteItem(id string) error {
	b, err := t.bucket(bucketQueue)
	if err != nil {
		return err
	}
	if b.Get([]byte(id)) == nil {
		return ErrNotFound
	}
	return wrap("delete item", b.Delete([]byte(id)))
}

func (t *boltTx) ListItems(f ItemFilter) ([]*model.QueueItem, error) {
	b, err := t.bucket(bucketQueue)
	if err != nil {
		return nil, err
	}

	want := make(map[model.DownloadStatus]bool, len(f.Statuses))
	for _, s := range f.Statuses {
		want[s] = true
	}

	var items []*model.QueueItem
	err = b.ForEach(func(_, v []byte) error {
		var item model.QueueItem
		if err := json.Unmarshal(v, &item); err != nil {
			return err
		}
		if len(want) == 0 || want[item.Status] {
			items = append(items, &item)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list items", err)
	}

	sort.Slice(items, func(i, j int) bool {
		a, c := items[i], items[j]
		if a.Position != c.Position {
			return a.Position < c.Position
		}
		if !a.CreatedAt.Equal(c.CreatedAt) {
			return a.CreatedAt.Before(c.CreatedAt)
		}
		return a.ID < c.ID
	})

	if f.Limit > 0 && len(items) > f.Limit {
		items = items[:f.Limit]
	}
	return items, nil
}

func (t *boltTx) MaxPosition() (int, bool, error) {
	items, err := t.ListItems(ItemFilter{Statuses: model.ActiveStatuses})
	if err != nil {
		return 0, false, err
	}
	if len(items) == 0 {
		return 0, false, nil
	}
	return items[len(items)-1].Position, true, nil
}

func (t *boltTx) GetHistory(id string) (*model.HistoryEntry, error) {
	b, err := t.bucket(bucketHistory)
	if err != nil {
		return nil, err
	}
	data := b.Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}
	return decodeHistory(data)
}

func (t *boltTx) PutHistory(e *model.HistoryEntry) error {
	b, err := t.bucket(bucketHistory)
	if err != nil {
		return err
	}
	rec := boltHistory{HistoryEntry: *e, URLKey: e.URLKey}
	rec.FileExists = false
	data, err := json.Marshal(rec)
	if err != nil {
		return wrap("encode history", err)
	}
	return wrap("put history", b.Put([]byte(e.ID), data))
}

func (t *boltTx) DeleteHistory(id string) error {
	b, err := t.bucket(bucketHistory)
	if err != nil {
		return err
	}
	if b.Get([]byte(id)) == nil {
		return ErrNotFound
	}
	return wrap("delete history", b.Delete([]byte(id)))
}

func (t *boltTx) matchHistory(q model.HistoryQuery) ([]*model.HistoryEntry, error) {
	b, err := t.bucket(bucketHistory)
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(strings.TrimSpace(q.Search))
	var entries []*model.HistoryEntry
	err = b.ForEach(func(_, v []byte) error {
		e, err := decodeHistory(v)
		if err != nil {
			return err
		}
		if q.URLKey != "" && e.URLKey != q.URLKey {
			return nil
		}
		if q.Status != "" && e.Status != q.Status {
			return nil
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(e.Title), search) &&
			!strings.Contains(strings.ToLower(e.URL), search) &&
			!strings.Contains(strings.ToLower(e.Uploader), search) {
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, wrap("list history", err)
	}
	return entries, nil
}

func (t *boltTx) ListHistory(q model.HistoryQuery) ([]*model.HistoryEntry, error) {
	entries, err := t.matchHistory(q)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		a, c := entries[i], entries[j]
		if !a.DownloadedAt.Equal(c.DownloadedAt) {
			return a.DownloadedAt.After(c.DownloadedAt)
		}
		return a.ID > c.ID
	})

	if q.Offset > 0 {
		if q.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[q.Offset:]
	}
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	return entries, nil
}

func (t *boltTx) CountHistory(q model.HistoryQuery) (int, error) {
	entries, err := t.matchHistory(q)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (t *boltTx) ClearHistory() (int, error) {
	b, err := t.bucket(bucketHistory)
	if err != nil {
		return 0, err
	}
	n := 0
	if err := b.ForEach(func(_, _ []byte) error {
		n++
		return nil
	}); err != nil {
		return 0, wrap("clear history", err)
	}
	if err := t.tx.DeleteBucket(bucketHistory); err != nil {
		return 0, wrap("clear history", err)
	}
	if _, err := t.tx.CreateBucket(bucketHistory); err != nil {
		return 0, wrap("clear history", err)
	}
	return n, nil
}

// LockQueue is a no-op: bbolt already runs a single writer.
func (t *boltTx) LockQueue() error {
	return nil
}

func decodeHistory(data []byte) (*model.HistoryEntry, error) {
	var rec boltHistory
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, wrap("decode history", err)
	}
	e := rec.HistoryEntry
	e.URLKey = rec.URLKey
	e.FileExists = false
	return &e, nil
}
