package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ytget/yt-queue/internal/model"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Error wraps a persistence failure. A failed Update never leaves partial
// changes behind.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrap turns a driver error into *Error and leaves sentinel and already
// wrapped errors untouched.
func wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// ItemFilter narrows ListItems. An empty Statuses slice lists everything.
type ItemFilter struct {
	Statuses []model.DownloadStatus
	Limit    int
}

// Store is the durable owner of queue and history records.
type Store interface {
	// Update runs fn in a read-write transaction. Any error returned by fn
	// rolls the whole unit back and is returned unchanged.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the set of record operations available inside a transaction.
type Tx interface {
	GetItem(id string) (*model.QueueItem, error)
	PutItem(item *model.QueueItem) error
	DeleteItem(id string) error
	ListItems(f ItemFilter) ([]*model.QueueItem, error)
	// MaxPosition returns the highest position among active items.
	MaxPosition() (pos int, ok bool, err error)

	GetHistory(id string) (*model.HistoryEntry, error)
	PutHistory(entry *model.HistoryEntry) error
	DeleteHistory(id string) error
	ListHistory(q model.HistoryQuery) ([]*model.HistoryEntry, error)
	CountHistory(q model.HistoryQuery) (int, error)
	ClearHistory() (int, error)

	// LockQueue serializes position-changing transactions across processes.
	LockQueue() error
}

// Options selects and configures a backend.
type Options struct {
	Driver string
	Path   string // directory for sqlite and bolt files
	DSN    string // postgres connection string
}

// Open creates the backend selected by opts.Driver.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	var (
		st  Store
		err error
	)
	switch opts.Driver {
	case DriverSQLite, "":
		st, err = OpenSQLite(ctx, filepath.Join(opts.Path, "queue.db"), logger)
	case DriverBolt:
		st, err = OpenBolt(filepath.Join(opts.Path, "queue.bolt"), logger)
	case DriverPostgres:
		st, err = OpenPostgres(ctx, opts.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}
