package download

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ytget/yt-queue/internal/engine"
	"github.com/ytget/yt-queue/internal/model"
	"github.com/ytget/yt-queue/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func videoURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// fakeEngine writes small files instead of running yt-dlp
type fakeEngine struct {
	mu        sync.Mutex
	calls     []string
	active    int
	maxActive int
	gates     map[string]chan struct{}
	failures  map[string]error
	failOnce  map[string]error
	empty     map[string]bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		gates:    make(map[string]chan struct{}),
		failures: make(map[string]error),
		failOnce: make(map[string]error),
		empty:    make(map[string]bool),
	}
}

// block makes downloads of u wait until the returned func is called
func (f *fakeEngine) block(u string) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[u] = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeEngine) fail(u string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[u] = err
}

func (f *fakeEngine) started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func fakeFileName(dir, u string) string {
	id := u
	if parsed, err := url.Parse(u); err == nil && parsed.Query().Get("v") != "" {
		id = parsed.Query().Get("v")
	}
	return filepath.Join(dir, id+".mp4")
}

func (f *fakeEngine) ExtractInfo(_ context.Context, u string) (*model.MediaInfo, error) {
	return &model.MediaInfo{Title: "Video " + u, Uploader: "fake uploader", Duration: 42}, nil
}

func (f *fakeEngine) GetFormats(_ context.Context, _ string) ([]model.FormatDescriptor, error) {
	return []model.FormatDescriptor{{FormatID: "18", Ext: "mp4", Resolution: "640x360"}}, nil
}

func (f *fakeEngine) Download(ctx context.Context, u string, opts engine.Options, onProgress engine.ProgressFunc) (string, error) {
	name := fakeFileName(opts.OutputDir, u)
	if err := os.WriteFile(name+".part", []byte("partial"), 0o644); err != nil {
		return "", err
	}
	onProgress(model.ProgressEvent{DownloadedBytes: 50, TotalBytes: 100, Filename: name})

	f.mu.Lock()
	f.calls = append(f.calls, u)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	gate := f.gates[u]
	failure := f.failures[u]
	if err, ok := f.failOnce[u]; ok {
		failure = err
		delete(f.failOnce, u)
	}
	empty := f.empty[u]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if failure != nil {
		return "", engine.NewDownloadError(u, failure)
	}

	content := []byte("video-bytes")
	if empty {
		content = nil
	}
	if err := os.WriteFile(name, content, 0o644); err != nil {
		return "", err
	}
	_ = os.Remove(name + ".part")
	onProgress(model.ProgressEvent{DownloadedBytes: 100, TotalBytes: 100, Filename: name})
	return name, nil
}

var errInjected = errors.New("injected failure")

// faultyStore fails PutItem once its budget of successful puts is used up,
// and fails the next historyFailures PutHistory calls
type faultyStore struct {
	store.Store
	mu              sync.Mutex
	putsLeft        int
	historyFailures int
}

func newFaultyStore(s store.Store) *faultyStore {
	return &faultyStore{Store: s, putsLeft: -1}
}

// failPutsAfter lets n more puts succeed; -1 disables the fault
func (f *faultyStore) failPutsAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putsLeft = n
}

// failHistoryPuts makes the next n PutHistory calls fail
func (f *faultyStore) failHistoryPuts(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyFailures = n
}

func (f *faultyStore) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.Store.Update(ctx, func(tx store.Tx) error {
		return fn(&faultyTx{Tx: tx, parent: f})
	})
}

type faultyTx struct {
	store.Tx
	parent *faultyStore
}

func (t *faultyTx) PutItem(item *model.QueueItem) error {
	t.parent.mu.Lock()
	left := t.parent.putsLeft
	if left > 0 {
		t.parent.putsLeft--
	}
	t.parent.mu.Unlock()

	if left == 0 {
		return &store.Error{Op: "put item", Err: errInjected}
	}
	return t.Tx.PutItem(item)
}

func (t *faultyTx) PutHistory(entry *model.HistoryEntry) error {
	t.parent.mu.Lock()
	fail := t.parent.historyFailures > 0
	if fail {
		t.parent.historyFailures--
	}
	t.parent.mu.Unlock()

	if fail {
		return &store.Error{Op: "put history", Err: errInjected}
	}
	return t.Tx.PutHistory(entry)
}

type fakePlaylists struct {
	playlist *model.Playlist
	err      error
}

func (f *fakePlaylists) ParsePlaylist(_ context.Context, _ string) (*model.Playlist, error) {
	return f.playlist, f.err
}

type testEnv struct {
	manager *Manager
	store   store.Store
	faulty  *faultyStore
	engine  *fakeEngine
	dir     string
}

func testConfig(dir string) Config {
	return Config{
		DownloadDir:   filepath.Join(dir, "downloads"),
		Quality:       engine.QualityBest,
		MaxConcurrent: 1,
		PollInterval:  20 * time.Millisecond,
		Orchestrator: OrchestratorConfig{
			PrefetchInfo:     true,
			Retries:          0,
			RetryBackoff:     time.Millisecond,
			ProgressMinDelta: DefaultProgressMinDelta,
			ProgressInterval: DefaultProgressInterval,
			CleanupPartials:  true,
			RecordFailures:   true,
			ArchiveBackoff:   10 * time.Millisecond,
		},
	}
}

func openTestStore(t *testing.T, dir string) store.Store {
	t.Helper()
	st, err := store.OpenSQLite(context.Background(), filepath.Join(dir, "queue.db"), testLogger())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	return st
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	st := openTestStore(t, dir)
	faulty := newFaultyStore(st)
	eng := newFakeEngine()

	cfg := testConfig(dir)
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewManager(faulty, eng, nil, cfg, testLogger())
	t.Cleanup(func() {
		m.Stop()
		_ = st.Close()
	})
	return &testEnv{manager: m, store: st, faulty: faulty, engine: eng, dir: dir}
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	if err := e.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func (e *testEnv) add(t *testing.T, u string) *model.QueueItem {
	t.Helper()
	item, err := e.manager.AddToQueue(context.Background(), u, AddOptions{})
	if err != nil {
		t.Fatalf("AddToQueue(%s) error = %v", u, err)
	}
	return item
}

func (e *testEnv) historyCount(t *testing.T) int {
	t.Helper()
	n, err := e.manager.GetHistoryCount(context.Background(), "")
	if err != nil {
		t.Fatalf("GetHistoryCount() error = %v", err)
	}
	return n
}

func (e *testEnv) item(t *testing.T, id string) *model.QueueItem {
	t.Helper()
	item, err := e.manager.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("GetItem(%s) error = %v", id, err)
	}
	return item
}

func (e *testEnv) countStatus(t *testing.T, status model.DownloadStatus) int {
	t.Helper()
	var n int
	err := e.store.View(context.Background(), func(tx store.Tx) error {
		items, err := tx.ListItems(store.ItemFilter{Statuses: []model.DownloadStatus{status}})
		n = len(items)
		return err
	})
	if err != nil {
		t.Fatalf("ListItems(%s) error = %v", status, err)
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
