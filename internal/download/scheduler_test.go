package download

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ytget/yt-queue/internal/model"
	"github.com/ytget/yt-queue/internal/store"
)

// holdingExecutor keeps every run in flight until released or cancelled
type holdingExecutor struct {
	mu      sync.Mutex
	runs    []string
	commits map[string][]commitFunc
	hold    chan struct{}
}

func newHoldingExecutor() *holdingExecutor {
	return &holdingExecutor{
		commits: make(map[string][]commitFunc),
		hold:    make(chan struct{}),
	}
}

func (e *holdingExecutor) Execute(ctx context.Context, item *model.QueueItem, commit commitFunc) {
	e.mu.Lock()
	e.runs = append(e.runs, item.ID)
	e.commits[item.ID] = append(e.commits[item.ID], commit)
	e.mu.Unlock()

	select {
	case <-e.hold:
	case <-ctx.Done():
	}
}

func (e *holdingExecutor) started() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.runs...)
}

func (e *holdingExecutor) commit(id string, n int) commitFunc {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commits[id][n]
}

func putItems(t *testing.T, st store.Store, items ...*model.QueueItem) {
	t.Helper()
	err := st.Update(context.Background(), func(tx store.Tx) error {
		for _, item := range items {
			if err := tx.PutItem(item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("PutItem() error = %v", err)
	}
}

func pendingItem(id string, position int, created time.Time) *model.QueueItem {
	return &model.QueueItem{
		ID:         id,
		URL:        videoURL(id),
		OutputPath: "/tmp",
		Status:     model.StatusPending,
		Position:   position,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestScheduler_DuplicatePositions(t *testing.T) {
	// bbolt does not enforce unique positions, so a corrupted queue can be
	// simulated there.
	st, err := store.OpenBolt(filepath.Join(t.TempDir(), "queue.bolt"), testLogger())
	if err != nil {
		t.Fatalf("OpenBolt() error = %v", err)
	}
	defer st.Close()

	now := time.Now()
	putItems(t, st,
		pendingItem("later", 0, now.Add(time.Second)),
		pendingItem("earlier", 0, now),
	)

	exec := newHoldingExecutor()
	s := NewScheduler(st, exec, 1, 20*time.Millisecond, testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	waitFor(t, "admission", func() bool { return len(exec.started()) == 1 })
	if got := exec.started()[0]; got != "earlier" {
		t.Errorf("admitted %s, expected earlier", got)
	}
}

func TestScheduler_CommitOwnership(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, t.TempDir())
	defer st.Close()

	putItems(t, st, pendingItem("job", 0, time.Now()))

	exec := newHoldingExecutor()
	s := NewScheduler(st, exec, 1, 20*time.Millisecond, testLogger())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	waitFor(t, "admission", func() bool { return len(exec.started()) == 1 })
	if got := s.Running(); got != 1 {
		t.Errorf("Running() = %d, expected 1", got)
	}

	ok, err := s.Pause(ctx, "job")
	if !ok || err != nil {
		t.Fatalf("Pause() = %v, %v", ok, err)
	}
	if got := s.Running(); got != 0 {
		t.Errorf("Running() after pause = %d, expected 0", got)
	}

	called := false
	owned, err := exec.commit("job", 0)(ctx, func(tx store.Tx) error {
		called = true
		return nil
	})
	if owned || err != nil || called {
		t.Errorf("stale commit = %v, %v, called %v; expected rejected", owned, err, called)
	}

	err = st.Update(ctx, func(tx store.Tx) error {
		item, err := tx.GetItem("job")
		if err != nil {
			return err
		}
		if err := item.Transition(model.StatusPending, time.Now()); err != nil {
			return err
		}
		return tx.PutItem(item)
	})
	if err != nil {
		t.Fatalf("resume error = %v", err)
	}
	s.Notify()

	waitFor(t, "readmission", func() bool { return len(exec.started()) == 2 })

	owned, err = exec.commit("job", 1)(ctx, func(tx store.Tx) error { return nil })
	if !owned || err != nil {
		t.Errorf("current commit = %v, %v; expected owned", owned, err)
	}
	if owned, _ := exec.commit("job", 0)(ctx, func(tx store.Tx) error { return nil }); owned {
		t.Error("stale commit accepted after readmission")
	}
}

func TestScheduler_LoweringCapacity(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, t.TempDir())
	defer st.Close()

	now := time.Now()
	putItems(t, st,
		pendingItem("a", 0, now),
		pendingItem("b", 1, now),
		pendingItem("c", 2, now),
	)

	exec := newHoldingExecutor()
	s := NewScheduler(st, exec, 2, 20*time.Millisecond, testLogger())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	waitFor(t, "two admissions", func() bool { return len(exec.started()) == 2 })

	if err := s.SetMaxConcurrent(1); err != nil {
		t.Fatalf("SetMaxConcurrent() error = %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if got := s.Running(); got != 2 {
		t.Errorf("Running() = %d, expected running jobs kept", got)
	}

	if ok, err := s.Cancel(ctx, "a"); !ok || err != nil {
		t.Fatalf("Cancel() = %v, %v", ok, err)
	}
	time.Sleep(60 * time.Millisecond)
	if got := len(exec.started()); got != 2 {
		t.Errorf("started = %d, expected no admission above the lowered limit", got)
	}

	if ok, err := s.Cancel(ctx, "b"); !ok || err != nil {
		t.Fatalf("Cancel() = %v, %v", ok, err)
	}
	waitFor(t, "admission of c", func() bool { return len(exec.started()) == 3 })
}
