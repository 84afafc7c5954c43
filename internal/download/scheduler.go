package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ytget/yt-queue/internal/model"
	"github.com/ytget/yt-queue/internal/store"
)

// Concurrency limits
const (
	MinConcurrent       = 1
	MaxConcurrentLimit  = 5
	DefaultConcurrent   = 3
	DefaultPollInterval = 5 * time.Second
)

// executor runs one admitted job
type executor interface {
	Execute(ctx context.Context, item *model.QueueItem, commit commitFunc)
}

// run is one admission of a job. A job id may be admitted again after a
// pause, so ownership is checked by pointer.
type run struct {
	id     string
	cancel context.CancelCauseFunc
}

// Scheduler admits Pending items into a bounded set of slots. Admission,
// pause, cancel, capacity changes and terminal writes share one mutex.
type Scheduler struct {
	store  store.Store
	exec   executor
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	running       map[string]*run
	maxConcurrent int

	pollInterval time.Duration
	wake         chan struct{}
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewScheduler creates a scheduler. It admits nothing until Start.
func NewScheduler(st store.Store, exec executor, maxConcurrent int, pollInterval time.Duration, logger *slog.Logger) *Scheduler {
	if maxConcurrent < MinConcurrent || maxConcurrent > MaxConcurrentLimit {
		maxConcurrent = DefaultConcurrent
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Scheduler{
		store:         st,
		exec:          exec,
		logger:        logger.With(slog.String("component", "scheduler")),
		now:           time.Now,
		running:       make(map[string]*run),
		maxConcurrent: maxConcurrent,
		pollInterval:  pollInterval,
		wake:          make(chan struct{}, 1),
	}
}

// Start recovers jobs interrupted by a previous process and begins admitting
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.recoverInterrupted(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to recover queue: %w", err)
	}

	s.wg.Add(1)
	go s.loop(ctx)
	s.Notify()
	return nil
}

// Stop cancels in-flight runs and waits for them. Interrupted jobs keep the
// Downloading status and are recovered by the next Start.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Notify asks the scheduler to look for admissible items
func (s *Scheduler) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// MaxConcurrent returns the current slot count
func (s *Scheduler) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConcurrent
}

// Running returns the number of occupied slots
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// SetMaxConcurrent changes the slot count. Lowering it never preempts.
func (s *Scheduler) SetMaxConcurrent(n int) error {
	if n < MinConcurrent || n > MaxConcurrentLimit {
		return fmt.Errorf("%w: max concurrent must be between %d and %d, got %d",
			ErrValidation, MinConcurrent, MaxConcurrentLimit, n)
	}

	s.mu.Lock()
	s.maxConcurrent = n
	s.mu.Unlock()

	s.logger.Info("max concurrent downloads changed", slog.Int("max_concurrent", n))
	s.Notify()
	return nil
}

// Pause moves a Downloading item to Paused and stops its run. An illegal
// transition reports false without error.
func (s *Scheduler) Pause(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var paused bool
	err := s.store.Update(ctx, func(tx store.Tx) error {
		item, err := tx.GetItem(id)
		if errors.Is(err, store.ErrNotFound) {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		if !item.Status.CanTransitionTo(model.StatusPaused) {
			return nil
		}
		if err := item.Transition(model.StatusPaused, s.now()); err != nil {
			return err
		}
		paused = true
		return tx.PutItem(item)
	})
	if err != nil || !paused {
		return false, err
	}

	s.release(id, ErrPaused)
	s.logger.Info("download paused", slog.String("job_id", id))
	return true, nil
}

// Cancel discards a non-terminal item and stops its run. Unknown and
// finished items are rejected with ErrQueue.
func (s *Scheduler) Cancel(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.Update(ctx, func(tx store.Tx) error {
		item, err := tx.GetItem(id)
		if errors.Is(err, store.ErrNotFound) {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		if err := item.Transition(model.StatusCancelled, s.now()); err != nil {
			return fmt.Errorf("%w: %w", ErrQueue, err)
		}
		if err := tx.PutItem(item); err != nil {
			return err
		}
		return tx.DeleteItem(id)
	})
	if err != nil {
		return false, err
	}

	s.release(id, ErrCancelled)
	s.logger.Info("download cancelled", slog.String("job_id", id))
	return true, nil
}

// release frees the slot of id and cancels its run. Must be called with the
// mutex held.
func (s *Scheduler) release(id string, cause error) {
	r, ok := s.running[id]
	if !ok {
		return
	}
	delete(s.running, id)
	downloadsActive.Set(float64(len(s.running)))
	r.cancel(cause)
	s.Notify()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			s.fill(ctx)
		case <-ticker.C:
			s.fill(ctx)
		}
	}
}

// fill admits Pending items in queue order until every slot is taken
func (s *Scheduler) fill(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.running) < s.maxConcurrent {
		if ctx.Err() != nil {
			return
		}

		item, err := s.admitNext(ctx)
		if err != nil {
			s.logger.Error("failed to admit next item", slog.String("error", err.Error()))
			return
		}
		if item == nil {
			return
		}
		s.launch(ctx, item)
	}
}

// admitNext moves the first Pending item to Downloading
func (s *Scheduler) admitNext(ctx context.Context) (*model.QueueItem, error) {
	var admitted *model.QueueItem
	err := s.store.Update(ctx, func(tx store.Tx) error {
		admitted = nil

		items, err := tx.ListItems(store.ItemFilter{Statuses: model.ActiveStatuses})
		if err != nil {
			return err
		}
		s.checkPositions(items)

		for _, item := range items {
			if item.Status != model.StatusPending {
				continue
			}
			if _, busy := s.running[item.ID]; busy {
				continue
			}
			if err := item.Transition(model.StatusDownloading, s.now()); err != nil {
				return err
			}
			if err := tx.PutItem(item); err != nil {
				return err
			}
			admitted = item
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return admitted, nil
}

// checkPositions reports active items sharing a position
func (s *Scheduler) checkPositions(items []*model.QueueItem) {
	seen := make(map[int]string, len(items))
	for _, item := range items {
		if other, dup := seen[item.Position]; dup {
			err := fmt.Errorf("%w: items %s and %s share position %d", ErrConsistency, other, item.ID, item.Position)
			s.logger.Error("duplicate queue position", slog.String("error", err.Error()), slog.Int("position", item.Position))
			consistencyFaults.Inc()
			continue
		}
		seen[item.Position] = item.ID
	}
}

// launch starts a run for an item already marked Downloading. Must be called
// with the mutex held.
func (s *Scheduler) launch(ctx context.Context, item *model.QueueItem) {
	runCtx, cancel := context.WithCancelCause(ctx)
	r := &run{id: item.ID, cancel: cancel}
	s.running[item.ID] = r
	downloadsActive.Set(float64(len(s.running)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel(nil)

		s.exec.Execute(runCtx, item, s.commitFor(r))

		s.mu.Lock()
		if s.running[r.id] == r {
			delete(s.running, r.id)
			downloadsActive.Set(float64(len(s.running)))
		}
		s.mu.Unlock()
		s.Notify()
	}()
}

// commitFor returns the store access of run r. Writes happen under the
// scheduler mutex and only while r still owns its job.
func (s *Scheduler) commitFor(r *run) commitFunc {
	return func(ctx context.Context, fn func(tx store.Tx) error) (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.running[r.id] != r {
			return false, nil
		}
		return true, s.store.Update(ctx, fn)
	}
}

// recoverInterrupted relaunches jobs a previous process left Downloading, up
// to capacity, and returns the rest to Pending.
func (s *Scheduler) recoverInterrupted(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var relaunch []*model.QueueItem
	err := s.store.Update(ctx, func(tx store.Tx) error {
		relaunch = relaunch[:0]

		items, err := tx.ListItems(store.ItemFilter{Statuses: []model.DownloadStatus{model.StatusDownloading}})
		if err != nil {
			return err
		}
		for _, item := range items {
			if len(relaunch) < s.maxConcurrent {
				relaunch = append(relaunch, item)
				continue
			}
			if err := item.Transition(model.StatusPending, s.now()); err != nil {
				return err
			}
			if err := tx.PutItem(item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, item := range relaunch {
		s.logger.Info("resuming interrupted download", slog.String("job_id", item.ID), slog.Int("position", item.Position))
		s.launch(ctx, item)
	}
	return nil
}
