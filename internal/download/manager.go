package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ytget/yt-queue/internal/engine"
	"github.com/ytget/yt-queue/internal/model"
	"github.com/ytget/yt-queue/internal/platform"
	"github.com/ytget/yt-queue/internal/store"
)

// History paging
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Config configures a Manager
type Config struct {
	DownloadDir   string
	Quality       engine.QualityPreset
	MaxConcurrent int
	PollInterval  time.Duration
	CacheSize     int
	CacheTTL      time.Duration
	Orchestrator  OrchestratorConfig
}

// AddOptions are the per-item settings of AddToQueue. Empty fields fall back
// to the manager defaults.
type AddOptions struct {
	FormatSelector string `json:"format_selector,omitempty"`
	OutputPath     string `json:"output_path,omitempty"`
	Title          string `json:"title,omitempty"`
}

// PlaylistResult is the outcome of AddPlaylist
type PlaylistResult struct {
	Playlist *model.Playlist    `json:"playlist"`
	Added    []*model.QueueItem `json:"added"`
	Skipped  int                `json:"skipped"`
}

// Manager is the queue facade used by the presentation layer
type Manager struct {
	store      store.Store
	engine     engine.Engine
	playlists  PlaylistExpander
	tracker    *ProgressTracker
	duplicates *DuplicateIndex
	scheduler  *Scheduler
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

var _ Downloader = (*Manager)(nil)

// NewManager wires the queue components together. Call Start to begin
// processing.
func NewManager(st store.Store, eng engine.Engine, playlists PlaylistExpander, cfg Config, logger *slog.Logger) *Manager {
	if !cfg.Quality.IsValid() {
		cfg.Quality = engine.QualityBest
	}

	tracker := NewProgressTracker()
	duplicates := NewDuplicateIndex(st, cfg.CacheSize, cfg.CacheTTL)
	orch := NewOrchestrator(eng, tracker, duplicates, cfg.Orchestrator, logger)

	return &Manager{
		store:      st,
		engine:     eng,
		playlists:  playlists,
		tracker:    tracker,
		duplicates: duplicates,
		scheduler:  NewScheduler(st, orch, cfg.MaxConcurrent, cfg.PollInterval, logger),
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "manager")),
		now:        time.Now,
	}
}

// Start recovers interrupted jobs and starts admitting queued items
func (m *Manager) Start(ctx context.Context) error {
	return m.scheduler.Start(ctx)
}

// Stop interrupts running downloads and waits for them to return
func (m *Manager) Stop() {
	m.scheduler.Stop()
}

// AddToQueue validates url and appends a Pending item at the end of the queue
func (m *Manager) AddToQueue(ctx context.Context, url string, opts AddOptions) (*model.QueueItem, error) {
	if err := platform.ValidateURL(url); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate id: %w", err)
	}

	now := m.now()
	item := &model.QueueItem{
		ID:             id.String(),
		URL:            url,
		Title:          opts.Title,
		FormatSelector: opts.FormatSelector,
		OutputPath:     opts.OutputPath,
		Status:         model.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if item.FormatSelector == "" {
		item.FormatSelector = m.cfg.Quality.FormatSelector()
	}
	if item.OutputPath == "" {
		item.OutputPath = m.cfg.DownloadDir
	}

	err = m.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.LockQueue(); err != nil {
			return err
		}
		last, ok, err := tx.MaxPosition()
		if err != nil {
			return err
		}
		item.Position = 0
		if ok {
			item.Position = last + 1
		}
		return tx.PutItem(item)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add %s to queue: %w", url, err)
	}

	m.logger.Info("item queued", slog.String("job_id", item.ID), slog.String("url", url), slog.Int("position", item.Position))
	m.scheduler.Notify()
	return item.Clone(), nil
}

// AddPlaylist expands a playlist and queues every entry not downloaded before
func (m *Manager) AddPlaylist(ctx context.Context, url string, opts AddOptions) (*PlaylistResult, error) {
	if err := platform.ValidateURL(url); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if m.playlists == nil {
		return nil, fmt.Errorf("%w: playlist expansion is not available", ErrQueue)
	}

	playlist, err := m.playlists.ParsePlaylist(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	result := &PlaylistResult{Playlist: playlist}
	for _, entry := range playlist.Entries {
		dup, err := m.CheckDuplicate(ctx, entry.URL)
		if err != nil {
			return result, err
		}
		if dup != nil {
			result.Skipped++
			continue
		}

		entryOpts := opts
		entryOpts.Title = entry.Title
		item, err := m.AddToQueue(ctx, entry.URL, entryOpts)
		if err != nil {
			return result, err
		}
		result.Added = append(result.Added, item)
	}

	m.logger.Info("playlist queued",
		slog.String("url", url),
		slog.Int("added", len(result.Added)),
		slog.Int("skipped", result.Skipped))
	return result, nil
}

// GetQueue returns active items in position order
func (m *Manager) GetQueue(ctx context.Context) ([]*model.QueueItem, error) {
	var items []*model.QueueItem
	err := m.store.View(ctx, func(tx store.Tx) error {
		var err error
		items, err = tx.ListItems(store.ItemFilter{Statuses: model.ActiveStatuses})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	return items, nil
}

// GetItem returns one stored item
func (m *Manager) GetItem(ctx context.Context, id string) (*model.QueueItem, error) {
	var item *model.QueueItem
	err := m.store.View(ctx, func(tx store.Tx) error {
		var err error
		item, err = tx.GetItem(id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// GetQueueState summarizes stored items by status
func (m *Manager) GetQueueState(ctx context.Context) (*model.QueueState, error) {
	state := &model.QueueState{
		Counts:        make(map[model.DownloadStatus]int, len(model.AllStatuses)),
		MaxConcurrent: m.scheduler.MaxConcurrent(),
	}
	err := m.store.View(ctx, func(tx store.Tx) error {
		items, err := tx.ListItems(store.ItemFilter{})
		if err != nil {
			return err
		}
		for _, item := range items {
			state.Counts[item.Status]++
			if item.IsActive() {
				state.Active++
			}
		}
		state.Total = len(items)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read queue state: %w", err)
	}
	return state, nil
}

// ClearFinished removes terminal items kept in the queue store
func (m *Manager) ClearFinished(ctx context.Context) (int, error) {
	var removed int
	err := m.store.Update(ctx, func(tx store.Tx) error {
		removed = 0
		items, err := tx.ListItems(store.ItemFilter{Statuses: []model.DownloadStatus{
			model.StatusCompleted, model.StatusFailed, model.StatusCancelled,
		}})
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := tx.DeleteItem(item.ID); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear finished items: %w", err)
	}
	return removed, nil
}

// PauseDownload pauses a Downloading item
func (m *Manager) PauseDownload(ctx context.Context, id string) (bool, error) {
	return m.scheduler.Pause(ctx, id)
}

// ResumeDownload returns a Paused item to Pending, keeping its position
func (m *Manager) ResumeDownload(ctx context.Context, id string) (bool, error) {
	var resumed bool
	err := m.store.Update(ctx, func(tx store.Tx) error {
		item, err := tx.GetItem(id)
		if errors.Is(err, store.ErrNotFound) {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		if item.Status != model.StatusPaused {
			return nil
		}
		if err := item.Transition(model.StatusPending, m.now()); err != nil {
			return err
		}
		resumed = true
		return tx.PutItem(item)
	})
	if err != nil || !resumed {
		return false, err
	}

	m.logger.Info("download resumed", slog.String("job_id", id))
	m.scheduler.Notify()
	return true, nil
}

// CancelDownload discards a non-terminal item without archiving it
func (m *Manager) CancelDownload(ctx context.Context, id string) (bool, error) {
	return m.scheduler.Cancel(ctx, id)
}

// ReorderQueue moves an active item to newPosition. Items from newPosition
// onward are shifted by one until a free position absorbs the cascade.
func (m *Manager) ReorderQueue(ctx context.Context, id string, newPosition int) error {
	if newPosition < 0 {
		return fmt.Errorf("%w: position must not be negative, got %d", ErrValidation, newPosition)
	}

	err := m.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.LockQueue(); err != nil {
			return err
		}

		target, err := tx.GetItem(id)
		if errors.Is(err, store.ErrNotFound) {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		if !target.IsActive() {
			return fmt.Errorf("%w: item %s is %s", ErrQueue, id, target.Status)
		}
		if target.Position == newPosition {
			return nil
		}

		items, err := tx.ListItems(store.ItemFilter{Statuses: model.ActiveStatuses})
		if err != nil {
			return err
		}
		occupied := make(map[int]*model.QueueItem, len(items))
		for _, item := range items {
			if item.ID != target.ID {
				occupied[item.Position] = item
			}
		}

		var chain []*model.QueueItem
		for p := newPosition; ; p++ {
			item, ok := occupied[p]
			if !ok {
				break
			}
			chain = append(chain, item)
		}

		// Park the target, shift the chain from its tail, then place the
		// target. No two active items share a position at any step.
		now := m.now()
		target.Position = -1
		target.Touch(now)
		if err := tx.PutItem(target); err != nil {
			return err
		}
		for i := len(chain) - 1; i >= 0; i-- {
			chain[i].Position++
			chain[i].Touch(now)
			if err := tx.PutItem(chain[i]); err != nil {
				return err
			}
		}
		target.Position = newPosition
		target.Touch(now)
		return tx.PutItem(target)
	})
	if err != nil {
		return fmt.Errorf("failed to reorder %s: %w", id, err)
	}

	m.logger.Info("item reordered", slog.String("job_id", id), slog.Int("position", newPosition))
	m.scheduler.Notify()
	return nil
}

// SetMaxConcurrent changes the number of download slots (1..5)
func (m *Manager) SetMaxConcurrent(n int) error {
	return m.scheduler.SetMaxConcurrent(n)
}

// MaxConcurrent returns the number of download slots
func (m *Manager) MaxConcurrent() int {
	return m.scheduler.MaxConcurrent()
}

// CheckDuplicate returns the latest completed download of url, or nil
func (m *Manager) CheckDuplicate(ctx context.Context, url string) (*model.HistoryEntry, error) {
	entry, err := m.duplicates.Lookup(ctx, url)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		entry.FileExists = platform.FileExists(entry.FilePath)
	}
	return entry, nil
}

// GetHistory lists archived downloads, newest first
func (m *Manager) GetHistory(ctx context.Context, q model.HistoryQuery) ([]*model.HistoryEntry, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultHistoryLimit
	}
	if q.Limit > MaxHistoryLimit {
		q.Limit = MaxHistoryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var entries []*model.HistoryEntry
	err := m.store.View(ctx, func(tx store.Tx) error {
		var err error
		entries, err = tx.ListHistory(q)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	for _, e := range entries {
		e.FileExists = platform.FileExists(e.FilePath)
	}
	return entries, nil
}

// GetHistoryCount counts archived downloads matching search
func (m *Manager) GetHistoryCount(ctx context.Context, search string) (int, error) {
	var n int
	err := m.store.View(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.CountHistory(model.HistoryQuery{Search: search})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

// RemoveFromHistory deletes one history entry. Files on disk are kept.
func (m *Manager) RemoveFromHistory(ctx context.Context, id string) (bool, error) {
	var urlKey string
	err := m.store.Update(ctx, func(tx store.Tx) error {
		entry, err := tx.GetHistory(id)
		if err != nil {
			return err
		}
		urlKey = entry.URLKey
		return tx.DeleteHistory(id)
	})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to remove history entry: %w", err)
	}

	m.duplicates.Forget(urlKey)
	return true, nil
}

// ClearHistory deletes every history entry and returns how many were removed
func (m *Manager) ClearHistory(ctx context.Context) (int, error) {
	var n int
	err := m.store.Update(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.ClearHistory()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}

	m.duplicates.Reset()
	m.logger.Info("history cleared", slog.Int("removed", n))
	return n, nil
}

// GetFormats lists the formats the engine offers for url
func (m *Manager) GetFormats(ctx context.Context, url string) ([]model.FormatDescriptor, error) {
	if err := platform.ValidateURL(url); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return m.engine.GetFormats(ctx, url)
}

// Progress returns the live progress of a running job
func (m *Manager) Progress(id string) (model.DownloadProgress, bool) {
	return m.tracker.Snapshot(id)
}

// SubscribeProgress streams progress snapshots of a job
func (m *Manager) SubscribeProgress(id string) (<-chan model.DownloadProgress, func()) {
	return m.tracker.Subscribe(id)
}
