package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ytget/yt-queue/internal/engine"
	"github.com/ytget/yt-queue/internal/model"
	"github.com/ytget/yt-queue/internal/platform"
	"github.com/ytget/yt-queue/internal/store"
)

// Orchestrator defaults
const (
	DefaultRetries          = 1
	DefaultRetryBackoff     = 2 * time.Second
	DefaultProgressMinDelta = 0.01
	DefaultProgressInterval = time.Second
	DefaultArchiveBackoff   = 500 * time.Millisecond

	maxArchiveBackoff = 30 * time.Second
)

// commitFunc runs fn in a store transaction on behalf of a job run. It
// reports false without running fn once the run no longer owns the job.
type commitFunc func(ctx context.Context, fn func(tx store.Tx) error) (bool, error)

// OrchestratorConfig tunes a single job run
type OrchestratorConfig struct {
	FilenameTemplate string
	PrefetchInfo     bool
	Retries          int
	RetryBackoff     time.Duration
	ProgressMinDelta float64
	ProgressInterval time.Duration
	CleanupPartials  bool
	RecordFailures   bool
	ArchiveBackoff   time.Duration
}

// Orchestrator drives one admitted job from Downloading to a terminal state
type Orchestrator struct {
	engine     engine.Engine
	tracker    *ProgressTracker
	duplicates *DuplicateIndex
	cfg        OrchestratorConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(eng engine.Engine, tracker *ProgressTracker, duplicates *DuplicateIndex, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.ProgressMinDelta <= 0 {
		cfg.ProgressMinDelta = DefaultProgressMinDelta
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if cfg.ArchiveBackoff <= 0 {
		cfg.ArchiveBackoff = DefaultArchiveBackoff
	}
	return &Orchestrator{
		engine:     eng,
		tracker:    tracker,
		duplicates: duplicates,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "orchestrator")),
		now:        time.Now,
	}
}

// Execute runs the job. It returns once the job reached a terminal state or
// the run was interrupted.
func (o *Orchestrator) Execute(ctx context.Context, item *model.QueueItem, commit commitFunc) {
	logger := o.logger.With(slog.String("job_id", item.ID), slog.String("url", item.URL))
	reporter := o.tracker.Begin(item.ID)
	started := o.now()
	logger.Info("download started", slog.Int("position", item.Position))

	var info *model.MediaInfo
	if o.cfg.PrefetchInfo {
		meta, err := o.engine.ExtractInfo(ctx, item.URL)
		if ctx.Err() != nil {
			o.interrupted(ctx, logger, reporter, "")
			return
		}
		if err != nil {
			o.fail(ctx, logger, reporter, item, info, err, commit, started)
			return
		}
		info = meta
		if item.Title == "" && meta.Title != "" {
			item.Title = meta.Title
			o.setTitle(ctx, logger, item.ID, meta.Title, commit)
		}
	}

	if err := platform.CreateDirectoryIfNotExists(item.OutputPath); err != nil {
		o.fail(ctx, logger, reporter, item, info, engine.NewDownloadError(item.URL, err), commit, started)
		return
	}

	path, lastFile, err := o.download(ctx, logger, item, reporter, commit)
	if ctx.Err() != nil {
		o.interrupted(ctx, logger, reporter, lastFile)
		return
	}
	if err != nil {
		o.fail(ctx, logger, reporter, item, info, err, commit, started)
		return
	}

	path, size, err := verifyOutput(path)
	if err != nil {
		derr := &engine.DownloadError{URL: item.URL, Message: engine.EmptyFileMessage, Err: err}
		o.fail(ctx, logger, reporter, item, info, derr, commit, started)
		return
	}

	o.complete(ctx, logger, reporter, item, info, path, size, commit, started)
}

// download runs the engine while a single goroutine drains its events
func (o *Orchestrator) download(ctx context.Context, logger *slog.Logger, item *model.QueueItem, reporter *ProgressReporter, commit commitFunc) (string, string, error) {
	events := make(chan model.ProgressEvent, 1)
	done := make(chan struct{})
	drained := make(chan string)
	throttle := newProgressThrottle(o.cfg.ProgressMinDelta, o.cfg.ProgressInterval, item.Progress)

	go func() {
		var lastFile string
		handle := func(ev model.ProgressEvent) {
			reporter.Report(ev)
			if ev.Filename != "" {
				lastFile = ev.Filename
			}
			if ev.TotalBytes <= 0 {
				return
			}
			f := float64(ev.DownloadedBytes) / float64(ev.TotalBytes)
			if f > 1 {
				f = 1
			}
			if throttle.shouldWrite(f) {
				o.persistProgress(ctx, logger, item.ID, f, commit)
			}
		}

		for {
			select {
			case ev := <-events:
				handle(ev)
			case <-done:
				select {
				case ev := <-events:
					handle(ev)
				default:
				}
				drained <- lastFile
				return
			}
		}
	}()

	// Only the latest undelivered event is kept.
	onProgress := func(ev model.ProgressEvent) {
		select {
		case events <- ev:
		default:
			select {
			case <-events:
			default:
			}
			select {
			case events <- ev:
			default:
			}
		}
	}

	path, err := o.downloadWithRetry(ctx, logger, item, onProgress)
	close(done)
	lastFile := <-drained
	return path, lastFile, err
}

// downloadWithRetry attempts download with retry logic
func (o *Orchestrator) downloadWithRetry(ctx context.Context, logger *slog.Logger, item *model.QueueItem, onProgress engine.ProgressFunc) (string, error) {
	opts := engine.Options{
		FormatSelector:   item.FormatSelector,
		OutputDir:        item.OutputPath,
		FilenameTemplate: o.cfg.FilenameTemplate,
	}

	var lastErr error
	for attempt := 0; attempt <= o.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(o.cfg.RetryBackoff):
			case <-ctx.Done():
				return "", context.Cause(ctx)
			}
			logger.Info("retrying download", slog.Int("attempt", attempt+1))
		}

		path, err := o.engine.Download(ctx, item.URL, opts, onProgress)
		if err == nil {
			return path, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", context.Cause(ctx)
		}
		logger.Warn("download attempt failed", slog.Int("attempt", attempt+1), slog.String("error", err.Error()))
	}

	return "", lastErr
}

func (o *Orchestrator) persistProgress(ctx context.Context, logger *slog.Logger, id string, f float64, commit commitFunc) {
	var wrote bool
	_, err := commit(ctx, func(tx store.Tx) error {
		cur, err := tx.GetItem(id)
		if err != nil {
			return err
		}
		if cur.Status != model.StatusDownloading || f <= cur.Progress {
			return nil
		}
		cur.Progress = f
		cur.Touch(o.now())
		wrote = true
		return tx.PutItem(cur)
	})
	switch {
	case err != nil && ctx.Err() == nil && !errors.Is(err, store.ErrNotFound):
		logger.Warn("failed to persist progress", slog.String("error", err.Error()))
	case err == nil && wrote:
		progressWrites.Inc()
	}
}

func (o *Orchestrator) setTitle(ctx context.Context, logger *slog.Logger, id, title string, commit commitFunc) {
	_, err := commit(ctx, func(tx store.Tx) error {
		cur, err := tx.GetItem(id)
		if err != nil {
			return err
		}
		if cur.Status != model.StatusDownloading || cur.Title != "" {
			return nil
		}
		cur.Title = title
		cur.Touch(o.now())
		return tx.PutItem(cur)
	})
	if err != nil && ctx.Err() == nil {
		logger.Warn("failed to store title", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) complete(ctx context.Context, logger *slog.Logger, reporter *ProgressReporter, item *model.QueueItem, info *model.MediaInfo, path string, size int64, commit commitFunc, started time.Time) {
	now := o.now()
	entry := newHistoryEntry(item, info, now)
	entry.FilePath = path
	entry.FileSize = size
	entry.Status = model.StatusCompleted

	owned, err := o.commitTerminal(ctx, logger, commit, func(tx store.Tx) error {
		cur, err := tx.GetItem(item.ID)
		if err != nil {
			return err
		}
		if err := cur.Transition(model.StatusCompleted, now); err != nil {
			return err
		}
		if cur.Title != "" {
			entry.Title = cur.Title
		}
		if err := tx.PutHistory(entry); err != nil {
			return err
		}
		return tx.DeleteItem(cur.ID)
	})
	if !owned {
		o.interrupted(ctx, logger, reporter, "")
		return
	}
	if err != nil {
		logger.Error("failed to archive completed download", slog.String("error", err.Error()))
		reporter.Finish(model.StatusDownloading)
		downloadsTotal.WithLabelValues(outcomeAbandoned).Inc()
		return
	}

	o.duplicates.Remember(entry)
	reporter.Finish(model.StatusCompleted)
	downloadsTotal.WithLabelValues(outcomeCompleted).Inc()
	downloadDuration.Observe(o.now().Sub(started).Seconds())
	logger.Info("download completed", slog.String("file", path), slog.Int64("size", size))
}

func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, reporter *ProgressReporter, item *model.QueueItem, info *model.MediaInfo, cause error, commit commitFunc, started time.Time) {
	msg := userMessage(cause)
	now := o.now()

	owned, err := o.commitTerminal(ctx, logger, commit, func(tx store.Tx) error {
		cur, err := tx.GetItem(item.ID)
		if err != nil {
			return err
		}
		if err := cur.Transition(model.StatusFailed, now); err != nil {
			return err
		}
		cur.ErrorMessage = msg
		if !o.cfg.RecordFailures {
			return tx.PutItem(cur)
		}

		entry := newHistoryEntry(cur, info, now)
		entry.Status = model.StatusFailed
		entry.ErrorMessage = msg
		if err := tx.PutHistory(entry); err != nil {
			return err
		}
		return tx.DeleteItem(cur.ID)
	})
	if !owned {
		o.interrupted(ctx, logger, reporter, "")
		return
	}
	if err != nil {
		logger.Error("failed to record download failure", slog.String("error", err.Error()))
		reporter.Finish(model.StatusDownloading)
		downloadsTotal.WithLabelValues(outcomeAbandoned).Inc()
		return
	}

	reporter.Finish(model.StatusFailed)
	downloadsTotal.WithLabelValues(outcomeFailed).Inc()
	downloadDuration.Observe(o.now().Sub(started).Seconds())
	logger.Warn("download failed", slog.String("reason", msg), slog.String("error", cause.Error()))
}

// commitTerminal writes the final state of a run. Store failures are retried
// with a growing backoff while the run keeps its slot, so the job never sits
// in Downloading without occupying one. It gives up after one last attempt
// once ctx ends; the next Start recovers whatever is still Downloading.
func (o *Orchestrator) commitTerminal(ctx context.Context, logger *slog.Logger, commit commitFunc, fn func(tx store.Tx) error) (bool, error) {
	backoff := o.cfg.ArchiveBackoff
	for attempt := 1; ; attempt++ {
		owned, err := commit(context.WithoutCancel(ctx), fn)
		var se *store.Error
		if !owned || err == nil || !errors.As(err, &se) {
			return owned, err
		}

		logger.Warn("failed to write final state, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return commit(context.WithoutCancel(ctx), fn)
		}
		backoff = min(backoff*2, maxArchiveBackoff)
	}
}

// interrupted handles a run whose context was cancelled. The store was
// already updated by whoever cancelled it.
func (o *Orchestrator) interrupted(ctx context.Context, logger *slog.Logger, reporter *ProgressReporter, lastFile string) {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrCancelled):
		reporter.Finish(model.StatusCancelled)
		downloadsTotal.WithLabelValues(outcomeCancelled).Inc()
		if o.cfg.CleanupPartials && lastFile != "" {
			removed := platform.RemovePartialFiles(lastFile)
			logger.Debug("removed partial files", slog.Int("count", removed))
		}
		logger.Info("download cancelled")
	case errors.Is(cause, ErrPaused):
		reporter.Finish(model.StatusPaused)
		downloadsTotal.WithLabelValues(outcomePaused).Inc()
		logger.Info("download paused")
	default:
		reporter.Finish(model.StatusDownloading)
		downloadsTotal.WithLabelValues(outcomeAbandoned).Inc()
		logger.Info("download interrupted", slog.Any("cause", cause))
	}
}

func newHistoryEntry(item *model.QueueItem, info *model.MediaInfo, now time.Time) *model.HistoryEntry {
	entry := &model.HistoryEntry{
		ID:             item.ID,
		URL:            item.URL,
		URLKey:         platform.NormalizeURL(item.URL),
		Title:          item.Title,
		FormatSelector: item.FormatSelector,
		DownloadedAt:   now,
	}
	if info != nil {
		if entry.Title == "" {
			entry.Title = info.Title
		}
		entry.Duration = info.Duration
		entry.Uploader = info.Uploader
	}
	return entry
}

// verifyOutput checks the reported file and falls back to a similarly named
// file in the same directory.
func verifyOutput(path string) (string, int64, error) {
	size, err := platform.VerifyDownloadedFile(path)
	if err == nil {
		return path, size, nil
	}

	alt, ferr := platform.FindFileWithFallback(path)
	if ferr != nil || alt == path {
		return path, 0, err
	}
	size, err = platform.VerifyDownloadedFile(alt)
	if err != nil {
		return alt, 0, fmt.Errorf("failed to verify %s: %w", alt, err)
	}
	return alt, size, nil
}

// userMessage returns the user-safe description of a job failure
func userMessage(err error) string {
	var ee *engine.ExtractionError
	if errors.As(err, &ee) && ee.Message != "" {
		return ee.Message
	}
	var de *engine.DownloadError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return engine.Sanitize(err)
}
